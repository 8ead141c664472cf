package broker

import (
	"strconv"
	"sync"
	"time"

	"github.com/robustmq/robustmq/internal/types"
)

// pkidLimit is MQTT's packet identifier range: a 16-bit, non-zero value.
const pkidLimit = 1 << 16

// PKIDAllocator hands out MQTT packet identifiers in the range 1..=65535,
// scoped per connection per direction (a client's inbound QoS-2 flow and
// a broker's outbound QoS-1/2 flow each get their own allocator instance),
// wrapping back to 1 once the range is exhausted and skipping any value
// still in flight.
type PKIDAllocator struct {
	mu      sync.Mutex
	next    uint16
	inFlight map[uint16]struct{}
}

func NewPKIDAllocator() *PKIDAllocator {
	return &PKIDAllocator{next: 1, inFlight: make(map[uint16]struct{})}
}

// Allocate returns the next free packet identifier, or false if every one
// of the 65535 available values is currently in flight.
func (a *PKIDAllocator) Allocate() (uint16, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < pkidLimit-1; i++ {
		candidate := a.next
		a.next++
		if a.next == 0 {
			a.next = 1
		}
		if _, busy := a.inFlight[candidate]; !busy {
			a.inFlight[candidate] = struct{}{}
			return candidate, true
		}
	}
	return 0, false
}

// Release returns a packet identifier to the free pool, called once its
// QoS handshake completes (PUBACK, or PUBCOMP for QoS 2).
func (a *PKIDAllocator) Release(pkid uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inFlight, pkid)
}

// AckRegistry parks one *types.AckInfo per (client_id, pkid) awaiting
// PUBACK/PUBREC/PUBCOMP, and wakes the parked delivery loop via its
// Notify channel when the ack arrives or when AbandonAll clears the
// client's entries. A single Abandon removes an entry without waking it.
type AckRegistry struct {
	mu      sync.Mutex
	entries map[string]*types.AckInfo
}

func NewAckRegistry() *AckRegistry {
	return &AckRegistry{entries: make(map[string]*types.AckInfo)}
}

func ackKey(clientID string, pkid uint16) string {
	return clientID + "\x00" + strconv.FormatUint(uint64(pkid), 10)
}

// Register parks an ack wait for (clientID, pkid), returning the channel
// the caller should block on.
func (r *AckRegistry) Register(clientID string, pkid uint16) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := &types.AckInfo{ClientID: clientID, PKID: pkid, Notify: make(chan struct{}), CreateTime: time.Now()}
	r.entries[ackKey(clientID, pkid)] = info
	return info.Notify
}

// Ack signals a parked wait for (clientID, pkid), if one exists, and
// removes it from the registry. Returns false if no such entry was
// waiting (e.g. a duplicate or unexpected ack).
func (r *AckRegistry) Ack(clientID string, pkid uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ackKey(clientID, pkid)
	info, ok := r.entries[key]
	if !ok {
		return false
	}
	delete(r.entries, key)
	close(info.Notify)
	return true
}

// Abandon removes a parked wait without signalling it, used when a
// connection is torn down mid-handshake.
func (r *AckRegistry) Abandon(clientID string, pkid uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, ackKey(clientID, pkid))
}

// AbandonAll removes and closes every parked wait for clientID, used on
// disconnect so any goroutine blocked on Notify wakes up instead of
// leaking.
func (r *AckRegistry) AbandonAll(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, info := range r.entries {
		if info.ClientID == clientID {
			delete(r.entries, key)
			close(info.Notify)
		}
	}
}
