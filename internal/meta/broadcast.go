package meta

import (
	"sync"

	"github.com/robustmq/robustmq/internal/types"
)

// Target is a per-node cache-invalidation subscription, handed out by
// Register. No RPC handler in this repository drains targets or
// forwards their events to broker or journal nodes, and nothing retries
// a node that has fallen behind; the Broadcaster only fans each event
// out to whichever targets are currently registered.
type Target chan types.Event

// Broadcaster fans FSM-applied cache-invalidation events out to every
// registered Target.
type Broadcaster struct {
	mu      sync.RWMutex
	targets map[uint64]Target

	eventCh chan types.Event
	stopCh  chan struct{}
}

// NewBroadcaster creates an idle broadcaster; call Start to begin
// draining published events.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		targets: make(map[uint64]Target),
		eventCh: make(chan types.Event, 1024),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the broadcaster's distribution loop.
func (b *Broadcaster) Start() {
	go b.run()
}

// Stop halts distribution and closes every registered target channel.
func (b *Broadcaster) Stop() {
	close(b.stopCh)

	b.mu.Lock()
	defer b.mu.Unlock()
	for nodeID, target := range b.targets {
		close(target)
		delete(b.targets, nodeID)
	}
}

// Register subscribes nodeID to future events, replacing any prior
// subscription for the same node.
func (b *Broadcaster) Register(nodeID uint64) Target {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.targets[nodeID]; ok {
		close(existing)
	}
	target := make(Target, 256)
	b.targets[nodeID] = target
	return target
}

// Unregister drops nodeID's subscription, typically once its stream
// handler observes the client disconnecting.
func (b *Broadcaster) Unregister(nodeID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if target, ok := b.targets[nodeID]; ok {
		close(target)
		delete(b.targets, nodeID)
	}
}

// Publish enqueues an event for distribution. Non-blocking: if the
// internal queue is full the event is dropped rather than stalling the
// FSM's Apply path, on the assumption that a node missing an
// invalidation will eventually reconcile via a later List/Get read.
func (b *Broadcaster) Publish(event types.Event) {
	select {
	case b.eventCh <- event:
	default:
	}
}

func (b *Broadcaster) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.fanOut(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broadcaster) fanOut(event types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, target := range b.targets {
		select {
		case target <- event:
		default:
			// target's buffer is full; it will catch up on next reconcile
		}
	}
}
