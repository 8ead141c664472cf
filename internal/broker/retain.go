package broker

import (
	"sync"
	"time"

	"github.com/robustmq/robustmq/internal/types"
)

// RetainStorage is the durable backing store for retained messages,
// implemented by internal/client against meta's SetTopicRetainMessage /
// resource-config RPCs.
type RetainStorage interface {
	GetRetainMessage(cluster, topic string) (*types.RetainedMessage, error)
	SetRetainMessage(cluster, topic string, msg types.RetainedMessage) error
	DeleteRetainMessage(cluster, topic string) error
}

const retainFreshnessTTL = 5 * time.Second

type retainCacheEntry struct {
	msg      *types.RetainedMessage // nil means "known absent"
	fetchedAt time.Time
}

// RetainStore fronts RetainStorage with an in-memory map so most reads
// never leave the process; entries older than retainFreshnessTTL are
// lazily reloaded from storage on next access rather than evicted
// proactively.
type RetainStore struct {
	mu      sync.RWMutex
	cluster string
	backing RetainStorage
	cache   map[string]retainCacheEntry
}

func NewRetainStore(cluster string, backing RetainStorage) *RetainStore {
	return &RetainStore{cluster: cluster, backing: backing, cache: make(map[string]retainCacheEntry)}
}

// Set persists a retained message. An empty payload deletes any
// existing retained message for the topic, per MQTT's retain semantics.
func (r *RetainStore) Set(topic string, msg types.RetainedMessage) error {
	if len(msg.Payload) == 0 {
		return r.Delete(topic)
	}
	if err := r.backing.SetRetainMessage(r.cluster, topic, msg); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m := msg
	r.cache[topic] = retainCacheEntry{msg: &m, fetchedAt: time.Now()}
	return nil
}

func (r *RetainStore) Delete(topic string) error {
	if err := r.backing.DeleteRetainMessage(r.cluster, topic); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[topic] = retainCacheEntry{msg: nil, fetchedAt: time.Now()}
	return nil
}

// Get returns the retained message for topic, if any. A cache hit fresh
// within retainFreshnessTTL is returned without consulting storage.
func (r *RetainStore) Get(topic string) (*types.RetainedMessage, error) {
	r.mu.RLock()
	entry, ok := r.cache[topic]
	r.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < retainFreshnessTTL {
		return entry.msg, nil
	}

	msg, err := r.backing.GetRetainMessage(r.cluster, topic)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.cache[topic] = retainCacheEntry{msg: msg, fetchedAt: time.Now()}
	r.mu.Unlock()
	return msg, nil
}

// MatchingRetained returns the retained message for every topic in
// topics that currently has one, for SUBSCRIBE-time retained delivery.
func (r *RetainStore) MatchingRetained(topics []string) ([]types.RetainedMessage, error) {
	var out []types.RetainedMessage
	for _, topic := range topics {
		msg, err := r.Get(topic)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			out = append(out, *msg)
		}
	}
	return out, nil
}
