package broker

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/robustmq/robustmq/internal/types"
	"github.com/robustmq/robustmq/pkg/config"
	"github.com/robustmq/robustmq/pkg/log"
)

// DynamicCache holds the broker-side view of meta-replicated state that
// can change at runtime: the versioned ClusterConfig overrides and the
// active topic-rewrite rule set. It is kept current by feeding it the
// same types.Event stream internal/meta's Broadcaster fans out, rather
// than re-reading meta on every access.
type DynamicCache struct {
	mu      sync.RWMutex
	cluster config.ClusterConfig
	version uint64

	rewrite *RewriteEngine
	topics  atomic.Int64 // count of known topics, exposed for metrics
}

func NewDynamicCache(rewrite *RewriteEngine) *DynamicCache {
	return &DynamicCache{rewrite: rewrite}
}

// Bootstrap seeds the cache from a freshly loaded snapshot, called once
// at startup before the broker accepts connections.
func (c *DynamicCache) Bootstrap(cluster config.ClusterConfig, rules []types.TopicRewriteRule) {
	c.mu.Lock()
	c.cluster = cluster
	c.version = cluster.Version
	c.mu.Unlock()
	c.rewrite.SetRules(rules)
}

// ClusterConfig returns the current dynamic ClusterConfig snapshot.
func (c *DynamicCache) ClusterConfig() config.ClusterConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cluster
}

// Apply folds one meta-broadcast event into the cache. Unknown resource
// types are ignored rather than erroring, since new resource kinds may
// be broadcast by a newer meta than this broker understands.
func (c *DynamicCache) Apply(event types.Event) {
	switch event.ResourceType {
	case types.ResourceClusterConfig:
		c.applyClusterConfig(event)
	case types.ResourceTopicRewriteRule:
		c.applyRewriteRules(event)
	case types.ResourceTopic:
		c.applyTopicCount(event)
	default:
	}
}

func (c *DynamicCache) applyClusterConfig(event types.Event) {
	if event.ActionType == types.EventActionDelete {
		return
	}
	var cfg config.ClusterConfig
	if err := json.Unmarshal(event.Payload, &cfg); err != nil {
		log.WithComponent("broker.dynamiccache").Error().Err(err).Msg("failed to decode cluster config event")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.Version < c.version {
		return // stale event, already superseded
	}
	c.cluster = cfg
	c.version = cfg.Version
}

func (c *DynamicCache) applyRewriteRules(event types.Event) {
	if event.ActionType == types.EventActionDelete {
		return
	}
	var rules []types.TopicRewriteRule
	if err := json.Unmarshal(event.Payload, &rules); err != nil {
		log.WithComponent("broker.dynamiccache").Error().Err(err).Msg("failed to decode topic rewrite rules event")
		return
	}
	c.rewrite.SetRules(rules)
}

func (c *DynamicCache) applyTopicCount(event types.Event) {
	switch event.ActionType {
	case types.EventActionCreate:
		c.topics.Add(1)
	case types.EventActionDelete:
		c.topics.Add(-1)
	}
}

// TopicCount returns the current number of known topics.
func (c *DynamicCache) TopicCount() int64 {
	return c.topics.Load()
}
