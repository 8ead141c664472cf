// Package types holds the data model shared across the meta, journal, and
// broker engines: nodes, shards, segments, records, MQTT sessions and
// subscriptions, and the events meta broadcasts to keep them in sync.
package types

import "time"

// Node is a cluster member registered with meta: a broker, journal node,
// or a process running both roles.
type Node struct {
	NodeID       uint64            `json:"node_id"`
	ClusterName  string            `json:"cluster_name"`
	NodeIP       string            `json:"node_ip"`
	InnerRPCAddr string            `json:"inner_rpc_addr"`
	Extend       map[string]string `json:"extend,omitempty"`
	CreateTime   time.Time         `json:"create_time"`
}

// EventActionType classifies a cache-invalidation event's effect.
type EventActionType string

const (
	EventActionCreate EventActionType = "create"
	EventActionUpdate EventActionType = "update"
	EventActionDelete EventActionType = "delete"
)

// EventResourceType names the kind of record a cache-invalidation event
// carries. Apply handlers at the target switch on this.
type EventResourceType string

const (
	ResourceNode             EventResourceType = "node"
	ResourceShard            EventResourceType = "shard"
	ResourceSegment          EventResourceType = "segment"
	ResourceSegmentMeta      EventResourceType = "segment_meta"
	ResourceClusterConfig    EventResourceType = "cluster_config"
	ResourceUser             EventResourceType = "user"
	ResourceACL              EventResourceType = "acl"
	ResourceBlacklist        EventResourceType = "blacklist"
	ResourceTopic            EventResourceType = "topic"
	ResourceSession          EventResourceType = "session"
	ResourceSubscription     EventResourceType = "subscription"
	ResourceConnector        EventResourceType = "connector"
	ResourceAutoSubscribe    EventResourceType = "auto_subscribe"
	ResourceTopicRewriteRule EventResourceType = "topic_rewrite_rule"
	ResourceLastWill         EventResourceType = "last_will"
)

// Event is the cache-invalidation event meta's Broadcaster fans out to
// its registered targets. Payload carries the value the command wrote
// (empty for deletes). Delivery is not retried, and journal.Cache.Apply
// folds in shard and segment updates but ignores delete events.
type Event struct {
	ResourceType EventResourceType `json:"resource_type"`
	ActionType   EventActionType   `json:"action_type"`
	Payload      []byte            `json:"payload"`
}
