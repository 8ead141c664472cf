package meta

import (
	"encoding/json"

	"github.com/robustmq/robustmq/internal/types"
)

// Operation is one of the closed command set's members. Categories from
// the command set: node, cluster/tenant, resource config, idempotent
// record, consumer offset, schema+bind, journal shard, journal segment,
// journal segment-metadata, MQTT user/ACL/blacklist/topic/session,
// last-will message, topic-rewrite-rule, subscription, connector,
// auto-subscribe rule, generic KV.
type Operation string

const (
	OpSetNode    Operation = "set_node"
	OpDeleteNode Operation = "delete_node"

	OpSetShard    Operation = "set_shard"
	OpDeleteShard Operation = "delete_shard"

	OpSetSegment    Operation = "set_segment"
	OpDeleteSegment Operation = "delete_segment"

	OpSetSegmentMeta    Operation = "set_segment_meta"
	OpDeleteSegmentMeta Operation = "delete_segment_meta"

	OpSetUser    Operation = "set_user"
	OpDeleteUser Operation = "delete_user"

	OpSetACL    Operation = "set_acl"
	OpDeleteACL Operation = "delete_acl"

	OpSetBlacklist    Operation = "set_blacklist"
	OpDeleteBlacklist Operation = "delete_blacklist"

	OpSetTopic    Operation = "set_topic"
	OpDeleteTopic Operation = "delete_topic"

	OpSetSession    Operation = "set_session"
	OpUpdateSession Operation = "update_session"
	OpDeleteSession Operation = "delete_session"

	OpSetSubscription    Operation = "set_subscription"
	OpDeleteSubscription Operation = "delete_subscription"

	OpSaveLastWill Operation = "save_last_will"

	OpSetTopicRewriteRule    Operation = "set_topic_rewrite_rule"
	OpDeleteTopicRewriteRule Operation = "delete_topic_rewrite_rule"

	OpSetAutoSubscribeRule    Operation = "set_auto_subscribe_rule"
	OpDeleteAutoSubscribeRule Operation = "delete_auto_subscribe_rule"

	OpSetConnector    Operation = "set_connector"
	OpDeleteConnector Operation = "delete_connector"

	OpSetOffset    Operation = "set_offset"
	OpDeleteOffset Operation = "delete_offset"

	OpSetIdempotent    Operation = "set_idempotent"
	OpDeleteIdempotent Operation = "delete_idempotent"

	// The schema+bind and resource-config categories have no ops of
	// their own: both are plain versioned KV blobs under their own key
	// prefixes, so they use the generic KV ops.
	OpSetKV    Operation = "set_kv"
	OpDeleteKV Operation = "delete_kv"
)

// Command is the opaque-bodied entry replicated through the Raft log.
// Key is the deterministic KV key (internal/kv/keys.go); Value is the
// JSON-encoded record, nil for deletes.
type Command struct {
	Op           Operation              `json:"op"`
	Key          string                 `json:"key"`
	Value        json.RawMessage        `json:"value,omitempty"`
	ResourceType types.EventResourceType `json:"resource_type,omitempty"`
}

// Encode marshals the command for submission to raft.Apply.
func (c Command) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// DecodeCommand unmarshals a raft.Log entry's Data back into a Command.
func DecodeCommand(data []byte) (Command, error) {
	var c Command
	err := json.Unmarshal(data, &c)
	return c, err
}
