package kv

import "strconv"

// Deterministic string keys under the CFMeta column family, per the
// external KV key scheme. Raft's own state keys live in CFRaftLog.

func RaftFirstIndexKey() string { return "metasrv_first_index" }
func RaftLastIndexKey() string  { return "metasrv_last_index" }
func RaftHardStateKey() string  { return "metasrv_hard_state" }
func RaftConfStateKey() string  { return "metasrv_conf_state" }

func RaftEntryKey(idx uint64) string {
	return "metasrv_entry_" + strconv.FormatUint(idx, 10)
}

func RaftUncommitKey(idx uint64) string {
	return "metasrv_uncommit_" + strconv.FormatUint(idx, 10)
}

func NodeKey(cluster string, nodeID uint64) string {
	return "/cluster/nodes/" + cluster + "/" + strconv.FormatUint(nodeID, 10)
}

func NodePrefix(cluster string) string {
	return "/cluster/nodes/" + cluster + "/"
}

func ShardKey(cluster, namespace, shardName string) string {
	return "/cluster/shard/" + cluster + "/" + namespace + "/" + shardName
}

func ShardPrefix(cluster string) string {
	return "/cluster/shard/" + cluster + "/"
}

func SegmentKey(cluster, namespace, shardName string, seq uint32) string {
	return "/cluster/segment/" + cluster + "/" + namespace + "/" + shardName + "/" + strconv.FormatUint(uint64(seq), 10)
}

func SegmentPrefix(cluster, namespace, shardName string) string {
	return "/cluster/segment/" + cluster + "/" + namespace + "/" + shardName + "/"
}

func SegmentMetaKey(cluster, namespace, shardName string, seq uint32) string {
	return "/cluster/segment_meta/" + cluster + "/" + namespace + "/" + shardName + "/" + strconv.FormatUint(uint64(seq), 10)
}

func SegmentMetaPrefix(cluster, namespace, shardName string) string {
	return "/cluster/segment_meta/" + cluster + "/" + namespace + "/" + shardName + "/"
}

func MQTTUserKey(cluster, username string) string {
	return "/mqtt/user/" + cluster + "/" + username
}

func MQTTUserPrefix(cluster string) string {
	return "/mqtt/user/" + cluster + "/"
}

func MQTTACLKey(cluster, resourceName string) string {
	return "/mqtt/acl/" + cluster + "/" + resourceName
}

func MQTTBlacklistKey(cluster, resourceName string) string {
	return "/mqtt/blacklist/" + cluster + "/" + resourceName
}

func MQTTTopicKey(cluster, topicName string) string {
	return "/mqtt/topic/" + cluster + "/" + topicName
}

func MQTTSessionKey(cluster, clientID string) string {
	return "/mqtt/session/" + cluster + "/" + clientID
}

func MQTTSubscriptionKey(cluster, clientID, path string) string {
	return "/mqtt/sub/" + cluster + "/" + clientID + "/" + path
}

func MQTTSubscriptionPrefix(cluster, clientID string) string {
	return "/mqtt/sub/" + cluster + "/" + clientID + "/"
}

func MQTTLastWillKey(clientID string) string {
	return "/mqtt/lastwill/" + clientID
}

func MQTTTopicRewriteKey(cluster, ruleName string) string {
	return "/mqtt/topic_rewrite/" + cluster + "/" + ruleName
}

func MQTTAutoSubscribeKey(cluster, ruleName string) string {
	return "/mqtt/auto_sub/" + cluster + "/" + ruleName
}

func MQTTConnectorKey(cluster, connectorName string) string {
	return "/mqtt/connector/" + cluster + "/" + connectorName
}

func SchemaKey(cluster, schemaName string) string {
	return "/schema/" + cluster + "/" + schemaName
}

func OffsetKey(groupID, shard string) string {
	return "/offset/" + groupID + "/" + shard
}

func IdempotentKey(cluster, producer string, seq uint64) string {
	return "/idempotent/" + cluster + "/" + producer + "/" + strconv.FormatUint(seq, 10)
}

// NodeSubGroupLeaderKey holds, per cluster, the JSON map node_id -> [group_name]
// of share-subscription group leader assignments.
func NodeSubGroupLeaderKey(cluster string) string {
	return "/node_sub_group_leader/" + cluster
}

// Index keys, used within internal/journal against CFPosition/CFKey/CFTag/CFTimestamp.
// segBase identifies a shard or a specific segment within it.

func segBaseShard(namespace, shardName string) string {
	return namespace + "/" + shardName
}

func segBaseSegment(namespace, shardName string, seq uint32) string {
	return namespace + "/" + shardName + "/" + strconv.FormatUint(uint64(seq), 10)
}

func PositionIndexKey(namespace, shardName string, seq uint32, offset uint64) string {
	return segBaseSegment(namespace, shardName, seq) + "/" + strconv.FormatUint(offset, 10)
}

func PositionIndexPrefix(namespace, shardName string, seq uint32) string {
	return segBaseSegment(namespace, shardName, seq) + "/"
}

func KeyIndexKey(namespace, shardName, recordKey string) string {
	return segBaseShard(namespace, shardName) + "/" + recordKey
}

func TagIndexKey(namespace, shardName, tag string, offset uint64) string {
	return segBaseShard(namespace, shardName) + "/" + tag + "/" + strconv.FormatUint(offset, 10)
}

func TagIndexPrefix(namespace, shardName, tag string) string {
	return segBaseShard(namespace, shardName) + "/" + tag + "/"
}

func TimestampIndexKey(namespace, shardName string, seq uint32, timestamp uint64) string {
	return segBaseSegment(namespace, shardName, seq) + "/" + strconv.FormatUint(timestamp, 10)
}

func TimestampIndexPrefix(namespace, shardName string, seq uint32) string {
	return segBaseSegment(namespace, shardName, seq) + "/"
}
