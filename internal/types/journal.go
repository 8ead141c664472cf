package types

import (
	"strconv"
	"time"
)

// ShardStatus is the lifecycle state of a shard.
type ShardStatus string

const (
	ShardStatusRun           ShardStatus = "run"
	ShardStatusPrepareDelete ShardStatus = "prepare_delete"
	ShardStatusDeleting      ShardStatus = "deleting"
)

// Shard is an ordered, unbounded sequence of segments, identified by
// (cluster, namespace, shard_name).
type Shard struct {
	Cluster          string      `json:"cluster"`
	Namespace        string      `json:"namespace"`
	ShardName        string      `json:"shard_name"`
	ReplicaCount     uint32      `json:"replica_count"`
	ActiveSegmentSeq uint32      `json:"active_segment_seq"`
	StartSegmentSeq  uint32      `json:"start_segment_seq"`
	LastSegmentSeq   uint32      `json:"last_segment_seq"`
	Status           ShardStatus `json:"status"`
}

// Name returns the shard's identity string "namespace/shard_name", which
// forms the leading component of every segment_name.
func (s Shard) Name() string {
	return s.Namespace + "/" + s.ShardName
}

// SegmentStatus is the lifecycle state of a segment, per the file-backed
// write/seal/delete FSM.
type SegmentStatus string

const (
	SegmentIdle        SegmentStatus = "idle"
	SegmentPreWrite     SegmentStatus = "pre_write"
	SegmentWrite        SegmentStatus = "write"
	SegmentPreSealUp    SegmentStatus = "pre_seal_up"
	SegmentSealUp       SegmentStatus = "seal_up"
	SegmentPreDelete    SegmentStatus = "pre_delete"
	SegmentDeleting     SegmentStatus = "deleting"
)

// SegmentReplica names one node responsible for storing a segment's file
// and its on-disk fold (directory) path on that node.
type SegmentReplica struct {
	NodeID     uint64 `json:"node_id"`
	ReplicaSeq uint32 `json:"replica_seq"`
	Fold       string `json:"fold"`
}

// Segment is one file-backed slice of a shard's record stream.
type Segment struct {
	Cluster       string           `json:"cluster"`
	Namespace     string           `json:"namespace"`
	ShardName     string           `json:"shard_name"`
	SegmentSeq    uint32           `json:"segment_seq"`
	Replicas      []SegmentReplica `json:"replicas"`
	LeaderNodeID  uint64           `json:"leader_node_id"`
	Status        SegmentStatus    `json:"status"`
	CreateTime    time.Time        `json:"create_time"`
}

// SegmentName returns "namespace/shard_name/segment_seq", matching spec's
// segment_name = shard + "/" + seq naming rule.
func (s Segment) SegmentName() string {
	return s.Namespace + "/" + s.ShardName + "/" + strconv.FormatUint(uint64(s.SegmentSeq), 10)
}

// SegmentMeta tracks the offset/timestamp range a segment currently
// covers. -1 in either offset field means "unset"; for the active
// segment EndOffset stays -1 until sealing.
type SegmentMeta struct {
	Cluster        string `json:"cluster"`
	Namespace      string `json:"namespace"`
	ShardName      string `json:"shard_name"`
	SegmentSeq     uint32 `json:"segment_seq"`
	StartOffset    int64  `json:"start_offset"`
	EndOffset      int64  `json:"end_offset"`
	StartTimestamp int64  `json:"start_timestamp"`
	EndTimestamp   int64  `json:"end_timestamp"`
}

// UnsetOffset is the sentinel value for "not yet known" in SegmentMeta's
// offset/timestamp fields.
const UnsetOffset int64 = -1

// Record is one shard-level entry, appended sequentially to a segment
// file as [offset:u64][length:u32][JSON-encoded body]; the body is not
// protobuf (see journal.EncodeRecord). Offset is
// monotonically non-decreasing within a shard and strictly increasing
// within a segment.
type Record struct {
	Offset     uint64    `json:"offset"`
	Segment    uint32    `json:"segment"`
	Namespace  string    `json:"namespace"`
	ShardName  string    `json:"shard_name"`
	Key        string    `json:"key"`
	Content    []byte    `json:"content"`
	Tags       []string  `json:"tags,omitempty"`
	CreateTime uint64    `json:"create_time"`
}

// IndexEntry is the value stored for position/key/tag index lookups: the
// coordinates needed to re-read a record directly from its segment file.
type IndexEntry struct {
	Segment   uint32 `json:"segment"`
	Offset    uint64 `json:"offset"`
	Position  int64  `json:"position"`
	Timestamp uint64 `json:"timestamp,omitempty"`
}
