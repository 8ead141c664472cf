package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robustmq/robustmq/internal/types"
	"github.com/robustmq/robustmq/pkg/log"
)

// ReplicationClient pushes one record to a follower replica of a
// segment this node leads. Replication is best-effort and asynchronous:
// the leader acks a produce request once its own append is durable, and
// catches followers up in the background, matching the replicas list's
// role as "where this segment's bytes also live" rather than a
// synchronous quorum write.
type ReplicationClient interface {
	ReplicateAppend(ctx context.Context, nodeAddr string, rec types.Record) error
}

// replicaAddr resolves a node ID to a dialable address. The resolver
// cmd/journal-server passes asks meta's NodeList on every lookup.
type replicaAddr func(nodeID uint64) (string, bool)

// ShardCoordinator is the entry point for producing to one shard: it
// resolves the shard's active segment, performs the local durable
// append via Writer, then fans the record out to the segment's other
// replicas so they stay caught up.
type ShardCoordinator struct {
	localNodeID uint64
	cache       *Cache
	writer      *Writer
	replClient  ReplicationClient
	resolveAddr replicaAddr

	mu      sync.Mutex
	pending map[string]int // segment_name -> in-flight replication fan-outs, for backpressure visibility
}

func NewShardCoordinator(localNodeID uint64, cache *Cache, writer *Writer, replClient ReplicationClient, resolveAddr replicaAddr) *ShardCoordinator {
	return &ShardCoordinator{
		localNodeID: localNodeID,
		cache:       cache,
		writer:      writer,
		replClient:  replClient,
		resolveAddr: resolveAddr,
		pending:     make(map[string]int),
	}
}

// Produce appends one record to a shard's active segment and fans it out
// to the segment's other replicas. It does not check that this node
// leads that segment: Writer.Append rejects the write only when the
// shard or its active segment is missing from the cache or the segment
// is not in write status.
func (c *ShardCoordinator) Produce(namespace, shardName, key string, content []byte, tags []string) (uint64, error) {
	offset, err := c.writer.Append(namespace, shardName, key, content, tags)
	if err != nil {
		return 0, err
	}

	shard, ok := c.cache.GetShard(namespace, shardName)
	if !ok {
		return offset, nil
	}
	seg, ok := c.cache.GetSegment(namespace, shardName, shard.ActiveSegmentSeq)
	if !ok {
		return offset, nil
	}

	rec := types.Record{
		Offset: offset, Segment: seg.SegmentSeq, Namespace: namespace, ShardName: shardName,
		Key: key, Content: content, Tags: tags, CreateTime: uint64(time.Now().Unix()),
	}
	c.replicateAsync(seg, rec)
	return offset, nil
}

func (c *ShardCoordinator) replicateAsync(seg types.Segment, rec types.Record) {
	if c.replClient == nil {
		return
	}
	name := seg.SegmentName()
	for _, replica := range seg.Replicas {
		if replica.NodeID == c.localNodeID {
			continue
		}
		addr, ok := c.resolveAddr(replica.NodeID)
		if !ok {
			log.Warn(fmt.Sprintf("replicate %s: no known address for node %d", name, replica.NodeID))
			continue
		}

		c.mu.Lock()
		c.pending[name]++
		c.mu.Unlock()

		go func(addr string, rec types.Record) {
			defer func() {
				c.mu.Lock()
				c.pending[name]--
				c.mu.Unlock()
			}()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.replClient.ReplicateAppend(ctx, addr, rec); err != nil {
				log.Error(fmt.Sprintf("replicate %s to %s: %s", name, addr, err.Error()))
			}
		}(addr, rec)
	}
}

// PendingReplications reports how many in-flight replication RPCs a
// segment currently has outstanding, for tests and diagnostics.
func (c *ShardCoordinator) PendingReplications(segmentName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[segmentName]
}
