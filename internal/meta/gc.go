package meta

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robustmq/robustmq/internal/kv"
	"github.com/robustmq/robustmq/internal/types"
	"github.com/robustmq/robustmq/pkg/log"
)

// JournalGCClient is the subset of the journal inner RPC surface the GC
// loop needs: tell a journal node to delete a shard/segment's on-disk
// files, then poll until it confirms the deletion finished. No type in
// this repository outside the tests implements it, and no cmd starts a
// GCLoop.
type JournalGCClient interface {
	DeleteShardFile(ctx context.Context, nodeAddr string, cluster, namespace, shardName string) error
	ShardDeleteStatus(ctx context.Context, nodeAddr string, cluster, namespace, shardName string) (bool, error)
	DeleteSegmentFile(ctx context.Context, nodeAddr string, cluster, namespace, shardName string, seq uint32) error
	SegmentDeleteStatus(ctx context.Context, nodeAddr string, cluster, namespace, shardName string, seq uint32) (bool, error)
}

// GCLoop periodically sweeps shards and segments marked for deletion,
// instructs every replica's journal node to remove the backing files,
// and only finalizes the KV record once every replica confirms.
type GCLoop struct {
	node      *Node
	client    JournalGCClient
	interval  time.Duration
	stopCh    chan struct{}
}

// NewGCLoop builds a GC loop bound to node's KV store and Apply path.
func NewGCLoop(node *Node, client JournalGCClient, interval time.Duration) *GCLoop {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &GCLoop{node: node, client: client, interval: interval, stopCh: make(chan struct{})}
}

// Start runs the sweep on a ticker until Stop is called. A no-op when
// this node isn't the Raft leader — every node runs the loop, but only
// the leader's sweeps do anything, since Apply rejects writes elsewhere.
func (g *GCLoop) Start() {
	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if g.node.IsLeader() {
					g.sweepShards()
					g.sweepSegments()
				}
			case <-g.stopCh:
				return
			}
		}
	}()
}

func (g *GCLoop) Stop() {
	close(g.stopCh)
}

func (g *GCLoop) sweepShards() {
	var shards []types.Shard
	err := g.node.store.ForEach(kv.CFMeta, func(key string, value []byte) bool {
		var s types.Shard
		if json.Unmarshal(value, &s) == nil && s.Status == types.ShardStatusPrepareDelete {
			shards = append(shards, s)
		}
		return true
	})
	if err != nil {
		log.Error("gc: scan shards: " + err.Error())
		return
	}

	for _, shard := range shards {
		g.collectShard(shard)
	}
}

func (g *GCLoop) collectShard(shard types.Shard) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	nodeAddrs := g.replicaAddrsForShard(shard)

	allDone := true
	for _, addr := range nodeAddrs {
		if err := g.client.DeleteShardFile(ctx, addr, shard.Cluster, shard.Namespace, shard.ShardName); err != nil {
			log.Error("gc: delete shard file on " + addr + ": " + err.Error())
			allDone = false
			continue
		}
		done, err := g.client.ShardDeleteStatus(ctx, addr, shard.Cluster, shard.Namespace, shard.ShardName)
		if err != nil || !done {
			allDone = false
		}
	}

	if !allDone {
		return
	}

	shardKey := kv.ShardKey(shard.Cluster, shard.Namespace, shard.ShardName)
	if err := g.node.Apply(Command{Op: OpDeleteShard, Key: shardKey}); err != nil {
		log.Error("gc: finalize shard delete: " + err.Error())
	}
}

func (g *GCLoop) sweepSegments() {
	var segments []types.Segment
	err := g.node.store.ForEach(kv.CFMeta, func(key string, value []byte) bool {
		var s types.Segment
		if json.Unmarshal(value, &s) == nil && s.Status == types.SegmentPreDelete {
			segments = append(segments, s)
		}
		return true
	})
	if err != nil {
		log.Error("gc: scan segments: " + err.Error())
		return
	}

	for _, seg := range segments {
		g.collectSegment(seg)
	}
}

func (g *GCLoop) collectSegment(seg types.Segment) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	allDone := true
	for _, rep := range seg.Replicas {
		addr := g.nodeAddr(seg.Cluster, rep.NodeID)
		if addr == "" {
			continue
		}
		if err := g.client.DeleteSegmentFile(ctx, addr, seg.Cluster, seg.Namespace, seg.ShardName, seg.SegmentSeq); err != nil {
			log.Error("gc: delete segment file on " + addr + ": " + err.Error())
			allDone = false
			continue
		}
		done, err := g.client.SegmentDeleteStatus(ctx, addr, seg.Cluster, seg.Namespace, seg.ShardName, seg.SegmentSeq)
		if err != nil || !done {
			allDone = false
		}
	}

	if !allDone {
		return
	}

	segKey := kv.SegmentKey(seg.Cluster, seg.Namespace, seg.ShardName, seg.SegmentSeq)
	if err := g.node.Apply(Command{Op: OpDeleteSegment, Key: segKey}); err != nil {
		log.Error("gc: finalize segment delete: " + err.Error())
		return
	}

	metaKey := kv.SegmentMetaKey(seg.Cluster, seg.Namespace, seg.ShardName, seg.SegmentSeq)
	if err := g.node.Apply(Command{Op: OpDeleteSegmentMeta, Key: metaKey}); err != nil {
		log.Error("gc: finalize segment meta delete: " + err.Error())
	}
}

func (g *GCLoop) replicaAddrsForShard(shard types.Shard) []string {
	var addrs []string
	err := g.node.store.PrefixScan(kv.CFMeta, kv.SegmentPrefix(shard.Cluster, shard.Namespace, shard.ShardName), func(key string, value []byte) bool {
		var seg types.Segment
		if json.Unmarshal(value, &seg) != nil {
			return true
		}
		for _, rep := range seg.Replicas {
			if addr := g.nodeAddr(shard.Cluster, rep.NodeID); addr != "" {
				addrs = append(addrs, addr)
			}
		}
		return true
	})
	if err != nil {
		log.Error("gc: scan segments for shard: " + err.Error())
	}
	return dedupeStrings(addrs)
}

func (g *GCLoop) nodeAddr(cluster string, nodeID uint64) string {
	raw, ok, err := g.node.store.Get(kv.CFMeta, kv.NodeKey(cluster, nodeID))
	if err != nil || !ok {
		return ""
	}
	var n types.Node
	if json.Unmarshal(raw, &n) != nil {
		return ""
	}
	return n.InnerRPCAddr
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
