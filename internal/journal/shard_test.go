package journal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robustmq/robustmq/internal/kv"
	"github.com/robustmq/robustmq/internal/types"
)

type fakeReplicationClient struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeReplicationClient) ReplicateAppend(ctx context.Context, nodeAddr string, rec types.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, nodeAddr)
	return nil
}

func (f *fakeReplicationClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestShardCoordinatorProduceAppendsLocally(t *testing.T) {
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cache := NewCache()
	seedWritableShard(cache, "ns", "s1")
	writer := NewWriter(t.TempDir(), store, cache)

	coord := NewShardCoordinator(1, cache, writer, nil, nil)
	offset, err := coord.Produce("ns", "s1", "k1", []byte("hi"), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), offset)
}

func TestShardCoordinatorReplicatesToOtherReplicas(t *testing.T) {
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cache := NewCache()
	cache.SetShard(types.Shard{Namespace: "ns", ShardName: "s1", ActiveSegmentSeq: 0, Status: types.ShardStatusRun})
	cache.SetSegment(types.Segment{
		Namespace: "ns", ShardName: "s1", SegmentSeq: 0, Status: types.SegmentWrite, LeaderNodeID: 1,
		Replicas: []types.SegmentReplica{{NodeID: 1}, {NodeID: 2}, {NodeID: 3}},
	}, 1)
	writer := NewWriter(t.TempDir(), store, cache)

	client := &fakeReplicationClient{}
	resolve := func(nodeID uint64) (string, bool) {
		if nodeID == 1 {
			return "", false
		}
		return "127.0.0.1:900" + string(rune('0'+nodeID)), true
	}

	coord := NewShardCoordinator(1, cache, writer, client, resolve)
	_, err = coord.Produce("ns", "s1", "k1", []byte("hi"), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return client.callCount() == 2 }, time.Second, 10*time.Millisecond)
}

func TestShardCoordinatorSkipsReplicationWithoutClient(t *testing.T) {
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cache := NewCache()
	seedWritableShard(cache, "ns", "s1")
	writer := NewWriter(t.TempDir(), store, cache)

	coord := NewShardCoordinator(1, cache, writer, nil, nil)
	_, err = coord.Produce("ns", "s1", "k1", []byte("hi"), nil)
	require.NoError(t, err)
	require.Equal(t, 0, coord.PendingReplications("ns/s1/0"))
}
