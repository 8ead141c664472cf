package journal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robustmq/robustmq/internal/kv"
	"github.com/robustmq/robustmq/internal/types"
)

func newTestWriter(t *testing.T) (*Writer, *Cache) {
	t.Helper()
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cache := NewCache()
	w := NewWriter(t.TempDir(), store, cache)
	return w, cache
}

func seedWritableShard(cache *Cache, namespace, shardName string) {
	cache.SetShard(types.Shard{Namespace: namespace, ShardName: shardName, ActiveSegmentSeq: 0, Status: types.ShardStatusRun})
	cache.SetSegment(types.Segment{Namespace: namespace, ShardName: shardName, SegmentSeq: 0, Status: types.SegmentWrite, LeaderNodeID: 1}, 1)
}

func TestWriterAppendAssignsIncreasingOffsets(t *testing.T) {
	w, cache := newTestWriter(t)
	seedWritableShard(cache, "ns", "s1")

	off0, err := w.Append("ns", "s1", "k1", []byte("hello"), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), off0)

	off1, err := w.Append("ns", "s1", "k2", []byte("world"), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), off1)
}

func TestWriterAppendRejectsMissingShard(t *testing.T) {
	w, _ := newTestWriter(t)
	_, err := w.Append("ns", "missing", "k", []byte("x"), nil)
	require.Error(t, err)
}

func TestWriterAppendRejectsNonWritableSegment(t *testing.T) {
	w, cache := newTestWriter(t)
	cache.SetShard(types.Shard{Namespace: "ns", ShardName: "s1", ActiveSegmentSeq: 0})
	cache.SetSegment(types.Segment{Namespace: "ns", ShardName: "s1", SegmentSeq: 0, Status: types.SegmentSealUp, LeaderNodeID: 1}, 1)

	_, err := w.Append("ns", "s1", "k", []byte("x"), nil)
	require.Error(t, err)
}

func TestWriterSetNextOffsetSeedsCounter(t *testing.T) {
	w, cache := newTestWriter(t)
	seedWritableShard(cache, "ns", "s1")

	w.SetNextOffset("ns", "s1", 42)
	off, err := w.Append("ns", "s1", "k", []byte("x"), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(42), off)
}
