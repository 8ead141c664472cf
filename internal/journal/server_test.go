package journal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robustmq/robustmq/internal/kv"
	"github.com/robustmq/robustmq/internal/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cache := NewCache()
	dataFold := t.TempDir()
	writer := NewWriter(dataFold, store, cache)
	coord := NewShardCoordinator(1, cache, writer, nil, nil)
	return NewService(dataFold, cache, coord, writer, NewIndexer(store))
}

func TestServiceProduceAndReadByOffset(t *testing.T) {
	s := newTestService(t)
	seedWritableShard(s.cache, "ns", "s1")

	resp, err := s.Produce(context.Background(), &ProduceRequest{Namespace: "ns", ShardName: "s1", Key: "k1", Content: []byte("hello")})
	require.NoError(t, err)
	require.Equal(t, uint64(0), resp.Offset)

	read, err := s.ReadByOffset(context.Background(), &ReadByOffsetRequest{Namespace: "ns", ShardName: "s1", Segment: 0, Offset: 0, MaxSize: 1024, MaxRecords: 10})
	require.NoError(t, err)
	require.Len(t, read.Records, 1)
	require.Equal(t, []byte("hello"), read.Records[0].Content)
}

func TestServiceReadByKey(t *testing.T) {
	s := newTestService(t)
	seedWritableShard(s.cache, "ns", "s1")

	_, err := s.Produce(context.Background(), &ProduceRequest{Namespace: "ns", ShardName: "s1", Key: "order-1", Content: []byte("payload")})
	require.NoError(t, err)

	read, err := s.ReadByKey(context.Background(), &ReadByKeyRequest{Namespace: "ns", ShardName: "s1", Key: "order-1"})
	require.NoError(t, err)
	require.Len(t, read.Records, 1)
	require.Equal(t, []byte("payload"), read.Records[0].Content)
}

func TestServiceReplicateAppendWritesWithoutReassigningOffset(t *testing.T) {
	s := newTestService(t)
	rec := types.Record{Namespace: "ns", ShardName: "s1", Segment: 0, Offset: 7, Content: []byte("followed")}

	_, err := s.ReplicateAppend(context.Background(), &ReplicateAppendRequest{Record: rec})
	require.NoError(t, err)

	read, err := s.ReadByOffset(context.Background(), &ReadByOffsetRequest{Namespace: "ns", ShardName: "s1", Segment: 0, Offset: 7, MaxSize: 1024, MaxRecords: 10})
	require.NoError(t, err)
	require.Len(t, read.Records, 1)
	require.Equal(t, uint64(7), read.Records[0].Offset)
}

func TestServiceDeleteShardFileMarksDoneAndClearsCache(t *testing.T) {
	s := newTestService(t)
	seedWritableShard(s.cache, "ns", "s1")
	_, err := s.Produce(context.Background(), &ProduceRequest{Namespace: "ns", ShardName: "s1", Key: "k", Content: []byte("x")})
	require.NoError(t, err)

	status, err := s.ShardDeleteStatus(context.Background(), &ShardDeleteStatusRequest{Namespace: "ns", ShardName: "s1"})
	require.NoError(t, err)
	require.False(t, status.Done)

	_, err = s.DeleteShardFile(context.Background(), &DeleteShardFileRequest{Namespace: "ns", ShardName: "s1"})
	require.NoError(t, err)

	status, err = s.ShardDeleteStatus(context.Background(), &ShardDeleteStatusRequest{Namespace: "ns", ShardName: "s1"})
	require.NoError(t, err)
	require.True(t, status.Done)

	_, ok := s.cache.GetShard("ns", "s1")
	require.False(t, ok)
}

func TestServiceDeleteSegmentFileMarksDone(t *testing.T) {
	s := newTestService(t)
	seedWritableShard(s.cache, "ns", "s1")
	_, err := s.Produce(context.Background(), &ProduceRequest{Namespace: "ns", ShardName: "s1", Key: "k", Content: []byte("x")})
	require.NoError(t, err)

	_, err = s.DeleteSegmentFile(context.Background(), &DeleteSegmentFileRequest{Namespace: "ns", ShardName: "s1", Segment: 0})
	require.NoError(t, err)

	status, err := s.SegmentDeleteStatus(context.Background(), &SegmentDeleteStatusRequest{Namespace: "ns", ShardName: "s1", Segment: 0})
	require.NoError(t, err)
	require.True(t, status.Done)
}
