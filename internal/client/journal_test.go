package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/robustmq/robustmq/internal/journal"
	"github.com/robustmq/robustmq/internal/kv"
	"github.com/robustmq/robustmq/internal/meta"
	"github.com/robustmq/robustmq/internal/rpc"
	"github.com/robustmq/robustmq/internal/types"
)

// startJournalServer spins a real gRPC server around a single-shard
// journal.Service the way cmd/journal-server wires the ServiceDesc.
func startJournalServer(t *testing.T, namespace, shardName string) string {
	t.Helper()

	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cache := journal.NewCache()
	cache.SetShard(types.Shard{Namespace: namespace, ShardName: shardName, ActiveSegmentSeq: 0, Status: types.ShardStatusRun})
	cache.SetSegment(types.Segment{Namespace: namespace, ShardName: shardName, SegmentSeq: 0, Status: types.SegmentWrite, LeaderNodeID: 1}, 1)

	dataFold := t.TempDir()
	writer := journal.NewWriter(dataFold, store, cache)
	coord := journal.NewShardCoordinator(1, cache, writer, nil, nil)
	svc := journal.NewService(dataFold, cache, coord, writer, journal.NewIndexer(store))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	srv.RegisterService(&journal.ServiceDesc, svc)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	return lis.Addr().String()
}

// seedMetaWithShard registers a shard and its active segment in a real
// meta node/service pair, and the node itself, so ResolveShardLeader can
// answer GetActiveSegment/NodeList against real replicated state.
func seedMetaWithShard(t *testing.T, cluster, namespace, shardName, journalAddr string) string {
	t.Helper()

	n, err := meta.New(meta.Config{NodeID: 1, Cluster: cluster, BindAddr: "127.0.0.1:0", DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, n.Bootstrap())
	require.Eventually(t, n.IsLeader, 3*time.Second, 20*time.Millisecond)

	svc := meta.NewService(n)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	srv.RegisterService(&meta.ServiceDesc, svc)
	go srv.Serve(lis)
	t.Cleanup(func() {
		srv.Stop()
		n.Shutdown()
	})

	_, err = svc.RegisterNode(context.Background(), &meta.RegisterNodeRequest{
		Node: types.Node{NodeID: 1, ClusterName: cluster, NodeIP: "127.0.0.1", InnerRPCAddr: journalAddr},
	})
	require.NoError(t, err)

	_, err = svc.CreateShard(context.Background(), &meta.CreateShardRequest{
		Shard: types.Shard{Cluster: cluster, Namespace: namespace, ShardName: shardName, ReplicaCount: 1},
	})
	require.NoError(t, err)

	_, err = svc.CreateNextSegment(context.Background(), &meta.CreateNextSegmentRequest{
		Cluster: cluster, Namespace: namespace, ShardName: shardName, AliveNodes: []uint64{1},
	})
	require.NoError(t, err)

	return lis.Addr().String()
}

func newTestJournalClient(t *testing.T, cluster, topic string) *JournalClient {
	t.Helper()

	journalAddr := startJournalServer(t, mqttNamespace, topic)
	metaAddr := seedMetaWithShard(t, cluster, mqttNamespace, topic, journalAddr)

	pool := rpc.NewPool()
	t.Cleanup(func() { pool.Close() })
	leader := &rpc.LeaderTracker{}
	leader.Set(metaAddr)
	metaClient := NewMetaClient(pool, leader, 1, fakeAliveNodes{nodes: []uint64{1}})

	journalPool := rpc.NewPool()
	t.Cleanup(func() { journalPool.Close() })
	return NewJournalClient(cluster, journalPool, metaClient)
}

func TestJournalClientAppendThenReadFromRoundTrips(t *testing.T) {
	c := newTestJournalClient(t, "c1", "a/b")

	offset, err := c.Append("a/b", types.PublishRecord{
		Topic: "a/b", Payload: []byte("hello"), PublisherClientID: "pub-1", QoS: 1,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(0), offset)

	records, err := c.ReadFrom("a/b", 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, []byte("hello"), records[0].Payload)
	require.Equal(t, "pub-1", records[0].PublisherClientID)
}
