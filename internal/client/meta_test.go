package client

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/robustmq/robustmq/internal/meta"
	"github.com/robustmq/robustmq/internal/rpc"
	"github.com/robustmq/robustmq/internal/types"
)

type fakeAliveNodes struct{ nodes []uint64 }

func (f fakeAliveNodes) AliveNodes(cluster string) []uint64 { return f.nodes }

// startMetaServer spins a real gRPC server around a single-node leader
// meta.Service, the same way cmd/meta-service wires the ServiceDesc,
// so MetaClient exercises the actual wire path instead of a stub.
func startMetaServer(t *testing.T) string {
	t.Helper()

	n, err := meta.New(meta.Config{NodeID: 1, Cluster: "c1", BindAddr: "127.0.0.1:0", DataDir: t.TempDir()})
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

	return lis.Addr().String()
}

func newTestMetaClient(t *testing.T) *MetaClient {
	t.Helper()
	addr := startMetaServer(t)

	pool := rpc.NewPool()
	t.Cleanup(func() { pool.Close() })

	leader := &rpc.LeaderTracker{}
	leader.Set(addr)

	return NewMetaClient(pool, leader, 7, fakeAliveNodes{nodes: []uint64{7}})
}

func TestMetaClientIsShareLeader(t *testing.T) {
	c := newTestMetaClient(t)

	isLeader, err := c.IsShareLeader("c1", "g1")
	require.NoError(t, err)
	require.True(t, isLeader)
}

func TestMetaClientExclusiveSubscriptionRegisterAndUnregister(t *testing.T) {
	c := newTestMetaClient(t)

	exists, err := c.ExclusiveSubscriptionExists("c1", "a/b")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, c.RegisterExclusiveSubscription("c1", "a/b", "client-1"))

	exists, err = c.ExclusiveSubscriptionExists("c1", "a/b")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, c.UnregisterExclusiveSubscription("c1", "a/b"))

	exists, err = c.ExclusiveSubscriptionExists("c1", "a/b")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestMetaClientRetainMessageRoundTrip(t *testing.T) {
	c := newTestMetaClient(t)

	msg, err := c.GetRetainMessage("c1", "a/b")
	require.NoError(t, err)
	require.Nil(t, msg)

	want := types.RetainedMessage{Topic: "a/b", Payload: []byte("hello"), QoS: 1}
	require.NoError(t, c.SetRetainMessage("c1", "a/b", want))

	got, err := c.GetRetainMessage("c1", "a/b")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, want.Payload, got.Payload)

	require.NoError(t, c.DeleteRetainMessage("c1", "a/b"))

	got, err = c.GetRetainMessage("c1", "a/b")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMetaClientOffsetRoundTrip(t *testing.T) {
	c := newTestMetaClient(t)

	_, found, err := c.LoadOffset("ns/shard1")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, c.SaveOffset("ns/shard1", 42))

	offset, found, err := c.LoadOffset("ns/shard1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(42), offset)
}
