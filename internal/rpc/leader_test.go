package rpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

type fakeChecker struct {
	leader bool
	addr   string
}

func (f fakeChecker) IsLeader() bool    { return f.leader }
func (f fakeChecker) LeaderAddr() string { return f.addr }

func okHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "ok", nil
}

func TestLeaderInterceptorAllowsReadOnlyOnFollower(t *testing.T) {
	interceptor := LeaderInterceptor(fakeChecker{leader: false, addr: "node-2:9981"})
	info := &grpc.UnaryServerInfo{FullMethod: "/meta.MetaService/ListShard"}

	resp, err := interceptor(context.Background(), nil, info, okHandler)
	assert.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestLeaderInterceptorRejectsWriteOnFollower(t *testing.T) {
	interceptor := LeaderInterceptor(fakeChecker{leader: false, addr: "node-2:9981"})
	info := &grpc.UnaryServerInfo{FullMethod: "/meta.MetaService/CreateShard"}

	_, err := interceptor(context.Background(), nil, info, okHandler)
	assert.Error(t, err)

	st, ok := status.FromError(err)
	assert.True(t, ok)
	assert.Contains(t, st.Message(), "node-2:9981")
}

func TestLeaderInterceptorAllowsWriteOnLeader(t *testing.T) {
	interceptor := LeaderInterceptor(fakeChecker{leader: true})
	info := &grpc.UnaryServerInfo{FullMethod: "/meta.MetaService/CreateShard"}

	resp, err := interceptor(context.Background(), nil, info, okHandler)
	assert.NoError(t, err)
	assert.Equal(t, "ok", resp)
}
