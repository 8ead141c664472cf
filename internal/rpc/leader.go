package rpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/robustmq/robustmq/pkg/rmqerr"
)

// LeaderChecker is implemented by internal/meta's raft wrapper. The
// interceptor uses it to reject mutating RPCs that land on a follower.
type LeaderChecker interface {
	IsLeader() bool
	LeaderAddr() string
}

// LeaderInterceptor rejects mutating RPCs (every method not read-only by
// name convention) that arrive on a non-leader node with NotLeader,
// carrying the current leader's address as a hint so the client can
// update its cached leader and retry.
func LeaderInterceptor(checker LeaderChecker) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if isReadOnlyMethod(info.FullMethod) || checker.IsLeader() {
			return handler(ctx, req)
		}
		err := rmqerr.New(rmqerr.KindNotLeader, "method "+info.FullMethod+" requires the raft leader").
			WithHint(checker.LeaderAddr())
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
}

func isReadOnlyMethod(method string) bool {
	parts := strings.Split(method, "/")
	if len(parts) < 2 {
		return false
	}
	methodName := parts[len(parts)-1]

	readOnlyPrefixes := []string{"List", "Get", "Describe"}
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(methodName, prefix) {
			return true
		}
	}

	readOnlyMethods := []string{"ClusterStatus", "NodeList", "Heartbeat", "ReportMonitor"}
	for _, m := range readOnlyMethods {
		if methodName == m {
			return true
		}
	}
	return false
}
