package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// UnaryHandler adapts a typed RPC method into the grpc.MethodHandler
// shape a hand-authored grpc.ServiceDesc needs, so meta/journal/broker
// service descriptors don't each hand-roll the same decode/interceptor
// plumbing protoc-gen-go-grpc would otherwise generate.
func UnaryHandler[Req any, Resp any](fn func(ctx context.Context, req *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(ctx, req)
		}
		method, _ := grpc.Method(ctx)
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(ctx, req.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}
