// Package rpc holds the gRPC plumbing shared by the meta, journal, and
// broker services: a JSON-over-gRPC message codec, a leader-check
// interceptor, and a pooled client dialer.
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodec implements encoding.Codec by marshaling plain Go structs as
// JSON. It is registered under the name "proto" so grpc.Server and
// grpc.ClientConn use it without requiring protoc-generated message
// types; request/response structs just need to be JSON-serializable.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: unmarshal %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return "proto"
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
