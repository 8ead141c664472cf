package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/robustmq/robustmq/pkg/log"
	"github.com/robustmq/robustmq/pkg/rmqerr"
)

// DefaultCallTimeout bounds a single unary RPC's round trip.
const DefaultCallTimeout = 10 * time.Second

// Pool is a small per-address gRPC connection cache, shared by the
// meta/journal/broker clients so repeated calls to the same peer reuse
// one connection instead of dialing per call.
type Pool struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewPool creates an empty connection pool.
func NewPool() *Pool {
	return &Pool{conns: make(map[string]*grpc.ClientConn)}
}

// Get returns a cached connection to addr, dialing one if absent. No
// transport security is configured here — TLS termination is out of
// scope for this core and is the listener layer's job.
func (p *Pool) Get(addr string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[addr]; ok {
		return conn, nil
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodec{}.Name())),
	)
	if err != nil {
		return nil, rmqerr.Wrap(rmqerr.KindNoAvailableGrpcConnection, err, fmt.Sprintf("dial %s", addr))
	}

	p.conns[addr] = conn
	return conn, nil
}

// Invalidate drops a cached connection, forcing the next Get to redial.
// Used when a call fails with a transport error so a stale connection
// doesn't keep being handed out.
func (p *Pool) Invalidate(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.conns[addr]; ok {
		conn.Close()
		delete(p.conns, addr)
	}
}

// Close closes every cached connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, conn := range p.conns {
		conn.Close()
		delete(p.conns, addr)
	}
	return nil
}

// CallContext returns a context bounded by DefaultCallTimeout, matching
// the teacher client's per-call timeout convention.
func CallContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultCallTimeout)
}

// LeaderTracker holds the last-known leader address for a service,
// updated whenever an RPC returns NotLeader with a hint. Callers consult
// it before dialing so retries go straight to the new leader.
type LeaderTracker struct {
	mu   sync.RWMutex
	addr string
}

func (t *LeaderTracker) Get() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.addr
}

func (t *LeaderTracker) Set(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addr = addr
}

// UpdateFromError inspects err for a NotLeader hint and records it,
// returning true if the tracker was updated. Besides an in-process
// *rmqerr.Error it accepts the gRPC status error LeaderInterceptor sends,
// whose message is the rmqerr text "not_leader: <message> (hint: <addr>)".
func (t *LeaderTracker) UpdateFromError(err error) bool {
	var hint string
	var rerr *rmqerr.Error
	if errors.As(err, &rerr) {
		if rerr.Kind == rmqerr.KindNotLeader {
			hint = rerr.Hint
		}
	} else if st, ok := status.FromError(err); ok {
		msg := st.Message()
		if i := strings.LastIndex(msg, " (hint: "); i >= 0 && strings.HasPrefix(msg, string(rmqerr.KindNotLeader)+": ") {
			hint = strings.TrimSuffix(msg[i+len(" (hint: "):], ")")
		}
	}
	if hint == "" {
		return false
	}
	t.Set(hint)
	log.Debug("updated leader hint to " + hint)
	return true
}
