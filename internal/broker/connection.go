package broker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robustmq/robustmq/pkg/rmqerr"
)

// ConnectionType enumerates the transports a connection may have arrived
// over. Kept as a small closed enum rather than an interface so the
// connection manager's hot write path never pays for dynamic dispatch.
type ConnectionType uint8

const (
	ConnectionTCP ConnectionType = iota
	ConnectionTCPTLS
	ConnectionWebSocket
	ConnectionWebSocketTLS
	ConnectionQUIC
)

func (t ConnectionType) String() string {
	switch t {
	case ConnectionTCP:
		return "tcp"
	case ConnectionTCPTLS:
		return "tcp_tls"
	case ConnectionWebSocket:
		return "websocket"
	case ConnectionWebSocketTLS:
		return "websocket_tls"
	case ConnectionQUIC:
		return "quic"
	default:
		return "unknown"
	}
}

// FrameWriter is a connection's framed write half. Concrete
// implementations wrap a net.Conn, a websocket connection, or a QUIC
// stream; this package is deliberately wire-codec agnostic, so it deals
// only in pre-encoded frames.
type FrameWriter interface {
	WriteFrame(frame []byte) error
	Close() error
}

// ConnectionInfo is everything the manager tracks about one accepted
// connection.
type ConnectionInfo struct {
	ConnectionID uint64
	Protocol     string // "mqtt3.1.1", "mqtt5", ...
	Type         ConnectionType
	SendHalf     FrameWriter
}

// StopHook is invoked by close_connect once a connection's entries have
// been removed from every map; it is where session-cleanup coordination
// (move to disconnected state, last-will scheduling) happens.
type StopHook func(connectionID uint64)

// ConnectionManager multiplexes framed writes across every accepted
// connection, keyed by a monotonically increasing connection_id. It
// holds one generic info map plus parallel per-transport write-half
// maps, so write_frame never needs to type-switch on the transport.
type ConnectionManager struct {
	mu      sync.RWMutex
	nextID  atomic.Uint64
	infos   map[uint64]ConnectionInfo

	tcp       map[uint64]FrameWriter
	tcpTLS    map[uint64]FrameWriter
	ws        map[uint64]FrameWriter
	wsTLS     map[uint64]FrameWriter
	quic      map[uint64]FrameWriter

	stopHooks map[uint64]StopHook

	maxRetries int
	retrySleep time.Duration
}

func NewConnectionManager(maxRetries int, retrySleep time.Duration) *ConnectionManager {
	return &ConnectionManager{
		infos:      make(map[uint64]ConnectionInfo),
		tcp:        make(map[uint64]FrameWriter),
		tcpTLS:     make(map[uint64]FrameWriter),
		ws:         make(map[uint64]FrameWriter),
		wsTLS:      make(map[uint64]FrameWriter),
		quic:       make(map[uint64]FrameWriter),
		stopHooks:  make(map[uint64]StopHook),
		maxRetries: maxRetries,
		retrySleep: retrySleep,
	}
}

// Accept registers a newly accepted connection and returns its allocated
// connection_id.
func (m *ConnectionManager) Accept(protocol string, connType ConnectionType, writer FrameWriter, onStop StopHook) uint64 {
	id := m.nextID.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.infos[id] = ConnectionInfo{ConnectionID: id, Protocol: protocol, Type: connType, SendHalf: writer}
	m.writeHalfMap(connType)[id] = writer
	if onStop != nil {
		m.stopHooks[id] = onStop
	}
	return id
}

func (m *ConnectionManager) writeHalfMap(t ConnectionType) map[uint64]FrameWriter {
	switch t {
	case ConnectionTCP:
		return m.tcp
	case ConnectionTCPTLS:
		return m.tcpTLS
	case ConnectionWebSocket:
		return m.ws
	case ConnectionWebSocketTLS:
		return m.wsTLS
	case ConnectionQUIC:
		return m.quic
	default:
		return m.tcp
	}
}

func (m *ConnectionManager) lookup(connectionID uint64) (FrameWriter, ConnectionType, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.infos[connectionID]
	if !ok {
		return nil, 0, false
	}
	return info.SendHalf, info.Type, true
}

// WriteFrame locates the write half for connectionID and sends frame,
// retrying the lookup itself up to maxRetries (with retrySleep between
// attempts) if the connection is mid-registration, per §4.4's write
// protocol. A transport error reported as broker-unavailable surfaces
// immediately; any other transport error counts against the same retry
// budget before producing FailedToWriteClient.
func (m *ConnectionManager) WriteFrame(connectionID uint64, frame []byte) error {
	var writer FrameWriter
	var found bool
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		writer, _, found = m.lookup(connectionID)
		if found {
			break
		}
		if attempt < m.maxRetries {
			time.Sleep(m.retrySleep)
		}
	}
	if !found {
		return rmqerr.New(rmqerr.KindClientUnavailable, fmt.Sprintf("connection %d has no registered write half", connectionID))
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		err := writer.WriteFrame(frame)
		if err == nil {
			return nil
		}
		if rmqerr.IsBrokerNotAvailable(err) {
			return rmqerr.Wrap(rmqerr.KindBrokerNotAvailable, err, "peer broker unavailable during write_frame")
		}
		lastErr = err
		if attempt < m.maxRetries {
			time.Sleep(m.retrySleep)
		}
	}
	return rmqerr.Wrap(rmqerr.KindFailedToWriteClient, lastErr, fmt.Sprintf("write_frame failed after %d retries", m.maxRetries))
}

// CloseConnect removes connectionID from every map, closes its write
// half (ignoring the close error, matching §4.4), and invokes its stop
// hook if one was registered.
func (m *ConnectionManager) CloseConnect(connectionID uint64) {
	m.mu.Lock()
	info, ok := m.infos[connectionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.infos, connectionID)
	delete(m.writeHalfMap(info.Type), connectionID)
	hook := m.stopHooks[connectionID]
	delete(m.stopHooks, connectionID)
	m.mu.Unlock()

	_ = info.SendHalf.Close()
	if hook != nil {
		hook(connectionID)
	}
}

// Info returns the tracked ConnectionInfo for connectionID.
func (m *ConnectionManager) Info(connectionID uint64) (ConnectionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.infos[connectionID]
	return info, ok
}

// Count returns the number of currently tracked connections.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.infos)
}
