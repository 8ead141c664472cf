package client

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/robustmq/robustmq/internal/broker"
	"github.com/robustmq/robustmq/internal/types"
	"github.com/robustmq/robustmq/pkg/rmqerr"
)

// LocalDispatcher implements broker.Dispatcher by resolving a clientID
// to the connectionID the connection manager tracks its write half
// under, then encoding the DeliveredPublish as a frame. The MQTT packet
// codec itself is out of scope here; a frame is the message's fields
// JSON-encoded, which is enough to exercise the full publish/delivery
// path end to end against any FrameWriter, including one added later
// that understands the real wire format.
type LocalDispatcher struct {
	mu    sync.RWMutex
	conns *broker.ConnectionManager

	clients map[string]uint64 // clientID -> connectionID
}

// NewLocalDispatcher builds a dispatcher with no connection manager
// attached yet. SetConnections must be called with the owning Broker's
// ConnectionManager before any Dispatch call — the two are constructed
// in the same step by cmd/mqtt-broker since Broker.Connections only
// exists once NewBroker has already been handed this Dispatcher.
func NewLocalDispatcher() *LocalDispatcher {
	return &LocalDispatcher{clients: make(map[string]uint64)}
}

// SetConnections attaches the connection manager Dispatch writes frames
// through.
func (d *LocalDispatcher) SetConnections(conns *broker.ConnectionManager) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = conns
}

// Bind records which connectionID currently serves clientID, replacing
// any prior binding (e.g. after a reconnect).
func (d *LocalDispatcher) Bind(clientID string, connectionID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients[clientID] = connectionID
}

// Unbind drops clientID's connection binding, typically once its
// connection's stop hook fires.
func (d *LocalDispatcher) Unbind(clientID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.clients, clientID)
}

// Dispatch implements broker.Dispatcher.
func (d *LocalDispatcher) Dispatch(ctx context.Context, clientID string, pub types.DeliveredPublish) error {
	d.mu.RLock()
	connectionID, ok := d.clients[clientID]
	conns := d.conns
	d.mu.RUnlock()
	if !ok {
		return rmqerr.New(rmqerr.KindClientUnavailable, "no connection bound for client "+clientID)
	}
	if conns == nil {
		return rmqerr.New(rmqerr.KindClientUnavailable, "dispatcher has no connection manager attached")
	}

	frame, err := json.Marshal(pub)
	if err != nil {
		return err
	}
	return conns.WriteFrame(connectionID, frame)
}
