package client

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/robustmq/robustmq/internal/broker"
	"github.com/robustmq/robustmq/internal/journal"
	"github.com/robustmq/robustmq/internal/rpc"
	"github.com/robustmq/robustmq/internal/types"
)

// mqttNamespace is the fixed journal namespace every MQTT topic's durable
// log lives under; the shard name within it is the topic string itself.
const mqttNamespace = "mqtt"

// ShardLeaderResolver resolves the current leader's RPC address and
// active segment sequence for a journal shard, implemented by MetaClient
// against meta's GetActiveSegment and NodeList RPCs.
type ShardLeaderResolver interface {
	ResolveShardLeader(cluster, namespace, shardName string) (addr string, segmentSeq uint32, err error)
}

// journalRecord is the wire payload JournalClient stores as a journal
// record's Content, round-tripping everything broker.Publisher and
// broker.DeliveryManager need that journal.Record itself doesn't carry.
type journalRecord struct {
	Payload            []byte `json:"payload"`
	PublisherClientID  string `json:"publisher_client_id"`
	Retain             bool   `json:"retain"`
	MessageExpiryUnixS int64  `json:"message_expiry_unix_s"`
}

type shardLocation struct {
	addr       string
	segmentSeq uint32
}

// JournalClient implements broker.RecordAppender and broker.RecordReader
// by routing Produce/ReadByOffset calls to a topic's owning journal node,
// re-resolving the leader location on transport failures the same way
// MetaClient does for meta's raft leader.
type JournalClient struct {
	cluster  string
	pool     *rpc.Pool
	resolver ShardLeaderResolver

	mu   sync.Mutex
	locs map[string]shardLocation
}

func NewJournalClient(cluster string, pool *rpc.Pool, resolver ShardLeaderResolver) *JournalClient {
	return &JournalClient{
		cluster:  cluster,
		pool:     pool,
		resolver: resolver,
		locs:     make(map[string]shardLocation),
	}
}

func (c *JournalClient) locationFor(shardName string, forceRefresh bool) (shardLocation, error) {
	c.mu.Lock()
	loc, cached := c.locs[shardName]
	c.mu.Unlock()
	if cached && !forceRefresh {
		return loc, nil
	}

	addr, segmentSeq, err := c.resolver.ResolveShardLeader(c.cluster, mqttNamespace, shardName)
	if err != nil {
		return shardLocation{}, err
	}
	loc = shardLocation{addr: addr, segmentSeq: segmentSeq}
	c.mu.Lock()
	c.locs[shardName] = loc
	c.mu.Unlock()
	return loc, nil
}

// invoke calls method on shardName's current leader, resolving once more
// and retrying on the first failure (e.g. stale leader after a segment
// rollover) before giving up.
func (c *JournalClient) invoke(shardName, method string, req, resp interface{}) (shardLocation, error) {
	loc, err := c.locationFor(shardName, false)
	if err != nil {
		return shardLocation{}, err
	}

	if err := c.call(loc.addr, method, req, resp); err != nil {
		c.pool.Invalidate(loc.addr)
		refreshed, rerr := c.locationFor(shardName, true)
		if rerr != nil {
			return shardLocation{}, err
		}
		if callErr := c.call(refreshed.addr, method, req, resp); callErr != nil {
			return shardLocation{}, callErr
		}
		return refreshed, nil
	}
	return loc, nil
}

func (c *JournalClient) call(addr, method string, req, resp interface{}) error {
	conn, err := c.pool.Get(addr)
	if err != nil {
		return err
	}
	callCtx, cancel := rpc.CallContext(context.Background())
	defer cancel()
	return conn.Invoke(callCtx, "/journal.JournalService/"+method, req, resp)
}

// ReplicationAdapter implements journal.ReplicationClient by invoking a
// follower's ReplicateAppend RPC directly over an address, bypassing the
// shard-leader resolution JournalClient does for its own Produce/Read
// calls since replication targets are already-known replica addresses.
type ReplicationAdapter struct {
	pool *rpc.Pool
}

func NewReplicationAdapter(pool *rpc.Pool) *ReplicationAdapter {
	return &ReplicationAdapter{pool: pool}
}

// ReplicateAppend implements journal.ReplicationClient.
func (a *ReplicationAdapter) ReplicateAppend(ctx context.Context, nodeAddr string, rec types.Record) error {
	conn, err := a.pool.Get(nodeAddr)
	if err != nil {
		return err
	}
	callCtx, cancel := rpc.CallContext(ctx)
	defer cancel()
	req := &journal.ReplicateAppendRequest{Record: rec}
	resp := &journal.ReplicateAppendResponse{}
	return conn.Invoke(callCtx, "/journal.JournalService/ReplicateAppend", req, resp)
}

// Append implements broker.RecordAppender.
func (c *JournalClient) Append(topic string, rec types.PublishRecord) (uint64, error) {
	content, err := json.Marshal(journalRecord{
		Payload:            rec.Payload,
		PublisherClientID:  rec.PublisherClientID,
		Retain:             rec.Retain,
		MessageExpiryUnixS: rec.MessageExpiryUnixS,
	})
	if err != nil {
		return 0, err
	}

	req := &journal.ProduceRequest{Namespace: mqttNamespace, ShardName: topic, Key: rec.PublisherClientID, Content: content}
	resp := &journal.ProduceResponse{}
	if _, err := c.invoke(topic, "Produce", req, resp); err != nil {
		return 0, err
	}
	return resp.Offset, nil
}

// ReadFrom implements broker.RecordReader.
func (c *JournalClient) ReadFrom(topic string, offset uint64, maxRecords int) ([]broker.StoredRecord, error) {
	loc, err := c.locationFor(topic, false)
	if err != nil {
		return nil, err
	}

	req := &journal.ReadByOffsetRequest{
		Namespace: mqttNamespace, ShardName: topic,
		Segment: loc.segmentSeq, Offset: offset, MaxRecords: maxRecords,
	}
	resp := &journal.ReadResponse{}
	if _, err := c.invoke(topic, "ReadByOffset", req, resp); err != nil {
		return nil, err
	}

	out := make([]broker.StoredRecord, 0, len(resp.Records))
	for _, rec := range resp.Records {
		var payload journalRecord
		if err := json.Unmarshal(rec.Content, &payload); err != nil {
			continue
		}
		out = append(out, broker.StoredRecord{
			Offset:             rec.Offset,
			Payload:            payload.Payload,
			PublisherClientID:  payload.PublisherClientID,
			Retain:             payload.Retain,
			MessageExpiryUnixS: payload.MessageExpiryUnixS,
		})
	}
	return out, nil
}
