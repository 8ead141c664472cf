// Package client provides the gRPC-backed implementations of the
// interfaces internal/broker consumes (ShareLeaderChecker,
// ExclusiveChecker, RetainStorage, OffsetStore, RecordAppender,
// RecordReader), each a thin call through internal/rpc's connection
// pool and leader tracker to meta's or journal's hand-authored
// ServiceDesc.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/robustmq/robustmq/internal/meta"
	"github.com/robustmq/robustmq/internal/rpc"
	"github.com/robustmq/robustmq/internal/types"
	"github.com/robustmq/robustmq/pkg/rmqerr"
)

// AliveNodesLister supplies the current alive-node set meta needs to
// deterministically assign a shared-subscription leader.
type AliveNodesLister interface {
	AliveNodes(cluster string) []uint64
}

// MetaClient calls the meta service's RPCs (GetShareSubLeader,
// {Set,Get,Delete}ResourceConfig, {Save,Get}Offset, and the segment and
// node RPCs). A call rejected with NotLeader and a leader hint updates
// the LeaderTracker and is retried once against the new leader.
type MetaClient struct {
	pool        *rpc.Pool
	leader      *rpc.LeaderTracker
	localNodeID uint64
	nodes       AliveNodesLister
}

// NewMetaClient builds a MetaClient. A nil nodes resolver makes the
// client resolve its own alive-node set via NodeList, which is the
// common case — cmd/mqtt-broker has no independent source for that list.
func NewMetaClient(pool *rpc.Pool, leader *rpc.LeaderTracker, localNodeID uint64, nodes AliveNodesLister) *MetaClient {
	c := &MetaClient{pool: pool, leader: leader, localNodeID: localNodeID, nodes: nodes}
	if nodes == nil {
		c.nodes = c
	}
	return c
}

// AliveNodes implements AliveNodesLister by listing every node meta
// currently has registered for cluster. It does not distinguish live
// from merely-registered nodes, and meta does not prune nodes on missed
// heartbeats either: a node leaves the list only when it is unregistered.
func (c *MetaClient) AliveNodes(cluster string) []uint64 {
	req := &meta.NodeListRequest{Cluster: cluster}
	resp := &meta.NodeListResponse{}
	if err := c.invoke(context.Background(), "NodeList", req, resp); err != nil {
		return nil
	}
	ids := make([]uint64, 0, len(resp.Nodes))
	for _, n := range resp.Nodes {
		ids = append(ids, n.NodeID)
	}
	return ids
}

func (c *MetaClient) invoke(ctx context.Context, method string, req, resp interface{}) error {
	addr := c.leader.Get()
	if addr == "" {
		return rmqerr.New(rmqerr.KindNoAvailableGrpcConnection, "no known meta leader address")
	}
	conn, err := c.pool.Get(addr)
	if err != nil {
		return err
	}

	callCtx, cancel := rpc.CallContext(ctx)
	defer cancel()

	fullMethod := "/meta.MetaService/" + method
	err = conn.Invoke(callCtx, fullMethod, req, resp)
	if err == nil || !c.leader.UpdateFromError(err) {
		return err
	}
	c.pool.Invalidate(addr)
	conn, err = c.pool.Get(c.leader.Get())
	if err != nil {
		return err
	}
	return conn.Invoke(callCtx, fullMethod, req, resp)
}

// IsShareLeader reports whether this node is the elected leader for
// (cluster, group), implementing broker.ShareLeaderChecker.
func (c *MetaClient) IsShareLeader(cluster, group string) (bool, error) {
	ctx := context.Background()
	req := &meta.GetShareSubLeaderRequest{Cluster: cluster, GroupName: group, AliveNodes: c.nodes.AliveNodes(cluster)}
	resp := &meta.GetShareSubLeaderResponse{}
	if err := c.invoke(ctx, "GetShareSubLeader", req, resp); err != nil {
		return false, err
	}
	return resp.LeaderNodeID == c.localNodeID, nil
}

const exclusiveSubKeyPrefix = "mqtt/exclusive_sub/"

func exclusiveSubKey(cluster, path string) string {
	return exclusiveSubKeyPrefix + cluster + "/" + path
}

// ExclusiveSubscriptionExists implements broker.ExclusiveChecker by
// consulting meta's replicated resource-config KV, so every broker sees
// the same answer regardless of which one accepted the subscription.
func (c *MetaClient) ExclusiveSubscriptionExists(cluster, path string) (bool, error) {
	req := &meta.GetResourceConfigRequest{Key: exclusiveSubKey(cluster, path)}
	resp := &meta.GetResourceConfigResponse{}
	if err := c.invoke(context.Background(), "GetResourceConfig", req, resp); err != nil {
		return false, err
	}
	return resp.Found, nil
}

// RegisterExclusiveSubscription records that path is now exclusively
// claimed, for future ExclusiveSubscriptionExists checks.
func (c *MetaClient) RegisterExclusiveSubscription(cluster, path, clientID string) error {
	value, err := json.Marshal(clientID)
	if err != nil {
		return err
	}
	req := &meta.SetResourceConfigRequest{Key: exclusiveSubKey(cluster, path), Value: value}
	return c.invoke(context.Background(), "SetResourceConfig", req, &meta.SetResourceConfigResponse{})
}

// UnregisterExclusiveSubscription releases a prior exclusive claim.
func (c *MetaClient) UnregisterExclusiveSubscription(cluster, path string) error {
	req := &meta.DeleteResourceConfigRequest{Key: exclusiveSubKey(cluster, path)}
	return c.invoke(context.Background(), "DeleteResourceConfig", req, &meta.DeleteResourceConfigResponse{})
}

const retainKeyPrefix = "mqtt/retain/"

func retainKey(cluster, topic string) string {
	return retainKeyPrefix + cluster + "/" + topic
}

// GetRetainMessage implements broker.RetainStorage.
func (c *MetaClient) GetRetainMessage(cluster, topic string) (*types.RetainedMessage, error) {
	req := &meta.GetResourceConfigRequest{Key: retainKey(cluster, topic)}
	resp := &meta.GetResourceConfigResponse{}
	if err := c.invoke(context.Background(), "GetResourceConfig", req, resp); err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, nil
	}
	var msg types.RetainedMessage
	if err := json.Unmarshal(resp.Value, &msg); err != nil {
		return nil, fmt.Errorf("decode retained message for %s/%s: %w", cluster, topic, err)
	}
	return &msg, nil
}

// SetRetainMessage implements broker.RetainStorage.
func (c *MetaClient) SetRetainMessage(cluster, topic string, msg types.RetainedMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req := &meta.SetResourceConfigRequest{Key: retainKey(cluster, topic), Value: value}
	return c.invoke(context.Background(), "SetResourceConfig", req, &meta.SetResourceConfigResponse{})
}

// DeleteRetainMessage implements broker.RetainStorage.
func (c *MetaClient) DeleteRetainMessage(cluster, topic string) error {
	req := &meta.DeleteResourceConfigRequest{Key: retainKey(cluster, topic)}
	return c.invoke(context.Background(), "DeleteResourceConfig", req, &meta.DeleteResourceConfigResponse{})
}

// LoadOffset implements broker.OffsetStore.
func (c *MetaClient) LoadOffset(loopKey string) (uint64, bool, error) {
	req := &meta.GetOffsetRequest{GroupID: "broker_push_loop", Shard: loopKey}
	resp := &meta.GetOffsetResponse{}
	if err := c.invoke(context.Background(), "GetOffset", req, resp); err != nil {
		return 0, false, err
	}
	return resp.Offset, resp.Found, nil
}

// SaveOffset implements broker.OffsetStore.
func (c *MetaClient) SaveOffset(loopKey string, offset uint64) error {
	req := &meta.SaveOffsetRequest{GroupID: "broker_push_loop", Shard: loopKey, Offset: offset}
	return c.invoke(context.Background(), "SaveOffset", req, &meta.SaveOffsetResponse{})
}

// CreateNextSegment implements journal.MetaClient, asking meta to
// allocate and replicate the next segment for (namespace, shardName).
func (c *MetaClient) CreateNextSegment(ctx context.Context, cluster, namespace, shardName string) error {
	req := &meta.CreateNextSegmentRequest{
		Cluster: cluster, Namespace: namespace, ShardName: shardName,
		AliveNodes: c.nodes.AliveNodes(cluster),
	}
	return c.invoke(ctx, "CreateNextSegment", req, &meta.CreateNextSegmentResponse{})
}

// UpdateSegmentStatus implements journal.MetaClient, pushing a segment's
// status transition (pre-write/write/seal-up/sealed) to meta.
func (c *MetaClient) UpdateSegmentStatus(ctx context.Context, cluster, namespace, shardName string, seq uint32, status types.SegmentStatus) error {
	req := &meta.UpdateSegmentStatusRequest{
		Cluster: cluster, Namespace: namespace, ShardName: shardName,
		SegmentSeq: seq, Status: status,
	}
	return c.invoke(ctx, "UpdateSegmentStatus", req, &meta.UpdateSegmentStatusResponse{})
}

// ListShards lists every shard meta has recorded for (cluster,
// namespace), the journal node's periodic source of truth for which
// shards and active segments its local Cache should mirror.
func (c *MetaClient) ListShards(cluster, namespace string) ([]types.Shard, error) {
	req := &meta.ListShardRequest{Cluster: cluster, Namespace: namespace}
	resp := &meta.ListShardResponse{}
	if err := c.invoke(context.Background(), "ListShard", req, resp); err != nil {
		return nil, err
	}
	return resp.Shards, nil
}

// ActiveSegment looks up (namespace, shardName)'s currently active
// segment, returning ok=false if the shard has none yet.
func (c *MetaClient) ActiveSegment(cluster, namespace, shardName string) (types.Segment, bool, error) {
	req := &meta.GetActiveSegmentRequest{Cluster: cluster, Namespace: namespace, ShardName: shardName}
	resp := &meta.GetActiveSegmentResponse{}
	if err := c.invoke(context.Background(), "GetActiveSegment", req, resp); err != nil {
		return types.Segment{}, false, err
	}
	return resp.Segment, resp.Found, nil
}

// RegisterNode announces this process's node identity to meta, the step
// every journal or broker process takes at startup before it can be
// placed onto shards or segments.
func (c *MetaClient) RegisterNode(node types.Node) error {
	req := &meta.RegisterNodeRequest{Node: node}
	return c.invoke(context.Background(), "RegisterNode", req, &meta.RegisterNodeResponse{})
}

// Heartbeat tells meta this node is still alive. Meta's Heartbeat
// handler records nothing and any meta node answers it, so it never
// takes invoke's NotLeader retry; failures are returned for the caller
// to log.
func (c *MetaClient) Heartbeat(cluster string, nodeID uint64) error {
	req := &meta.HeartbeatRequest{Cluster: cluster, NodeID: nodeID}
	return c.invoke(context.Background(), "Heartbeat", req, &meta.HeartbeatResponse{})
}

// NodeAddr resolves a node ID to its inner RPC address, the lookup a
// journal node's ShardCoordinator needs to dial a segment's other
// replicas by node ID.
func (c *MetaClient) NodeAddr(cluster string, nodeID uint64) (string, bool) {
	req := &meta.NodeListRequest{Cluster: cluster}
	resp := &meta.NodeListResponse{}
	if err := c.invoke(context.Background(), "NodeList", req, resp); err != nil {
		return "", false
	}
	for _, n := range resp.Nodes {
		if n.NodeID == nodeID {
			return n.InnerRPCAddr, true
		}
	}
	return "", false
}

// ResolveShardLeader looks up the journal node currently serving as
// leader for (namespace, shardName)'s active segment and returns its
// inner RPC address and active segment sequence, the lookup
// JournalClient needs before it can route a Produce or Read call.
// Implements client.ShardLeaderResolver.
func (c *MetaClient) ResolveShardLeader(cluster, namespace, shardName string) (addr string, segmentSeq uint32, err error) {
	segReq := &meta.GetActiveSegmentRequest{Cluster: cluster, Namespace: namespace, ShardName: shardName}
	segResp := &meta.GetActiveSegmentResponse{}
	if err := c.invoke(context.Background(), "GetActiveSegment", segReq, segResp); err != nil {
		return "", 0, err
	}
	if !segResp.Found {
		return "", 0, rmqerr.New(rmqerr.KindShardNotExist, "no active segment for "+namespace+"/"+shardName)
	}

	nodesReq := &meta.NodeListRequest{Cluster: cluster}
	nodesResp := &meta.NodeListResponse{}
	if err := c.invoke(context.Background(), "NodeList", nodesReq, nodesResp); err != nil {
		return "", 0, err
	}
	for _, node := range nodesResp.Nodes {
		if node.NodeID == segResp.Segment.LeaderNodeID {
			return node.InnerRPCAddr, segResp.Segment.SegmentSeq, nil
		}
	}
	return "", 0, rmqerr.New(rmqerr.KindBrokerNotAvailable, "leader node not found in NodeList")
}
