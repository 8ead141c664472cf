package meta

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"

	"github.com/robustmq/robustmq/internal/kv"
	"github.com/robustmq/robustmq/internal/rpc"
	"github.com/robustmq/robustmq/internal/types"
	"github.com/robustmq/robustmq/pkg/rmqerr"
)

// Service implements the meta gRPC service against a Node: cluster
// membership, journal shard/segment bookkeeping, and the MQTT control
// plane's share-subscription leader lookup and resource-config CRUD.
// Read handlers (List/Get/ClusterStatus/NodeList/Heartbeat) answer from
// the local KV store directly; writes go through Node.Apply so they're
// replicated before the RPC returns.
type Service struct {
	node *Node
}

func NewService(node *Node) *Service {
	return &Service{node: node}
}

func (s *Service) IsLeader() bool     { return s.node.IsLeader() }
func (s *Service) LeaderAddr() string { return s.node.LeaderAddr() }

type ClusterStatusRequest struct{}

type ClusterStatusResponse struct {
	Leader       string `json:"leader"`
	Peers        uint64 `json:"peers"`
	State        string `json:"state"`
	AppliedIndex uint64 `json:"applied_index"`
}

func (s *Service) ClusterStatus(ctx context.Context, req *ClusterStatusRequest) (*ClusterStatusResponse, error) {
	stats := s.node.Stats()
	return &ClusterStatusResponse{Leader: stats.Leader, Peers: stats.Peers, State: stats.State, AppliedIndex: stats.AppliedIndex}, nil
}

type AddVoterRequest struct {
	NodeID  uint64 `json:"node_id"`
	Address string `json:"address"`
}

type AddVoterResponse struct{}

// AddVoter adds a new Raft voter. Must run on the current leader; a
// follower rejects it via rpc.LeaderInterceptor before this is reached.
func (s *Service) AddVoter(ctx context.Context, req *AddVoterRequest) (*AddVoterResponse, error) {
	if err := s.node.AddVoter(req.NodeID, req.Address); err != nil {
		return nil, err
	}
	return &AddVoterResponse{}, nil
}

type RegisterNodeRequest struct {
	Node types.Node `json:"node"`
}

type RegisterNodeResponse struct{}

func (s *Service) RegisterNode(ctx context.Context, req *RegisterNodeRequest) (*RegisterNodeResponse, error) {
	req.Node.CreateTime = time.Now()
	value, err := json.Marshal(req.Node)
	if err != nil {
		return nil, err
	}
	key := kv.NodeKey(req.Node.ClusterName, req.Node.NodeID)
	if err := s.node.Apply(Command{Op: OpSetNode, Key: key, Value: value}); err != nil {
		return nil, err
	}
	return &RegisterNodeResponse{}, nil
}

type UnRegisterNodeRequest struct {
	Cluster string `json:"cluster"`
	NodeID  uint64 `json:"node_id"`
}

type UnRegisterNodeResponse struct{}

func (s *Service) UnRegisterNode(ctx context.Context, req *UnRegisterNodeRequest) (*UnRegisterNodeResponse, error) {
	key := kv.NodeKey(req.Cluster, req.NodeID)
	if err := s.node.Apply(Command{Op: OpDeleteNode, Key: key}); err != nil {
		return nil, err
	}
	if err := s.node.fsm.placement.ReleaseNode(req.Cluster, req.NodeID); err != nil {
		return nil, err
	}
	return &UnRegisterNodeResponse{}, nil
}

type HeartbeatRequest struct {
	Cluster string `json:"cluster"`
	NodeID  uint64 `json:"node_id"`
}

type HeartbeatResponse struct{}

// Heartbeat only acknowledges the beat: it records no liveness state,
// and no meta component prunes nodes that stop sending it.
func (s *Service) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	return &HeartbeatResponse{}, nil
}

type NodeListRequest struct {
	Cluster string `json:"cluster"`
}

type NodeListResponse struct {
	Nodes []types.Node `json:"nodes"`
}

func (s *Service) NodeList(ctx context.Context, req *NodeListRequest) (*NodeListResponse, error) {
	var nodes []types.Node
	err := s.node.store.PrefixScan(kv.CFMeta, kv.NodePrefix(req.Cluster), func(key string, value []byte) bool {
		var n types.Node
		if json.Unmarshal(value, &n) == nil {
			nodes = append(nodes, n)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return &NodeListResponse{Nodes: nodes}, nil
}

type CreateShardRequest struct {
	Shard types.Shard `json:"shard"`
}

type CreateShardResponse struct{}

func (s *Service) CreateShard(ctx context.Context, req *CreateShardRequest) (*CreateShardResponse, error) {
	if req.Shard.Status == "" {
		req.Shard.Status = types.ShardStatusRun
	}
	value, err := json.Marshal(req.Shard)
	if err != nil {
		return nil, err
	}
	key := kv.ShardKey(req.Shard.Cluster, req.Shard.Namespace, req.Shard.ShardName)
	if err := s.node.Apply(Command{Op: OpSetShard, Key: key, Value: value}); err != nil {
		return nil, err
	}
	return &CreateShardResponse{}, nil
}

type DeleteShardRequest struct {
	Cluster, Namespace, ShardName string
}

type DeleteShardResponse struct{}

// DeleteShard only marks the shard for deletion; GCLoop finishes the
// job once every replica confirms its files are gone.
func (s *Service) DeleteShard(ctx context.Context, req *DeleteShardRequest) (*DeleteShardResponse, error) {
	key := kv.ShardKey(req.Cluster, req.Namespace, req.ShardName)
	raw, ok, err := s.node.store.Get(kv.CFMeta, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rmqerr.New(rmqerr.KindShardNotExist, "shard does not exist: "+key)
	}
	var shard types.Shard
	if err := json.Unmarshal(raw, &shard); err != nil {
		return nil, err
	}
	shard.Status = types.ShardStatusPrepareDelete
	value, err := json.Marshal(shard)
	if err != nil {
		return nil, err
	}
	if err := s.node.Apply(Command{Op: OpSetShard, Key: key, Value: value}); err != nil {
		return nil, err
	}
	return &DeleteShardResponse{}, nil
}

type ListShardRequest struct {
	Cluster, Namespace string
}

type ListShardResponse struct {
	Shards []types.Shard `json:"shards"`
}

func (s *Service) ListShard(ctx context.Context, req *ListShardRequest) (*ListShardResponse, error) {
	var shards []types.Shard
	err := s.node.store.PrefixScan(kv.CFMeta, kv.ShardPrefix(req.Cluster), func(key string, value []byte) bool {
		var sh types.Shard
		if json.Unmarshal(value, &sh) == nil && (req.Namespace == "" || sh.Namespace == req.Namespace) {
			shards = append(shards, sh)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return &ListShardResponse{Shards: shards}, nil
}

type CreateNextSegmentRequest struct {
	Cluster, Namespace, ShardName string
	AliveNodes                    []uint64 `json:"alive_nodes"`
}

type CreateNextSegmentResponse struct {
	Segment types.Segment `json:"segment"`
}

// CreateNextSegment picks the new segment's replica set via the leader
// placement function, advances the shard's active_segment_seq, and
// replicates both changes.
func (s *Service) CreateNextSegment(ctx context.Context, req *CreateNextSegmentRequest) (*CreateNextSegmentResponse, error) {
	shardKey := kv.ShardKey(req.Cluster, req.Namespace, req.ShardName)
	raw, ok, err := s.node.store.Get(kv.CFMeta, shardKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rmqerr.New(rmqerr.KindShardNotExist, "shard does not exist: "+shardKey)
	}
	var shard types.Shard
	if err := json.Unmarshal(raw, &shard); err != nil {
		return nil, err
	}

	nextSeq := shard.LastSegmentSeq
	if shard.LastSegmentSeq > 0 || shard.ActiveSegmentSeq > 0 {
		nextSeq = shard.LastSegmentSeq + 1
	}

	replicas, leader, err := PlaceSegmentReplicas(req.AliveNodes, shard.ReplicaCount, nextSeq)
	if err != nil {
		return nil, err
	}

	seg := types.Segment{
		Cluster: req.Cluster, Namespace: req.Namespace, ShardName: req.ShardName,
		SegmentSeq: nextSeq, Replicas: replicas, LeaderNodeID: leader,
		Status: types.SegmentPreWrite, CreateTime: time.Now(),
	}
	segValue, err := json.Marshal(seg)
	if err != nil {
		return nil, err
	}
	segKey := kv.SegmentKey(req.Cluster, req.Namespace, req.ShardName, nextSeq)
	if err := s.node.Apply(Command{Op: OpSetSegment, Key: segKey, Value: segValue}); err != nil {
		return nil, err
	}

	shard.LastSegmentSeq = nextSeq
	shard.ActiveSegmentSeq = nextSeq
	shardValue, err := json.Marshal(shard)
	if err != nil {
		return nil, err
	}
	if err := s.node.Apply(Command{Op: OpSetShard, Key: shardKey, Value: shardValue}); err != nil {
		return nil, err
	}

	return &CreateNextSegmentResponse{Segment: seg}, nil
}

type UpdateSegmentStatusRequest struct {
	Cluster, Namespace, ShardName string
	SegmentSeq                    uint32
	Status                        types.SegmentStatus
}

type UpdateSegmentStatusResponse struct{}

func (s *Service) UpdateSegmentStatus(ctx context.Context, req *UpdateSegmentStatusRequest) (*UpdateSegmentStatusResponse, error) {
	key := kv.SegmentKey(req.Cluster, req.Namespace, req.ShardName, req.SegmentSeq)
	raw, ok, err := s.node.store.Get(kv.CFMeta, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rmqerr.New(rmqerr.KindSegmentNotExist, "segment does not exist: "+key)
	}
	var seg types.Segment
	if err := json.Unmarshal(raw, &seg); err != nil {
		return nil, err
	}
	if !segmentTransitionAllowed(seg.Status, req.Status) {
		return nil, rmqerr.New(rmqerr.KindSegmentStatusTransitionBad, string(seg.Status)+" -> "+string(req.Status))
	}
	seg.Status = req.Status
	value, err := json.Marshal(seg)
	if err != nil {
		return nil, err
	}
	if err := s.node.Apply(Command{Op: OpSetSegment, Key: key, Value: value}); err != nil {
		return nil, err
	}
	return &UpdateSegmentStatusResponse{}, nil
}

// segmentTransitionAllowed enforces the lifecycle FSM's legal edges:
// idle -> pre_write -> write -> pre_seal_up -> seal_up -> pre_delete -> deleting.
func segmentTransitionAllowed(from, to types.SegmentStatus) bool {
	allowed := map[types.SegmentStatus][]types.SegmentStatus{
		types.SegmentIdle:     {types.SegmentPreWrite},
		types.SegmentPreWrite: {types.SegmentWrite},
		types.SegmentWrite:    {types.SegmentPreSealUp},
		types.SegmentPreSealUp: {types.SegmentSealUp},
		types.SegmentSealUp:    {types.SegmentPreDelete},
		types.SegmentPreDelete: {types.SegmentDeleting},
	}
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

type GetActiveSegmentRequest struct {
	Cluster, Namespace, ShardName string
}

type GetActiveSegmentResponse struct {
	Segment types.Segment `json:"segment"`
	Found   bool          `json:"found"`
}

// GetActiveSegment resolves a shard's currently-active segment, the
// lookup journal clients need before routing Produce/Read calls to the
// segment's leader node.
func (s *Service) GetActiveSegment(ctx context.Context, req *GetActiveSegmentRequest) (*GetActiveSegmentResponse, error) {
	shardKey := kv.ShardKey(req.Cluster, req.Namespace, req.ShardName)
	raw, ok, err := s.node.store.Get(kv.CFMeta, shardKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &GetActiveSegmentResponse{}, nil
	}
	var shard types.Shard
	if err := json.Unmarshal(raw, &shard); err != nil {
		return nil, err
	}

	segKey := kv.SegmentKey(req.Cluster, req.Namespace, req.ShardName, shard.ActiveSegmentSeq)
	segRaw, ok, err := s.node.store.Get(kv.CFMeta, segKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &GetActiveSegmentResponse{}, nil
	}
	var seg types.Segment
	if err := json.Unmarshal(segRaw, &seg); err != nil {
		return nil, err
	}
	return &GetActiveSegmentResponse{Segment: seg, Found: true}, nil
}

type GetShareSubLeaderRequest struct {
	Cluster    string
	GroupName  string
	AliveNodes []uint64 `json:"alive_nodes"`
}

type GetShareSubLeaderResponse struct {
	LeaderNodeID uint64 `json:"leader_node_id"`
}

func (s *Service) GetShareSubLeader(ctx context.Context, req *GetShareSubLeaderRequest) (*GetShareSubLeaderResponse, error) {
	leader, err := s.node.fsm.placement.AssignShareSubLeader(req.Cluster, req.GroupName, req.AliveNodes)
	if err != nil {
		return nil, err
	}
	return &GetShareSubLeaderResponse{LeaderNodeID: leader}, nil
}

type SetResourceConfigRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type SetResourceConfigResponse struct{}

func (s *Service) SetResourceConfig(ctx context.Context, req *SetResourceConfigRequest) (*SetResourceConfigResponse, error) {
	if err := s.node.Apply(Command{Op: OpSetKV, Key: req.Key, Value: req.Value}); err != nil {
		return nil, err
	}
	return &SetResourceConfigResponse{}, nil
}

type DeleteResourceConfigRequest struct {
	Key string `json:"key"`
}

type DeleteResourceConfigResponse struct{}

func (s *Service) DeleteResourceConfig(ctx context.Context, req *DeleteResourceConfigRequest) (*DeleteResourceConfigResponse, error) {
	if err := s.node.Apply(Command{Op: OpDeleteKV, Key: req.Key}); err != nil {
		return nil, err
	}
	return &DeleteResourceConfigResponse{}, nil
}

type GetResourceConfigRequest struct {
	Key string `json:"key"`
}

type GetResourceConfigResponse struct {
	Value json.RawMessage `json:"value"`
	Found bool            `json:"found"`
}

func (s *Service) GetResourceConfig(ctx context.Context, req *GetResourceConfigRequest) (*GetResourceConfigResponse, error) {
	value, ok, err := s.node.store.Get(kv.CFMeta, req.Key)
	if err != nil {
		return nil, err
	}
	return &GetResourceConfigResponse{Value: value, Found: ok}, nil
}

type SaveOffsetRequest struct {
	GroupID string `json:"group_id"`
	Shard   string `json:"shard"`
	Offset  uint64 `json:"offset"`
}

type SaveOffsetResponse struct{}

func (s *Service) SaveOffset(ctx context.Context, req *SaveOffsetRequest) (*SaveOffsetResponse, error) {
	value, err := json.Marshal(req.Offset)
	if err != nil {
		return nil, err
	}
	key := kv.OffsetKey(req.GroupID, req.Shard)
	if err := s.node.Apply(Command{Op: OpSetOffset, Key: key, Value: value}); err != nil {
		return nil, err
	}
	return &SaveOffsetResponse{}, nil
}

type GetOffsetRequest struct {
	GroupID string `json:"group_id"`
	Shard   string `json:"shard"`
}

type GetOffsetResponse struct {
	Offset uint64 `json:"offset"`
	Found  bool   `json:"found"`
}

func (s *Service) GetOffset(ctx context.Context, req *GetOffsetRequest) (*GetOffsetResponse, error) {
	raw, ok, err := s.node.store.Get(kv.CFMeta, kv.OffsetKey(req.GroupID, req.Shard))
	if err != nil {
		return nil, err
	}
	if !ok {
		return &GetOffsetResponse{Found: false}, nil
	}
	var offset uint64
	if err := json.Unmarshal(raw, &offset); err != nil {
		return nil, err
	}
	return &GetOffsetResponse{Offset: offset, Found: true}, nil
}

// methodHandler adapts a Service method reference into a grpc.MethodHandler.
// The grpc server only learns which concrete *Service to call at request
// time (via srv), so unlike rpc.UnaryHandler this can't close over a bound
// method up front — it re-derives the bound method from srv on every call.
func methodHandler[Req any, Resp any](bind func(*Service) func(context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		return rpc.UnaryHandler(bind(srv.(*Service)))(srv, ctx, dec, interceptor)
	}
}

// ServiceDesc is the hand-authored grpc.ServiceDesc for Service, playing
// the role protoc-gen-go-grpc's generated descriptor would: one
// MethodDesc per RPC, each wrapping rpc.UnaryHandler so requests and
// responses flow through the JSON codec. Every Service method above
// follows the same (ctx, *Request) (*Response, error) shape, so adding
// an RPC is adding one entry here plus the method.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "meta.MetaService",
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ClusterStatus", Handler: methodHandler(func(s *Service) func(context.Context, *ClusterStatusRequest) (*ClusterStatusResponse, error) { return s.ClusterStatus })},
		{MethodName: "AddVoter", Handler: methodHandler(func(s *Service) func(context.Context, *AddVoterRequest) (*AddVoterResponse, error) { return s.AddVoter })},
		{MethodName: "RegisterNode", Handler: methodHandler(func(s *Service) func(context.Context, *RegisterNodeRequest) (*RegisterNodeResponse, error) { return s.RegisterNode })},
		{MethodName: "UnRegisterNode", Handler: methodHandler(func(s *Service) func(context.Context, *UnRegisterNodeRequest) (*UnRegisterNodeResponse, error) { return s.UnRegisterNode })},
		{MethodName: "Heartbeat", Handler: methodHandler(func(s *Service) func(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error) { return s.Heartbeat })},
		{MethodName: "NodeList", Handler: methodHandler(func(s *Service) func(context.Context, *NodeListRequest) (*NodeListResponse, error) { return s.NodeList })},
		{MethodName: "CreateShard", Handler: methodHandler(func(s *Service) func(context.Context, *CreateShardRequest) (*CreateShardResponse, error) { return s.CreateShard })},
		{MethodName: "DeleteShard", Handler: methodHandler(func(s *Service) func(context.Context, *DeleteShardRequest) (*DeleteShardResponse, error) { return s.DeleteShard })},
		{MethodName: "ListShard", Handler: methodHandler(func(s *Service) func(context.Context, *ListShardRequest) (*ListShardResponse, error) { return s.ListShard })},
		{MethodName: "CreateNextSegment", Handler: methodHandler(func(s *Service) func(context.Context, *CreateNextSegmentRequest) (*CreateNextSegmentResponse, error) { return s.CreateNextSegment })},
		{MethodName: "UpdateSegmentStatus", Handler: methodHandler(func(s *Service) func(context.Context, *UpdateSegmentStatusRequest) (*UpdateSegmentStatusResponse, error) { return s.UpdateSegmentStatus })},
		{MethodName: "GetActiveSegment", Handler: methodHandler(func(s *Service) func(context.Context, *GetActiveSegmentRequest) (*GetActiveSegmentResponse, error) { return s.GetActiveSegment })},
		{MethodName: "GetShareSubLeader", Handler: methodHandler(func(s *Service) func(context.Context, *GetShareSubLeaderRequest) (*GetShareSubLeaderResponse, error) { return s.GetShareSubLeader })},
		{MethodName: "SetResourceConfig", Handler: methodHandler(func(s *Service) func(context.Context, *SetResourceConfigRequest) (*SetResourceConfigResponse, error) { return s.SetResourceConfig })},
		{MethodName: "GetResourceConfig", Handler: methodHandler(func(s *Service) func(context.Context, *GetResourceConfigRequest) (*GetResourceConfigResponse, error) { return s.GetResourceConfig })},
		{MethodName: "DeleteResourceConfig", Handler: methodHandler(func(s *Service) func(context.Context, *DeleteResourceConfigRequest) (*DeleteResourceConfigResponse, error) { return s.DeleteResourceConfig })},
		{MethodName: "SaveOffset", Handler: methodHandler(func(s *Service) func(context.Context, *SaveOffsetRequest) (*SaveOffsetResponse, error) { return s.SaveOffset })},
		{MethodName: "GetOffset", Handler: methodHandler(func(s *Service) func(context.Context, *GetOffsetRequest) (*GetOffsetResponse, error) { return s.GetOffset })},
	},
}
