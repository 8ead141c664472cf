package journal

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"google.golang.org/grpc"

	"github.com/robustmq/robustmq/internal/rpc"
	"github.com/robustmq/robustmq/internal/types"
)

// Service implements the journal node's gRPC surface: produce/fetch for
// clients and brokers, replica catch-up pushes from a segment's leader,
// and the delete/status RPCs meta's GC loop drives via JournalGCClient.
type Service struct {
	dataFold string
	cache    *Cache
	coord    *ShardCoordinator
	writer   *Writer
	indexer  *Indexer

	deletedShards   map[string]bool
	deletedSegments map[string]bool
}

func NewService(dataFold string, cache *Cache, coord *ShardCoordinator, writer *Writer, indexer *Indexer) *Service {
	return &Service{
		dataFold: dataFold, cache: cache, coord: coord, writer: writer, indexer: indexer,
		deletedShards:   make(map[string]bool),
		deletedSegments: make(map[string]bool),
	}
}

type ProduceRequest struct {
	Namespace string   `json:"namespace"`
	ShardName string   `json:"shard_name"`
	Key       string   `json:"key"`
	Content   []byte   `json:"content"`
	Tags      []string `json:"tags,omitempty"`
}

type ProduceResponse struct {
	Offset uint64 `json:"offset"`
}

func (s *Service) Produce(ctx context.Context, req *ProduceRequest) (*ProduceResponse, error) {
	offset, err := s.coord.Produce(req.Namespace, req.ShardName, req.Key, req.Content, req.Tags)
	if err != nil {
		return nil, err
	}
	return &ProduceResponse{Offset: offset}, nil
}

// ReplicateAppend is the server side of ReplicationClient: it applies a
// record a segment's leader already assigned an offset to, onto this
// node's local copy of the segment file and indices. It never
// re-assigns the offset — only the leader does that.
type ReplicateAppendRequest struct {
	Record types.Record `json:"record"`
}

type ReplicateAppendResponse struct{}

func (s *Service) ReplicateAppend(ctx context.Context, req *ReplicateAppendRequest) (*ReplicateAppendResponse, error) {
	sf := SegmentFile{Namespace: req.Record.Namespace, ShardName: req.Record.ShardName, SegmentSeq: req.Record.Segment, DataFold: s.dataFold}
	if err := sf.TryCreate(); err != nil {
		return nil, err
	}
	position, err := sf.Size()
	if err != nil {
		return nil, err
	}
	if err := sf.Write([]types.Record{req.Record}); err != nil {
		return nil, err
	}
	if err := s.indexer.IndexRecord(req.Record.Namespace, req.Record.ShardName, req.Record.Segment, req.Record.Offset, position, req.Record.CreateTime, req.Record.Key, req.Record.Tags); err != nil {
		return nil, err
	}
	return &ReplicateAppendResponse{}, nil
}

type ReadByOffsetRequest struct {
	Namespace  string `json:"namespace"`
	ShardName  string `json:"shard_name"`
	Segment    uint32 `json:"segment"`
	Offset     uint64 `json:"offset"`
	MaxSize    uint64 `json:"max_size"`
	MaxRecords int    `json:"max_records"`
}

type ReadResponse struct {
	Records []types.Record `json:"records"`
}

func (s *Service) ReadByOffset(ctx context.Context, req *ReadByOffsetRequest) (*ReadResponse, error) {
	position, found, err := s.indexer.PositionByOffset(req.Namespace, req.ShardName, req.Segment, req.Offset)
	if err != nil {
		return nil, err
	}
	if !found {
		return &ReadResponse{}, nil
	}
	sf := SegmentFile{Namespace: req.Namespace, ShardName: req.ShardName, SegmentSeq: req.Segment, DataFold: s.dataFold}
	results, err := sf.ReadByOffset(position, req.Offset, req.MaxSize, req.MaxRecords)
	if err != nil {
		return nil, err
	}
	return &ReadResponse{Records: recordsOf(results)}, nil
}

type ReadByKeyRequest struct {
	Namespace string `json:"namespace"`
	ShardName string `json:"shard_name"`
	Key       string `json:"key"`
}

func (s *Service) ReadByKey(ctx context.Context, req *ReadByKeyRequest) (*ReadResponse, error) {
	segment, position, found, err := s.indexer.PositionByKey(req.Namespace, req.ShardName, req.Key)
	if err != nil {
		return nil, err
	}
	if !found {
		return &ReadResponse{}, nil
	}
	sf := SegmentFile{Namespace: req.Namespace, ShardName: req.ShardName, SegmentSeq: segment, DataFold: s.dataFold}
	results, err := sf.ReadByPositions([]int64{position})
	if err != nil {
		return nil, err
	}
	return &ReadResponse{Records: recordsOf(results)}, nil
}

type ReadByTagRequest struct {
	Namespace string `json:"namespace"`
	ShardName string `json:"shard_name"`
	Tag       string `json:"tag"`
}

func (s *Service) ReadByTag(ctx context.Context, req *ReadByTagRequest) (*ReadResponse, error) {
	entries, err := s.indexer.PositionsByTag(req.Namespace, req.ShardName, req.Tag)
	if err != nil {
		return nil, err
	}
	return s.readEntries(req.Namespace, req.ShardName, entries)
}

type ReadByTimestampRangeRequest struct {
	Namespace string `json:"namespace"`
	ShardName string `json:"shard_name"`
	Segment   uint32 `json:"segment"`
	From      uint64 `json:"from"`
	To        uint64 `json:"to"`
}

func (s *Service) ReadByTimestampRange(ctx context.Context, req *ReadByTimestampRangeRequest) (*ReadResponse, error) {
	entries, err := s.indexer.PositionsByTimestampRange(req.Namespace, req.ShardName, req.Segment, req.From, req.To)
	if err != nil {
		return nil, err
	}
	return s.readEntries(req.Namespace, req.ShardName, entries)
}

func (s *Service) readEntries(namespace, shardName string, entries []types.IndexEntry) (*ReadResponse, error) {
	bySegment := make(map[uint32][]int64)
	for _, e := range entries {
		bySegment[e.Segment] = append(bySegment[e.Segment], e.Position)
	}
	var out []types.Record
	for segment, positions := range bySegment {
		sf := SegmentFile{Namespace: namespace, ShardName: shardName, SegmentSeq: segment, DataFold: s.dataFold}
		results, err := sf.ReadByPositions(positions)
		if err != nil {
			return nil, err
		}
		out = append(out, recordsOf(results)...)
	}
	return &ReadResponse{Records: out}, nil
}

func recordsOf(results []ReadResult) []types.Record {
	out := make([]types.Record, 0, len(results))
	for _, r := range results {
		out = append(out, r.Record)
	}
	return out
}

// --- GC RPCs: meta.JournalGCClient's server-side counterpart. ---

type DeleteShardFileRequest struct {
	Cluster   string `json:"cluster"`
	Namespace string `json:"namespace"`
	ShardName string `json:"shard_name"`
}

type DeleteShardFileResponse struct{}

func (s *Service) DeleteShardFile(ctx context.Context, req *DeleteShardFileRequest) (*DeleteShardFileResponse, error) {
	shardKey := shardCacheKey(req.Namespace, req.ShardName)
	fold := SegmentFile{Namespace: req.Namespace, ShardName: req.ShardName, DataFold: s.dataFold}.shardFold()
	if err := os.RemoveAll(fold); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("delete shard files: %w", err)
	}
	s.cache.DeleteShard(req.Namespace, req.ShardName)
	s.deletedShards[shardKey] = true
	return &DeleteShardFileResponse{}, nil
}

type ShardDeleteStatusRequest struct {
	Cluster   string `json:"cluster"`
	Namespace string `json:"namespace"`
	ShardName string `json:"shard_name"`
}

type ShardDeleteStatusResponse struct {
	Done bool `json:"done"`
}

func (s *Service) ShardDeleteStatus(ctx context.Context, req *ShardDeleteStatusRequest) (*ShardDeleteStatusResponse, error) {
	return &ShardDeleteStatusResponse{Done: s.deletedShards[shardCacheKey(req.Namespace, req.ShardName)]}, nil
}

type DeleteSegmentFileRequest struct {
	Cluster   string `json:"cluster"`
	Namespace string `json:"namespace"`
	ShardName string `json:"shard_name"`
	Segment   uint32 `json:"segment"`
}

type DeleteSegmentFileResponse struct{}

func (s *Service) DeleteSegmentFile(ctx context.Context, req *DeleteSegmentFileRequest) (*DeleteSegmentFileResponse, error) {
	sf := SegmentFile{Namespace: req.Namespace, ShardName: req.ShardName, SegmentSeq: req.Segment, DataFold: s.dataFold}
	if err := sf.Delete(); err != nil {
		return nil, fmt.Errorf("delete segment file: %w", err)
	}
	s.cache.DeleteSegment(req.Namespace, req.ShardName, req.Segment)
	s.deletedSegments[segmentDeleteKey(req.Namespace, req.ShardName, req.Segment)] = true
	return &DeleteSegmentFileResponse{}, nil
}

type SegmentDeleteStatusRequest struct {
	Cluster   string `json:"cluster"`
	Namespace string `json:"namespace"`
	ShardName string `json:"shard_name"`
	Segment   uint32 `json:"segment"`
}

type SegmentDeleteStatusResponse struct {
	Done bool `json:"done"`
}

func (s *Service) SegmentDeleteStatus(ctx context.Context, req *SegmentDeleteStatusRequest) (*SegmentDeleteStatusResponse, error) {
	return &SegmentDeleteStatusResponse{Done: s.deletedSegments[segmentDeleteKey(req.Namespace, req.ShardName, req.Segment)]}, nil
}

func segmentDeleteKey(namespace, shardName string, segment uint32) string {
	return shardCacheKey(namespace, shardName) + "/" + strconv.FormatUint(uint64(segment), 10)
}

func methodHandler[Req any, Resp any](bind func(*Service) func(context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		return rpc.UnaryHandler(bind(srv.(*Service)))(srv, ctx, dec, interceptor)
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "journal.JournalService",
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Produce", Handler: methodHandler(func(s *Service) func(context.Context, *ProduceRequest) (*ProduceResponse, error) { return s.Produce })},
		{MethodName: "ReplicateAppend", Handler: methodHandler(func(s *Service) func(context.Context, *ReplicateAppendRequest) (*ReplicateAppendResponse, error) { return s.ReplicateAppend })},
		{MethodName: "ReadByOffset", Handler: methodHandler(func(s *Service) func(context.Context, *ReadByOffsetRequest) (*ReadResponse, error) { return s.ReadByOffset })},
		{MethodName: "ReadByKey", Handler: methodHandler(func(s *Service) func(context.Context, *ReadByKeyRequest) (*ReadResponse, error) { return s.ReadByKey })},
		{MethodName: "ReadByTag", Handler: methodHandler(func(s *Service) func(context.Context, *ReadByTagRequest) (*ReadResponse, error) { return s.ReadByTag })},
		{MethodName: "ReadByTimestampRange", Handler: methodHandler(func(s *Service) func(context.Context, *ReadByTimestampRangeRequest) (*ReadResponse, error) { return s.ReadByTimestampRange })},
		{MethodName: "DeleteShardFile", Handler: methodHandler(func(s *Service) func(context.Context, *DeleteShardFileRequest) (*DeleteShardFileResponse, error) { return s.DeleteShardFile })},
		{MethodName: "ShardDeleteStatus", Handler: methodHandler(func(s *Service) func(context.Context, *ShardDeleteStatusRequest) (*ShardDeleteStatusResponse, error) { return s.ShardDeleteStatus })},
		{MethodName: "DeleteSegmentFile", Handler: methodHandler(func(s *Service) func(context.Context, *DeleteSegmentFileRequest) (*DeleteSegmentFileResponse, error) { return s.DeleteSegmentFile })},
		{MethodName: "SegmentDeleteStatus", Handler: methodHandler(func(s *Service) func(context.Context, *SegmentDeleteStatusRequest) (*SegmentDeleteStatusResponse, error) { return s.SegmentDeleteStatus })},
	},
}
