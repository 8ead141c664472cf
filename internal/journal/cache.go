package journal

import (
	"strconv"
	"sync"

	"github.com/robustmq/robustmq/internal/types"
)

// Cache is the journal node's in-process mirror of the shard/segment
// metadata meta owns, so read-heavy lookups — "which segment is the
// active one for this shard", "which segment currently leads on this
// node" — never need a round trip to meta. cmd/journal-server fills it
// through SetShard/SetSegment from a 2-second poll of meta; Apply folds
// in a cache-invalidation event for callers that have one.
type Cache struct {
	mu sync.RWMutex

	shards   map[string]types.Shard              // key: namespace/shard_name
	segments map[string]map[uint32]types.Segment  // key: namespace/shard_name -> segment_seq
	leader   map[string]types.Segment             // key: namespace/shard_name/segment_seq, only entries this node leads
}

func NewCache() *Cache {
	return &Cache{
		shards:   make(map[string]types.Shard),
		segments: make(map[string]map[uint32]types.Segment),
		leader:   make(map[string]types.Segment),
	}
}

func shardCacheKey(namespace, shardName string) string {
	return namespace + "/" + shardName
}

func (c *Cache) SetShard(shard types.Shard) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shards[shardCacheKey(shard.Namespace, shard.ShardName)] = shard
}

func (c *Cache) GetShard(namespace, shardName string) (types.Shard, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	shard, ok := c.shards[shardCacheKey(namespace, shardName)]
	return shard, ok
}

func (c *Cache) DeleteShard(namespace, shardName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := shardCacheKey(namespace, shardName)
	delete(c.shards, key)
	delete(c.segments, key)
}

// SetSegment records a segment and, if this node is its leader, also
// indexes it under leader so the scroll manager can find every segment
// it's responsible for rolling without scanning the whole cache.
func (c *Cache) SetSegment(seg types.Segment, localNodeID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := shardCacheKey(seg.Namespace, seg.ShardName)
	if c.segments[key] == nil {
		c.segments[key] = make(map[uint32]types.Segment)
	}
	c.segments[key][seg.SegmentSeq] = seg

	segName := seg.SegmentName()
	if seg.LeaderNodeID == localNodeID {
		c.leader[segName] = seg
	} else {
		delete(c.leader, segName)
	}
}

func (c *Cache) GetSegment(namespace, shardName string, seq uint32) (types.Segment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	segs, ok := c.segments[shardCacheKey(namespace, shardName)]
	if !ok {
		return types.Segment{}, false
	}
	seg, ok := segs[seq]
	return seg, ok
}

func (c *Cache) DeleteSegment(namespace, shardName string, seq uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := shardCacheKey(namespace, shardName)
	if segs, ok := c.segments[key]; ok {
		delete(segs, seq)
	}
	delete(c.leader, namespace+"/"+shardName+"/"+strconv.FormatUint(uint64(seq), 10))
}

// LeaderSegments returns every segment this node currently leads, for
// the scroll manager's sweep.
func (c *Cache) LeaderSegments() []types.Segment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Segment, 0, len(c.leader))
	for _, seg := range c.leader {
		out = append(out, seg)
	}
	return out
}

// SegmentsByShard returns every known segment of one shard, for GC and
// listing.
func (c *Cache) SegmentsByShard(namespace, shardName string) []types.Segment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	segs, ok := c.segments[shardCacheKey(namespace, shardName)]
	if !ok {
		return nil
	}
	out := make([]types.Segment, 0, len(segs))
	for _, seg := range segs {
		out = append(out, seg)
	}
	return out
}

// Apply folds one cache-invalidation event into the cache. Unknown
// resource types are ignored; the cache only mirrors what it cares
// about.
func (c *Cache) Apply(event types.Event, localNodeID uint64, decodeShard func([]byte) (types.Shard, error), decodeSegment func([]byte) (types.Segment, error)) {
	switch event.ResourceType {
	case types.ResourceShard:
		if event.ActionType == types.EventActionDelete {
			return
		}
		if shard, err := decodeShard(event.Payload); err == nil {
			c.SetShard(shard)
		}
	case types.ResourceSegment:
		if event.ActionType == types.EventActionDelete {
			return
		}
		if seg, err := decodeSegment(event.Payload); err == nil {
			c.SetSegment(seg, localNodeID)
		}
	}
}
