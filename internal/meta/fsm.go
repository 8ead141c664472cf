package meta

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/robustmq/robustmq/internal/kv"
	"github.com/robustmq/robustmq/internal/types"
	"github.com/robustmq/robustmq/pkg/rmqerr"
)

// FSM is the Raft-replicated state machine. Every mutating meta RPC goes
// through Apply as a Command; reads bypass Raft entirely and hit store
// directly, since any node's locally-applied copy is equally valid for
// a linearizable-enough read in this design (strong-read callers should
// go through the leader's ReadIndex, not modeled here).
type FSM struct {
	mu    sync.RWMutex
	store *kv.Store

	placement   *PlacementFunctions
	broadcaster *Broadcaster
}

// NewFSM builds an FSM bound to the given KV store, wiring a
// PlacementFunctions instance against the same store so leader-only
// placement decisions read/write the same state the rest of the FSM does.
func NewFSM(store *kv.Store, broadcaster *Broadcaster) *FSM {
	return &FSM{
		store:       store,
		placement:   newPlacementFunctions(store),
		broadcaster: broadcaster,
	}
}

// Apply decodes a raft.Log entry into a Command and applies it to the KV
// store. Raft apply itself never fails here: a malformed command or a
// domain-level rejection (e.g. segment create on a non-existent shard)
// is returned as the command's reply rather than as an Apply error, so
// one bad command can't wedge the log.
func (f *FSM) Apply(log *raft.Log) interface{} {
	cmd, err := DecodeCommand(log.Data)
	if err != nil {
		return fmt.Errorf("decode command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpSetShard:
		return f.applySetShard(cmd)
	case OpDeleteShard:
		return f.applyDelete(cmd, types.ResourceShard)
	case OpSetSegment:
		return f.applySetSegment(cmd)
	case OpDeleteSegment:
		return f.applyDelete(cmd, types.ResourceSegment)
	case OpSetSegmentMeta:
		return f.applySet(cmd, types.ResourceSegmentMeta)
	case OpDeleteSegmentMeta:
		return f.applyDelete(cmd, types.ResourceSegmentMeta)

	case OpSetNode:
		return f.applySet(cmd, types.ResourceNode)
	case OpDeleteNode:
		return f.applyDelete(cmd, types.ResourceNode)

	case OpSetUser:
		return f.applySet(cmd, types.ResourceUser)
	case OpDeleteUser:
		return f.applyDelete(cmd, types.ResourceUser)
	case OpSetACL:
		return f.applySet(cmd, types.ResourceACL)
	case OpDeleteACL:
		return f.applyDelete(cmd, types.ResourceACL)
	case OpSetBlacklist:
		return f.applySet(cmd, types.ResourceBlacklist)
	case OpDeleteBlacklist:
		return f.applyDelete(cmd, types.ResourceBlacklist)
	case OpSetTopic:
		return f.applySet(cmd, types.ResourceTopic)
	case OpDeleteTopic:
		return f.applyDelete(cmd, types.ResourceTopic)
	case OpSetSession, OpUpdateSession:
		return f.applySet(cmd, types.ResourceSession)
	case OpDeleteSession:
		return f.applyDelete(cmd, types.ResourceSession)
	case OpSetSubscription:
		return f.applySet(cmd, types.ResourceSubscription)
	case OpDeleteSubscription:
		return f.applyDelete(cmd, types.ResourceSubscription)
	case OpSaveLastWill:
		return f.applySet(cmd, types.ResourceLastWill)
	case OpSetTopicRewriteRule:
		return f.applySet(cmd, types.ResourceTopicRewriteRule)
	case OpDeleteTopicRewriteRule:
		return f.applyDelete(cmd, types.ResourceTopicRewriteRule)
	case OpSetAutoSubscribeRule:
		return f.applySet(cmd, types.ResourceAutoSubscribe)
	case OpDeleteAutoSubscribeRule:
		return f.applyDelete(cmd, types.ResourceAutoSubscribe)
	case OpSetConnector:
		return f.applySet(cmd, types.ResourceConnector)
	case OpDeleteConnector:
		return f.applyDelete(cmd, types.ResourceConnector)

	case OpSetOffset, OpSetIdempotent, OpSetKV:
		return f.store.Put(kv.CFMeta, cmd.Key, cmd.Value)
	case OpDeleteOffset, OpDeleteIdempotent, OpDeleteKV:
		return f.store.Delete(kv.CFMeta, cmd.Key)

	default:
		return fmt.Errorf("unknown command op %q", cmd.Op)
	}
}

// applySet persists cmd.Value under cmd.Key and, for a resource type
// brokers/journal nodes care about, broadcasts a cache-invalidation event.
func (f *FSM) applySet(cmd Command, resource types.EventResourceType) error {
	if err := f.store.Put(kv.CFMeta, cmd.Key, cmd.Value); err != nil {
		return err
	}
	f.broadcast(resource, types.EventActionUpdate, cmd.Value)
	return nil
}

func (f *FSM) applyDelete(cmd Command, resource types.EventResourceType) error {
	if err := f.store.Delete(kv.CFMeta, cmd.Key); err != nil {
		return err
	}
	f.broadcast(resource, types.EventActionDelete, cmd.Value)
	return nil
}

// applySetShard persists a shard record. Unlike a segment, a shard has
// no referential dependency, so it is applied as a plain set.
func (f *FSM) applySetShard(cmd Command) error {
	return f.applySet(cmd, types.ResourceShard)
}

// applySetSegment enforces that a segment's owning shard already exists
// before admitting it to the log.
func (f *FSM) applySetSegment(cmd Command) error {
	var seg types.Segment
	if err := json.Unmarshal(cmd.Value, &seg); err != nil {
		return fmt.Errorf("decode segment: %w", err)
	}

	shardKey := kv.ShardKey(seg.Cluster, seg.Namespace, seg.ShardName)
	if _, ok, err := f.store.Get(kv.CFMeta, shardKey); err != nil {
		return err
	} else if !ok {
		return rmqerr.New(rmqerr.KindShardNotExist, "segment's shard does not exist: "+shardKey)
	}

	return f.applySet(cmd, types.ResourceSegment)
}

func (f *FSM) broadcast(resource types.EventResourceType, action types.EventActionType, payload []byte) {
	if f.broadcaster == nil {
		return
	}
	f.broadcaster.Publish(types.Event{
		ResourceType: resource,
		ActionType:   action,
		Payload:      payload,
	})
}

// metaSnapshot is the raft.FSMSnapshot implementation persisted to disk
// and streamed to lagging followers. It is a flat list of (key, value)
// tuples dumped straight from the meta column family; recovery replays
// them byte-for-byte, so the snapshot format never needs its own schema
// version independent of the KV value encoding.
type metaSnapshot struct {
	entries [][2][]byte
}

func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := f.store.Snapshot(kv.CFMeta)
	if err != nil {
		return nil, err
	}
	return &metaSnapshot{entries: entries}, nil
}

func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var entries [][2][]byte
	if err := json.NewDecoder(rc).Decode(&entries); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store.Restore(kv.CFMeta, entries)
}

func (s *metaSnapshot) Persist(sink raft.SnapshotSink) error {
	enc := json.NewEncoder(sink)
	if err := enc.Encode(s.entries); err != nil {
		sink.Cancel()
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return sink.Close()
}

func (s *metaSnapshot) Release() {}
