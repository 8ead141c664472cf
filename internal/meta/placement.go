package meta

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/robustmq/robustmq/internal/kv"
	"github.com/robustmq/robustmq/internal/types"
)

// PlacementFunctions implements the two decisions only the Raft leader
// makes: which broker leads a given share-subscription group, and which
// brokers (and which of them leads) hold a new segment's replicas.
// PlaceSegmentReplicas only computes; CreateNextSegment replicates the
// resulting segment through Apply. AssignShareSubLeader and ReleaseNode
// read and write the assignment record in this node's KV store
// directly; that write does not go through Raft, so other meta nodes do
// not receive it.
type PlacementFunctions struct {
	mu    sync.Mutex
	store *kv.Store
}

func newPlacementFunctions(store *kv.Store) *PlacementFunctions {
	return &PlacementFunctions{store: store}
}

// groupAssignments is the JSON shape stored under NodeSubGroupLeaderKey:
// node_id -> group names that node currently leads.
type groupAssignments map[uint64][]string

// AssignShareSubLeader returns the broker that leads the named share
// subscription group, assigning one if none exists yet: the candidate
// with the fewest currently-led groups, ties broken by the smallest
// node ID.
func (p *PlacementFunctions) AssignShareSubLeader(cluster, groupName string, aliveNodes []uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	assignments, err := p.loadAssignments(cluster)
	if err != nil {
		return 0, err
	}

	for nodeID, groups := range assignments {
		for _, g := range groups {
			if g == groupName {
				return nodeID, nil
			}
		}
	}

	if len(aliveNodes) == 0 {
		return 0, nil
	}

	leader := pickLeastLoaded(aliveNodes, assignments)
	assignments[leader] = append(assignments[leader], groupName)

	return leader, p.saveAssignments(cluster, assignments)
}

func pickLeastLoaded(aliveNodes []uint64, assignments groupAssignments) uint64 {
	candidates := make([]uint64, len(aliveNodes))
	copy(candidates, aliveNodes)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	best := candidates[0]
	bestLoad := len(assignments[best])
	for _, nodeID := range candidates[1:] {
		if load := len(assignments[nodeID]); load < bestLoad {
			best, bestLoad = nodeID, load
		}
	}
	return best
}

// ReleaseNode removes every share-sub group assignment held by nodeID,
// called when that node leaves the cluster so its groups get reassigned
// on next lookup.
func (p *PlacementFunctions) ReleaseNode(cluster string, nodeID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	assignments, err := p.loadAssignments(cluster)
	if err != nil {
		return err
	}
	if _, ok := assignments[nodeID]; !ok {
		return nil
	}
	delete(assignments, nodeID)
	return p.saveAssignments(cluster, assignments)
}

func (p *PlacementFunctions) loadAssignments(cluster string) (groupAssignments, error) {
	raw, ok, err := p.store.Get(kv.CFMeta, kv.NodeSubGroupLeaderKey(cluster))
	if err != nil {
		return nil, err
	}
	if !ok {
		return groupAssignments{}, nil
	}
	var assignments groupAssignments
	if err := json.Unmarshal(raw, &assignments); err != nil {
		return nil, err
	}
	return assignments, nil
}

func (p *PlacementFunctions) saveAssignments(cluster string, assignments groupAssignments) error {
	raw, err := json.Marshal(assignments)
	if err != nil {
		return err
	}
	return p.store.Put(kv.CFMeta, kv.NodeSubGroupLeaderKey(cluster), raw)
}

// PlaceSegmentReplicas picks replicaCount distinct brokers from
// aliveNodes for a new segment, round-robining the starting point by
// segmentSeq so consecutive segments of the same shard spread across
// the cluster instead of always landing on the same replica set. The
// first selected node becomes the segment's leader.
func PlaceSegmentReplicas(aliveNodes []uint64, replicaCount uint32, segmentSeq uint32) ([]types.SegmentReplica, uint64, error) {
	if len(aliveNodes) == 0 {
		return nil, 0, nil
	}

	candidates := make([]uint64, len(aliveNodes))
	copy(candidates, aliveNodes)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	n := int(replicaCount)
	if n > len(candidates) {
		n = len(candidates)
	}

	start := int(segmentSeq) % len(candidates)
	replicas := make([]types.SegmentReplica, 0, n)
	for i := 0; i < n; i++ {
		nodeID := candidates[(start+i)%len(candidates)]
		replicas = append(replicas, types.SegmentReplica{NodeID: nodeID, ReplicaSeq: uint32(i)})
	}

	return replicas, replicas[0].NodeID, nil
}
