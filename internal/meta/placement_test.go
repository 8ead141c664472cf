package meta

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robustmq/robustmq/internal/kv"
)

func newTestPlacement(t *testing.T) *PlacementFunctions {
	t.Helper()
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return newPlacementFunctions(store)
}

func TestAssignShareSubLeaderPicksLeastLoaded(t *testing.T) {
	p := newTestPlacement(t)

	leader, err := p.AssignShareSubLeader("c1", "group-a", []uint64{3, 1, 2})
	require.NoError(t, err)
	require.Equal(t, uint64(1), leader, "ties broken by smallest node id")

	leader, err = p.AssignShareSubLeader("c1", "group-b", []uint64{3, 1, 2})
	require.NoError(t, err)
	require.Equal(t, uint64(2), leader, "node 1 already has a group, so 2 is least loaded")
}

func TestAssignShareSubLeaderIsStableOnceAssigned(t *testing.T) {
	p := newTestPlacement(t)

	first, err := p.AssignShareSubLeader("c1", "group-a", []uint64{1, 2})
	require.NoError(t, err)

	second, err := p.AssignShareSubLeader("c1", "group-a", []uint64{1, 2})
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestReleaseNodeFreesItsGroups(t *testing.T) {
	p := newTestPlacement(t)

	leader, err := p.AssignShareSubLeader("c1", "group-a", []uint64{1})
	require.NoError(t, err)
	require.Equal(t, uint64(1), leader)

	require.NoError(t, p.ReleaseNode("c1", 1))

	reassigned, err := p.AssignShareSubLeader("c1", "group-a", []uint64{1, 2})
	require.NoError(t, err)
	require.Equal(t, uint64(1), reassigned, "group-a was released so node 1 is least loaded again")
}

func TestPlaceSegmentReplicasRoundRobinsBySeq(t *testing.T) {
	replicas, leader, err := PlaceSegmentReplicas([]uint64{1, 2, 3}, 2, 0)
	require.NoError(t, err)
	require.Len(t, replicas, 2)
	require.Equal(t, uint64(1), leader)

	replicas, leader, err = PlaceSegmentReplicas([]uint64{1, 2, 3}, 2, 1)
	require.NoError(t, err)
	require.Len(t, replicas, 2)
	require.Equal(t, uint64(2), leader)
}

func TestPlaceSegmentReplicasCapsAtAliveNodeCount(t *testing.T) {
	replicas, _, err := PlaceSegmentReplicas([]uint64{1, 2}, 5, 0)
	require.NoError(t, err)
	require.Len(t, replicas, 2)
}
