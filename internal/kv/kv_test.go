package kv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(CFMeta, "k1", []byte("v1")))

	v, ok, err := s.Get(CFMeta, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)

	require.NoError(t, s.Delete(CFMeta, "k1"))

	_, ok, err = s.Get(CFMeta, "k1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetMissingKeyNoError(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.Get(CFMeta, "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPrefixScan(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(CFMeta, "/cluster/shard/c1/ns/a", []byte("a")))
	require.NoError(t, s.Put(CFMeta, "/cluster/shard/c1/ns/b", []byte("b")))
	require.NoError(t, s.Put(CFMeta, "/cluster/nodes/c1/1", []byte("n")))

	var keys []string
	err := s.PrefixScan(CFMeta, "/cluster/shard/c1/ns/", func(key string, value []byte) bool {
		keys = append(keys, key)
		return true
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/cluster/shard/c1/ns/a", "/cluster/shard/c1/ns/b"}, keys)
}

func TestPrefixScanStopsEarly(t *testing.T) {
	s := openTestStore(t)
	for _, k := range []string{"p/1", "p/2", "p/3"} {
		require.NoError(t, s.Put(CFMeta, k, []byte("v")))
	}

	var seen int
	err := s.PrefixScan(CFMeta, "p/", func(key string, value []byte) bool {
		seen++
		return false
	})
	require.NoError(t, err)
	require.Equal(t, 1, seen)
}

func TestBatchIsAtomic(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(CFMeta, "existing", []byte("old")))

	err := s.Batch([]BatchOp{
		{CF: CFMeta, Key: "a", Value: []byte("1")},
		{CF: CFMeta, Key: "b", Value: []byte("2")},
		{CF: CFMeta, Key: "existing", Delete: true},
	})
	require.NoError(t, err)

	_, ok, _ := s.Get(CFMeta, "existing")
	require.False(t, ok)

	v, ok, _ := s.Get(CFMeta, "a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(CFMeta, "k1", []byte("v1")))
	require.NoError(t, s.Put(CFMeta, "k2", []byte("v2")))

	tuples, err := s.Snapshot(CFMeta)
	require.NoError(t, err)
	require.Len(t, tuples, 2)

	dst := openTestStore(t)
	require.NoError(t, dst.Restore(CFMeta, tuples))

	v, ok, err := dst.Get(CFMeta, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)
}

func TestKeySchemeShape(t *testing.T) {
	require.Equal(t, "/cluster/nodes/c1/7", NodeKey("c1", 7))
	require.Equal(t, "/cluster/shard/c1/ns/s1", ShardKey("c1", "ns", "s1"))
	require.Equal(t, "/cluster/segment/c1/ns/s1/3", SegmentKey("c1", "ns", "s1", 3))
	require.Equal(t, "/node_sub_group_leader/c1", NodeSubGroupLeaderKey("c1"))
	require.Equal(t, "ns/s1/3/42", PositionIndexKey("ns", "s1", 3, 42))
	require.Equal(t, "ns/s1/mytag", KeyIndexKey("ns", "s1", "mytag"))
}
