package journal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robustmq/robustmq/internal/kv"
)

func newTestIndexer(t *testing.T) *Indexer {
	t.Helper()
	store, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewIndexer(store)
}

func TestIndexRecordAndLookupByOffset(t *testing.T) {
	ix := newTestIndexer(t)

	require.NoError(t, ix.IndexRecord("ns", "s1", 0, 100, 4096, 1000, "k1", []string{"t1"}))

	pos, ok, err := ix.PositionByOffset("ns", "s1", 0, 100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(4096), pos)
}

func TestIndexRecordLookupByKey(t *testing.T) {
	ix := newTestIndexer(t)
	require.NoError(t, ix.IndexRecord("ns", "s1", 0, 5, 10, 999, "order-42", nil))

	segment, pos, ok, err := ix.PositionByKey("ns", "s1", "order-42")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(0), segment)
	require.Equal(t, int64(10), pos)
}

func TestIndexRecordLookupByTag(t *testing.T) {
	ix := newTestIndexer(t)
	require.NoError(t, ix.IndexRecord("ns", "s1", 0, 1, 10, 1, "", []string{"alerts"}))
	require.NoError(t, ix.IndexRecord("ns", "s1", 0, 2, 20, 2, "", []string{"alerts"}))

	entries, err := ix.PositionsByTag("ns", "s1", "alerts")
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestIndexRecordLookupByTimestampRange(t *testing.T) {
	ix := newTestIndexer(t)
	require.NoError(t, ix.IndexRecord("ns", "s1", 0, 1, 10, 100, "", nil))
	require.NoError(t, ix.IndexRecord("ns", "s1", 0, 2, 20, 200, "", nil))
	require.NoError(t, ix.IndexRecord("ns", "s1", 0, 3, 30, 300, "", nil))

	entries, err := ix.PositionsByTimestampRange("ns", "s1", 0, 150, 250)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, uint64(200), entries[0].Timestamp)
}
