package journal

import (
	"encoding/binary"

	"github.com/robustmq/robustmq/internal/kv"
	"github.com/robustmq/robustmq/internal/types"
)

// Indexer maintains the position/key/tag/timestamp indices that make a
// shard's records addressable beyond raw offset scans. Every index value
// is the same IndexEntry shape, encoded as a fixed 28-byte record so
// range scans never need to decode JSON just to order entries.
type Indexer struct {
	store *kv.Store
}

func NewIndexer(store *kv.Store) *Indexer {
	return &Indexer{store: store}
}

func encodeIndexEntry(segment uint32, offset uint64, position int64, timestamp uint64) []byte {
	buf := make([]byte, 4+8+8+8)
	binary.BigEndian.PutUint32(buf[0:4], segment)
	binary.BigEndian.PutUint64(buf[4:12], offset)
	binary.BigEndian.PutUint64(buf[12:20], uint64(position))
	binary.BigEndian.PutUint64(buf[20:28], timestamp)
	return buf
}

func decodeIndexEntry(buf []byte) (segment uint32, offset uint64, position int64, timestamp uint64) {
	segment = binary.BigEndian.Uint32(buf[0:4])
	offset = binary.BigEndian.Uint64(buf[4:12])
	position = int64(binary.BigEndian.Uint64(buf[12:20]))
	timestamp = binary.BigEndian.Uint64(buf[20:28])
	return
}

// IndexRecord records every index entry for one appended record: its
// position (always), and its key/tag/timestamp entries when present.
func (ix *Indexer) IndexRecord(namespace, shardName string, segment uint32, offset uint64, position int64, timestamp uint64, key string, tags []string) error {
	entry := encodeIndexEntry(segment, offset, position, timestamp)

	if err := ix.store.Put(kv.CFPosition, kv.PositionIndexKey(namespace, shardName, segment, offset), entry); err != nil {
		return err
	}
	if key != "" {
		if err := ix.store.Put(kv.CFKey, kv.KeyIndexKey(namespace, shardName, key), entry); err != nil {
			return err
		}
	}
	for _, tag := range tags {
		if err := ix.store.Put(kv.CFTag, kv.TagIndexKey(namespace, shardName, tag, offset), entry); err != nil {
			return err
		}
	}
	if err := ix.store.Put(kv.CFTimestamp, kv.TimestampIndexKey(namespace, shardName, segment, timestamp), entry); err != nil {
		return err
	}
	return nil
}

// PositionByOffset returns the byte position of the record at the given
// segment/offset, if indexed.
func (ix *Indexer) PositionByOffset(namespace, shardName string, segment uint32, offset uint64) (int64, bool, error) {
	raw, ok, err := ix.store.Get(kv.CFPosition, kv.PositionIndexKey(namespace, shardName, segment, offset))
	if err != nil || !ok {
		return 0, ok, err
	}
	_, _, position, _ := decodeIndexEntry(raw)
	return position, true, nil
}

// PositionByKey returns the most recently indexed record's coordinates
// for an exact key match.
func (ix *Indexer) PositionByKey(namespace, shardName, key string) (segment uint32, position int64, found bool, err error) {
	raw, ok, err := ix.store.Get(kv.CFKey, kv.KeyIndexKey(namespace, shardName, key))
	if err != nil || !ok {
		return 0, 0, ok, err
	}
	segment, _, position, _ = decodeIndexEntry(raw)
	return segment, position, true, nil
}

// PositionsByTag returns every indexed record's coordinates carrying tag.
func (ix *Indexer) PositionsByTag(namespace, shardName, tag string) ([]types.IndexEntry, error) {
	var out []types.IndexEntry
	err := ix.store.PrefixScan(kv.CFTag, kv.TagIndexPrefix(namespace, shardName, tag), func(key string, value []byte) bool {
		segment, offset, position, timestamp := decodeIndexEntry(value)
		out = append(out, types.IndexEntry{Segment: segment, Offset: offset, Position: position, Timestamp: timestamp})
		return true
	})
	return out, err
}

// PositionsByTimestampRange returns every indexed entry in a segment
// whose timestamp falls in [from, to].
func (ix *Indexer) PositionsByTimestampRange(namespace, shardName string, segment uint32, from, to uint64) ([]types.IndexEntry, error) {
	var out []types.IndexEntry
	err := ix.store.PrefixScan(kv.CFTimestamp, kv.TimestampIndexPrefix(namespace, shardName, segment), func(key string, value []byte) bool {
		_, offset, position, timestamp := decodeIndexEntry(value)
		if timestamp >= from && timestamp <= to {
			out = append(out, types.IndexEntry{Segment: segment, Offset: offset, Position: position, Timestamp: timestamp})
		}
		return true
	})
	return out, err
}
