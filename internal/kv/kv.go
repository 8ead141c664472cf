// Package kv wraps an embedded bbolt database behind a generic
// column-family key/value abstraction: get/put/delete, prefix iteration,
// and atomic batches. Meta's Raft state, shard/segment records, MQTT
// resource records, and the journal's position/key/tag/timestamp indices
// all live under dedicated column families on the same store.
package kv

import (
	"bytes"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// ColumnFamily names a bbolt bucket. Column families are created on
// Open and never removed at runtime.
type ColumnFamily string

const (
	CFMeta        ColumnFamily = "meta"         // Raft-replicated cluster records, keyed per keys.go
	CFRaftLog     ColumnFamily = "raft_log"      // metasrv_first_index / last_index / hard_state / conf_state / entry_<idx>
	CFPosition    ColumnFamily = "journal_position"  // seg_base(shard,seg)/offset -> IndexEntry
	CFKey         ColumnFamily = "journal_key"       // seg_base(shard)/key -> IndexEntry
	CFTag         ColumnFamily = "journal_tag"       // seg_base(shard)/tag/offset -> IndexEntry
	CFTimestamp   ColumnFamily = "journal_timestamp" // seg_base(shard,seg)/timestamp -> IndexEntry
)

var allColumnFamilies = []ColumnFamily{CFMeta, CFRaftLog, CFPosition, CFKey, CFTag, CFTimestamp}

// Store is an embedded, column-family keyed key/value engine.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt file under dataDir and
// ensures every column family's bucket exists.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "robustmq.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, cf := range allColumnFamilies {
			if _, err := tx.CreateBucketIfNotExists([]byte(cf)); err != nil {
				return fmt.Errorf("create column family %s: %w", cf, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes a single key/value pair in one transaction.
func (s *Store) Put(cf ColumnFamily, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(cf)).Put([]byte(key), value)
	})
}

// Get reads a single value. The returned bool is false if the key is
// absent; no error is returned in that case.
func (s *Store) Get(cf ColumnFamily, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(cf)).Get([]byte(key))
		if v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	return value, value != nil, err
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *Store) Delete(cf ColumnFamily, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(cf)).Delete([]byte(key))
	})
}

// PrefixScan calls fn for every key/value pair in cf whose key starts
// with prefix, in key order. Stops early if fn returns false.
func (s *Store) PrefixScan(cf ColumnFamily, prefix string, fn func(key string, value []byte) bool) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(cf)).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if !fn(string(k), v) {
				break
			}
		}
		return nil
	})
}

// ForEach calls fn for every key/value pair in cf, in key order.
func (s *Store) ForEach(cf ColumnFamily, fn func(key string, value []byte) bool) error {
	return s.PrefixScan(cf, "", fn)
}

// BatchOp is one write within an atomic Batch call.
type BatchOp struct {
	CF     ColumnFamily
	Key    string
	Value  []byte // written as given unless Delete is set
	Delete bool
}

// Batch applies every op atomically in a single bbolt transaction.
func (s *Store) Batch(ops []BatchOp) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, op := range ops {
			b := tx.Bucket([]byte(op.CF))
			if b == nil {
				return fmt.Errorf("unknown column family %s", op.CF)
			}
			if op.Delete {
				if err := b.Delete([]byte(op.Key)); err != nil {
					return err
				}
				continue
			}
			if err := b.Put([]byte(op.Key), op.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Snapshot dumps every (key, raw_bytes) tuple in cf, for meta's
// column-family snapshot build step.
func (s *Store) Snapshot(cf ColumnFamily) ([][2][]byte, error) {
	var tuples [][2][]byte
	err := s.ForEach(cf, func(key string, value []byte) bool {
		tuples = append(tuples, [2][]byte{[]byte(key), append([]byte(nil), value...)})
		return true
	})
	return tuples, err
}

// Restore writes tuples back into cf byte-for-byte, for meta's snapshot
// recovery step. Existing keys not present in tuples are left untouched;
// callers that need exact replacement should clear the CF first.
func (s *Store) Restore(cf ColumnFamily, tuples [][2][]byte) error {
	ops := make([]BatchOp, len(tuples))
	for i, t := range tuples {
		ops[i] = BatchOp{CF: cf, Key: string(t[0]), Value: t[1]}
	}
	return s.Batch(ops)
}
