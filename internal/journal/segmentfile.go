package journal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/robustmq/robustmq/internal/types"
)

// SegmentFile is one segment's on-disk file: namespace/shard_name/segment_seq.msg
// under a replica's data fold, append-only and read by offset or by a
// previously-recorded byte position.
type SegmentFile struct {
	Namespace  string
	ShardName  string
	SegmentSeq uint32
	DataFold   string
}

func (s SegmentFile) shardFold() string {
	return filepath.Join(s.DataFold, s.Namespace, s.ShardName)
}

func (s SegmentFile) path() string {
	return filepath.Join(s.shardFold(), strconv.FormatUint(uint64(s.SegmentSeq), 10)+".msg")
}

// TryCreate ensures the segment's file exists, creating its shard
// directory and an empty file if absent. Safe to call repeatedly.
func (s SegmentFile) TryCreate() error {
	if err := os.MkdirAll(s.shardFold(), 0755); err != nil {
		return fmt.Errorf("create shard fold: %w", err)
	}
	if s.Exists() {
		return nil
	}
	f, err := os.Create(s.path())
	if err != nil {
		return fmt.Errorf("create segment file: %w", err)
	}
	return f.Close()
}

// Delete removes the segment's file.
func (s SegmentFile) Delete() error {
	if !s.Exists() {
		return fmt.Errorf("segment file does not exist: %s", s.path())
	}
	return os.Remove(s.path())
}

// Exists reports whether the segment's file is present on disk.
func (s SegmentFile) Exists() bool {
	_, err := os.Stat(s.path())
	return err == nil
}

// Size returns the segment file's current byte length.
func (s SegmentFile) Size() (int64, error) {
	info, err := os.Stat(s.path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Write appends records to the segment file in order, one frame per
// record.
func (s SegmentFile) Write(records []types.Record) error {
	f, err := os.OpenFile(s.path(), os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open segment file for append: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, rec := range records {
		if _, err := EncodeRecord(w, rec); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush segment file: %w", err)
	}
	return f.Sync()
}

// ReadByOffset scans forward from startPosition, returning every record
// whose offset is >= startOffset, until either maxSize bytes of record
// bodies or maxRecords records have been collected.
func (s SegmentFile) ReadByOffset(startPosition int64, startOffset uint64, maxSize uint64, maxRecords int) ([]ReadResult, error) {
	f, err := os.Open(s.path())
	if err != nil {
		return nil, fmt.Errorf("open segment file for read: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(startPosition, io.SeekStart); err != nil {
		return nil, err
	}
	reader := bufio.NewReader(f)

	var results []ReadResult
	var consumed uint64
	position := startPosition

	for consumed <= maxSize {
		offset, body, err := ReadFrame(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		frameLen := int64(frameHeaderSize + len(body))

		if offset < startOffset {
			position += frameLen
			continue
		}

		rec, err := decodeRecord(body)
		if err != nil {
			return nil, err
		}
		results = append(results, ReadResult{Position: position, Record: rec})
		consumed += uint64(len(body))
		position += frameLen

		if len(results) >= maxRecords {
			break
		}
	}
	return results, nil
}

// ReadByPositions reads one record from each given byte position,
// skipping positions past the end of the file.
func (s SegmentFile) ReadByPositions(positions []int64) ([]ReadResult, error) {
	f, err := os.Open(s.path())
	if err != nil {
		return nil, fmt.Errorf("open segment file for read: %w", err)
	}
	defer f.Close()

	var results []ReadResult
	for _, pos := range positions {
		if _, err := f.Seek(pos, io.SeekStart); err != nil {
			return nil, err
		}
		reader := bufio.NewReader(f)
		_, body, err := ReadFrame(reader)
		if err == io.EOF {
			continue
		}
		if err != nil {
			return nil, err
		}
		rec, err := decodeRecord(body)
		if err != nil {
			return nil, err
		}
		results = append(results, ReadResult{Position: pos, Record: rec})
	}
	return results, nil
}
