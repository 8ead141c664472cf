// Package journal implements the append-only journal storage engine: a
// file-backed segment writer/reader, the position/key/tag/timestamp
// indices that make records addressable, the segment lifecycle (roll at
// 50%/90% fill), and the journal server's gRPC surface.
package journal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/robustmq/robustmq/internal/types"
)

// frameHeaderSize is [offset:u64][length:u32], the fixed prefix before
// every record body in a segment file.
const frameHeaderSize = 8 + 4

// EncodeRecord writes one frame to w: an 8-byte big-endian offset, a
// 4-byte big-endian body length, then the JSON-encoded record body.
// Offset is duplicated in the frame header so a reader can scan forward
// by offset without decoding every body.
func EncodeRecord(w io.Writer, rec types.Record) (int, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("encode record: %w", err)
	}

	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint64(header[0:8], rec.Offset)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(body)))

	if _, err := w.Write(header); err != nil {
		return 0, err
	}
	if _, err := w.Write(body); err != nil {
		return 0, err
	}
	return frameHeaderSize + len(body), nil
}

// ReadResult pairs a decoded record with the byte position its frame
// started at, so callers can cache that position for a later
// read-by-position lookup.
type ReadResult struct {
	Position int64
	Record   types.Record
}

// ReadFrame reads one frame from r, returning io.EOF once the stream is
// exhausted cleanly between frames.
func ReadFrame(r *bufio.Reader) (offset uint64, body []byte, err error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	offset = binary.BigEndian.Uint64(header[0:8])
	length := binary.BigEndian.Uint32(header[8:12])

	body = make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("read record body: %w", err)
	}
	return offset, body, nil
}

func decodeRecord(body []byte) (types.Record, error) {
	var rec types.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return types.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
