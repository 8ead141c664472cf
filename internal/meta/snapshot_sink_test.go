package meta

import (
	"bytes"
	"io"
)

// fakeSnapshotSink is a raft.SnapshotSink backed by an in-memory buffer,
// used to round-trip Persist/Restore in tests without a real
// raft.FileSnapshotStore.
type fakeSnapshotSink struct {
	buf *bytes.Buffer
}

func newFakeSnapshotSink() *fakeSnapshotSink {
	return &fakeSnapshotSink{buf: &bytes.Buffer{}}
}

func (s *fakeSnapshotSink) Write(p []byte) (int, error) { return s.buf.Write(p) }
func (s *fakeSnapshotSink) Close() error                { return nil }
func (s *fakeSnapshotSink) ID() string                  { return "test-snapshot" }
func (s *fakeSnapshotSink) Cancel() error                { return nil }

func (s *fakeSnapshotSink) reader() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(s.buf.Bytes()))
}
