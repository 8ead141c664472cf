package broker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robustmq/robustmq/pkg/rmqerr"
)

type fakeFrameWriter struct {
	mu       sync.Mutex
	frames   [][]byte
	failN    int
	closed   bool
	failErr  error
}

func (w *fakeFrameWriter) WriteFrame(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failN > 0 {
		w.failN--
		if w.failErr != nil {
			return w.failErr
		}
		return errors.New("transient write error")
	}
	w.frames = append(w.frames, frame)
	return nil
}

func (w *fakeFrameWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestConnectionManagerWriteFrameSucceeds(t *testing.T) {
	m := NewConnectionManager(3, time.Millisecond)
	writer := &fakeFrameWriter{}
	id := m.Accept("mqtt5", ConnectionTCP, writer, nil)

	require.NoError(t, m.WriteFrame(id, []byte("payload")))
	require.Equal(t, [][]byte{[]byte("payload")}, writer.frames)
}

func TestConnectionManagerWriteFrameUnknownConnectionFails(t *testing.T) {
	m := NewConnectionManager(1, time.Millisecond)
	err := m.WriteFrame(999, []byte("x"))
	require.Error(t, err)
	kind, ok := rmqerr.GetKind(err)
	require.True(t, ok)
	require.Equal(t, rmqerr.KindClientUnavailable, kind)
}

func TestConnectionManagerWriteFrameRetriesTransientErrors(t *testing.T) {
	m := NewConnectionManager(3, time.Millisecond)
	writer := &fakeFrameWriter{failN: 2}
	id := m.Accept("mqtt5", ConnectionWebSocket, writer, nil)

	require.NoError(t, m.WriteFrame(id, []byte("payload")))
}

func TestConnectionManagerWriteFrameSurfacesFailedToWriteClientAfterBudget(t *testing.T) {
	m := NewConnectionManager(2, time.Millisecond)
	writer := &fakeFrameWriter{failN: 100}
	id := m.Accept("mqtt5", ConnectionTCP, writer, nil)

	err := m.WriteFrame(id, []byte("payload"))
	require.Error(t, err)
	kind, ok := rmqerr.GetKind(err)
	require.True(t, ok)
	require.Equal(t, rmqerr.KindFailedToWriteClient, kind)
}

func TestConnectionManagerWriteFrameSurfacesBrokerNotAvailable(t *testing.T) {
	m := NewConnectionManager(2, time.Millisecond)
	writer := &fakeFrameWriter{failN: 1, failErr: errors.New("broker not available: peer reset")}
	id := m.Accept("mqtt5", ConnectionTCP, writer, nil)

	err := m.WriteFrame(id, []byte("payload"))
	require.Error(t, err)
	kind, ok := rmqerr.GetKind(err)
	require.True(t, ok)
	require.Equal(t, rmqerr.KindBrokerNotAvailable, kind)
}

func TestConnectionManagerCloseConnectRunsStopHookAndClosesWriter(t *testing.T) {
	m := NewConnectionManager(1, time.Millisecond)
	writer := &fakeFrameWriter{}

	var hookCalled uint64
	id := m.Accept("mqtt5", ConnectionTCP, writer, func(connectionID uint64) {
		hookCalled = connectionID
	})

	m.CloseConnect(id)

	require.True(t, writer.closed)
	require.Equal(t, id, hookCalled)
	_, ok := m.Info(id)
	require.False(t, ok)
	require.Equal(t, 0, m.Count())
}

func TestConnectionManagerCloseConnectUnknownIDIsNoop(t *testing.T) {
	m := NewConnectionManager(1, time.Millisecond)
	m.CloseConnect(12345)
}
