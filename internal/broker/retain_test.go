package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robustmq/robustmq/internal/types"
)

type fakeRetainStorage struct {
	mu    sync.Mutex
	calls int
	data  map[string]types.RetainedMessage
}

func newFakeRetainStorage() *fakeRetainStorage {
	return &fakeRetainStorage{data: make(map[string]types.RetainedMessage)}
}

func (f *fakeRetainStorage) GetRetainMessage(cluster, topic string) (*types.RetainedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	msg, ok := f.data[topic]
	if !ok {
		return nil, nil
	}
	m := msg
	return &m, nil
}

func (f *fakeRetainStorage) SetRetainMessage(cluster, topic string, msg types.RetainedMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[topic] = msg
	return nil
}

func (f *fakeRetainStorage) DeleteRetainMessage(cluster, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, topic)
	return nil
}

func TestRetainStoreSetThenGetHitsCacheNotStorage(t *testing.T) {
	backing := newFakeRetainStorage()
	r := NewRetainStore("c1", backing)

	require.NoError(t, r.Set("a/b", types.RetainedMessage{Topic: "a/b", Payload: []byte("hi"), QoS: 1}))
	require.Equal(t, 0, backing.calls)

	msg, err := r.Get("a/b")
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, []byte("hi"), msg.Payload)
	require.Equal(t, 0, backing.calls, "fresh cache entry should not hit storage")
}

func TestRetainStoreEmptyPayloadDeletes(t *testing.T) {
	backing := newFakeRetainStorage()
	r := NewRetainStore("c1", backing)

	require.NoError(t, r.Set("a/b", types.RetainedMessage{Topic: "a/b", Payload: []byte("hi")}))
	require.NoError(t, r.Set("a/b", types.RetainedMessage{Topic: "a/b", Payload: nil}))

	msg, err := r.Get("a/b")
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestRetainStoreReloadsAfterTTLExpires(t *testing.T) {
	backing := newFakeRetainStorage()
	require.NoError(t, backing.SetRetainMessage("c1", "a/b", types.RetainedMessage{Topic: "a/b", Payload: []byte("v1")}))

	r := NewRetainStore("c1", backing)
	r.mu.Lock()
	r.cache["a/b"] = retainCacheEntry{msg: &types.RetainedMessage{Topic: "a/b", Payload: []byte("stale")}, fetchedAt: time.Now().Add(-retainFreshnessTTL - time.Second)}
	r.mu.Unlock()

	msg, err := r.Get("a/b")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), msg.Payload)
	require.Equal(t, 1, backing.calls)
}

func TestRetainStoreMatchingRetainedSkipsTopicsWithNone(t *testing.T) {
	backing := newFakeRetainStorage()
	r := NewRetainStore("c1", backing)
	require.NoError(t, r.Set("a/b", types.RetainedMessage{Topic: "a/b", Payload: []byte("hi")}))

	out, err := r.MatchingRetained([]string{"a/b", "a/c"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "a/b", out[0].Topic)
}
