package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robustmq/robustmq/pkg/rmqerr"
)

func TestPoolGetCachesConnection(t *testing.T) {
	p := NewPool()
	defer p.Close()

	c1, err := p.Get("127.0.0.1:0")
	require.NoError(t, err)

	c2, err := p.Get("127.0.0.1:0")
	require.NoError(t, err)

	assert.Same(t, c1, c2)
}

func TestPoolInvalidateForcesRedial(t *testing.T) {
	p := NewPool()
	defer p.Close()

	c1, err := p.Get("127.0.0.1:0")
	require.NoError(t, err)

	p.Invalidate("127.0.0.1:0")

	c2, err := p.Get("127.0.0.1:0")
	require.NoError(t, err)

	assert.NotSame(t, c1, c2)
}

func TestLeaderTrackerUpdateFromError(t *testing.T) {
	lt := &LeaderTracker{}

	updated := lt.UpdateFromError(rmqerr.New(rmqerr.KindShardNotExist, "nope"))
	assert.False(t, updated)
	assert.Empty(t, lt.Get())

	updated = lt.UpdateFromError(rmqerr.New(rmqerr.KindNotLeader, "retry").WithHint("10.0.0.2:9981"))
	assert.True(t, updated)
	assert.Equal(t, "10.0.0.2:9981", lt.Get())
}
