package meta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robustmq/robustmq/internal/types"
)

func TestBroadcasterFansOutToRegisteredTargets(t *testing.T) {
	b := NewBroadcaster()
	b.Start()
	defer b.Stop()

	target1 := b.Register(1)
	target2 := b.Register(2)

	b.Publish(types.Event{ResourceType: types.ResourceNode, ActionType: types.EventActionCreate})

	select {
	case evt := <-target1:
		require.Equal(t, types.ResourceNode, evt.ResourceType)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event on target1")
	}

	select {
	case evt := <-target2:
		require.Equal(t, types.ResourceNode, evt.ResourceType)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event on target2")
	}
}

func TestBroadcasterUnregisterStopsDelivery(t *testing.T) {
	b := NewBroadcaster()
	b.Start()
	defer b.Stop()

	target := b.Register(1)
	b.Unregister(1)

	_, ok := <-target
	require.False(t, ok, "unregistered target's channel should be closed")
}

func TestBroadcasterRegisterReplacesPriorSubscription(t *testing.T) {
	b := NewBroadcaster()
	b.Start()
	defer b.Stop()

	first := b.Register(1)
	b.Register(1)

	_, ok := <-first
	require.False(t, ok, "re-registering the same node should close its old channel")
}
