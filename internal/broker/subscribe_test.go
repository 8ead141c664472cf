package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robustmq/robustmq/internal/types"
)

func TestSubscribeHandlerPushesRetainedMessageOnSubscribe(t *testing.T) {
	subs := NewSubManager("c1", fakeLeaderChecker{}, fakeExclusiveChecker{})
	retain := NewRetainStore("c1", newFakeRetainStorage())
	require.NoError(t, retain.Set("a/b", types.RetainedMessage{Topic: "a/b", Payload: []byte("hi"), QoS: 2}))

	h := NewSubscribeHandler(subs, retain, nil)
	pushes, err := h.Handle(context.Background(), types.Subscription{ClientID: "c1", Path: "a/b", QoS: 1}, []string{"a/b"}, true)

	require.NoError(t, err)
	require.Len(t, pushes, 1)
	require.Equal(t, uint8(1), pushes[0].QoS) // min(msg.QoS=2, sub.QoS=1)
	require.True(t, pushes[0].RetainPush)
}

func TestSubscribeHandlerRetainHandlingNeverSkipsPush(t *testing.T) {
	subs := NewSubManager("c1", fakeLeaderChecker{}, fakeExclusiveChecker{})
	retain := NewRetainStore("c1", newFakeRetainStorage())
	require.NoError(t, retain.Set("a/b", types.RetainedMessage{Topic: "a/b", Payload: []byte("hi")}))

	h := NewSubscribeHandler(subs, retain, nil)
	pushes, err := h.Handle(context.Background(), types.Subscription{
		ClientID: "c1", Path: "a/b", QoS: 1, RetainHandling: types.RetainHandlingNever,
	}, []string{"a/b"}, true)

	require.NoError(t, err)
	require.Empty(t, pushes)
}

func TestSubscribeHandlerSendIfNewSubscriptionSkipsOnResubscribe(t *testing.T) {
	subs := NewSubManager("c1", fakeLeaderChecker{}, fakeExclusiveChecker{})
	retain := NewRetainStore("c1", newFakeRetainStorage())
	require.NoError(t, retain.Set("a/b", types.RetainedMessage{Topic: "a/b", Payload: []byte("hi")}))

	h := NewSubscribeHandler(subs, retain, nil)
	pushes, err := h.Handle(context.Background(), types.Subscription{
		ClientID: "c1", Path: "a/b", QoS: 1, RetainHandling: types.RetainHandlingSendIfNewSubscription,
	}, []string{"a/b"}, false)

	require.NoError(t, err)
	require.Empty(t, pushes)
}

func TestSubscribeHandlerRejectsDuplicateExclusive(t *testing.T) {
	subs := NewSubManager("c1", fakeLeaderChecker{}, fakeExclusiveChecker{exists: true})
	h := NewSubscribeHandler(subs, nil, nil)

	_, err := h.Handle(context.Background(), types.Subscription{ClientID: "c1", Path: "$exclusive/a/b", QoS: 1}, nil, true)
	require.Error(t, err)
}
