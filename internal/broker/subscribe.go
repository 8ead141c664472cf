package broker

import (
	"context"

	"github.com/robustmq/robustmq/internal/types"
	"github.com/robustmq/robustmq/pkg/config"
)

// retainPushProperty is the name of the fixed user property that marks a
// retained push as distinct from a live publish. This package does not
// attach it to any packet: retained pushes are marked only by
// DeliveredPublish.RetainPush.
const retainPushProperty = "$system_srmpf"

// SubscribeHandler runs the full SUBSCRIBE path: classify the
// subscription (exclusive / share-leader / share-follower, enforcing
// $exclusive uniqueness), start its push loop if it landed as exclusive
// or share-leader, and push any currently retained messages that match.
type SubscribeHandler struct {
	subs     *SubManager
	retain   *RetainStore
	delivery *DeliveryManager
}

func NewSubscribeHandler(subs *SubManager, retain *RetainStore, delivery *DeliveryManager) *SubscribeHandler {
	return &SubscribeHandler{subs: subs, retain: retain, delivery: delivery}
}

// Handle accepts one subscription. knownTopics is every topic name
// currently known to have data, for exclusive/share-leader
// materialisation; newSub distinguishes a brand new SUBSCRIBE from a
// resubscribe, for RetainHandlingSendIfNewSubscription.
func (h *SubscribeHandler) Handle(ctx context.Context, sub types.Subscription, knownTopics []string, newSub bool) ([]types.DeliveredPublish, error) {
	if err := h.subs.Subscribe(sub, knownTopics); err != nil {
		return nil, err
	}

	path := trimExclusive(sub.Path)
	var matching []string
	for _, topic := range knownTopics {
		if matchesOne(path, topic) {
			matching = append(matching, topic)
		}
	}

	if h.delivery != nil {
		h.startPushLoops(ctx, sub, matching)
	}

	return h.retainedPush(sub, matching, newSub)
}

func (h *SubscribeHandler) startPushLoops(ctx context.Context, sub types.Subscription, matching []string) {
	for _, topic := range matching {
		if sub.IsShared() {
			_, leaderEntries := h.subs.MatchingEntries(topic)
			for _, entry := range leaderEntries {
				if entry.GroupName == sub.FilterGroup {
					h.delivery.StartShareLeader(ctx, leaderKey(entry.GroupName, entry.TopicName), entry)
				}
			}
			continue
		}
		exclEntries, _ := h.subs.MatchingEntries(topic)
		for _, entry := range exclEntries {
			if entry.ClientID == sub.ClientID {
				h.delivery.StartExclusive(ctx, entry)
			}
		}
	}
}

// retainedPush builds the retained-message deliveries triggered by this
// SUBSCRIBE, per §4.3.5: qos is the least of the retained message's qos,
// the filter's granted qos and the cluster max, and retain_as_published
// is true only when the filter preserves it.
func (h *SubscribeHandler) retainedPush(sub types.Subscription, matching []string, newSub bool) ([]types.DeliveredPublish, error) {
	if h.retain == nil {
		return nil, nil
	}
	switch sub.RetainHandling {
	case types.RetainHandlingNever:
		return nil, nil
	case types.RetainHandlingSendIfNewSubscription:
		if !newSub {
			return nil, nil
		}
	}

	msgs, err := h.retain.MatchingRetained(matching)
	if err != nil {
		return nil, err
	}

	maxQoS := config.Get().Protocol.MaxQoS
	out := make([]types.DeliveredPublish, 0, len(msgs))
	for _, msg := range msgs {
		qos := msg.QoS
		if sub.QoS < qos {
			qos = sub.QoS
		}
		if maxQoS < qos {
			qos = maxQoS
		}
		out = append(out, types.DeliveredPublish{
			Topic:                  msg.Topic,
			Payload:                msg.Payload,
			QoS:                    qos,
			Retain:                 sub.PreserveRetain,
			SubscriptionIdentifier: sub.SubscriptionIdentifier,
			RetainPush:             true,
		})
	}
	return out, nil
}
