package broker

import (
	"context"
	"time"

	"github.com/robustmq/robustmq/internal/types"
	"github.com/robustmq/robustmq/pkg/config"
)

// Broker wires together every collaborator that makes up the MQTT
// subscription and delivery engine: the subscribe classifier, retain
// store, push-loop delivery manager, publish path, connection manager,
// and the dynamic cluster-config cache. Constructed once per broker
// process by cmd/mqtt-broker.
type Broker struct {
	Cluster string

	Connections *ConnectionManager
	Subs        *SubManager
	Retain      *RetainStore
	Rewrite     *RewriteEngine
	Acks        *AckRegistry
	Delivery    *DeliveryManager
	Publisher   *Publisher
	SubHandler  *SubscribeHandler
	Dynamic     *DynamicCache
}

// Deps are the external collaborators a Broker needs, all implemented by
// internal/client against meta and journal.
type Deps struct {
	LeaderCheck    ShareLeaderChecker
	ExclusiveCheck ExclusiveChecker
	RetainStorage  RetainStorage
	Appender       RecordAppender
	Reader         RecordReader
	Offsets        OffsetStore
	Dispatcher     Dispatcher
}

const (
	defaultConnMaxRetries = 3
	defaultConnRetrySleep = 50 * time.Millisecond
)

// NewBroker assembles a Broker for cluster from deps. Connection-manager
// retry tuning is pulled from the process-wide ClusterConfig, so
// config.Init must have already run.
func NewBroker(cluster string, deps Deps) *Broker {
	connCfg := config.Get().Connection

	maxRetries := connCfg.LockMaxTryMutTimes
	if maxRetries <= 0 {
		maxRetries = defaultConnMaxRetries
	}
	retrySleep := defaultConnRetrySleep
	if connCfg.LockTryMutSleepTimeMs > 0 {
		retrySleep = time.Duration(connCfg.LockTryMutSleepTimeMs) * time.Millisecond
	}

	subs := NewSubManager(cluster, deps.LeaderCheck, deps.ExclusiveCheck)
	retain := NewRetainStore(cluster, deps.RetainStorage)
	rewrite := NewRewriteEngine()
	acks := NewAckRegistry()
	delivery := NewDeliveryManager(subs, deps.Reader, deps.Offsets, deps.Dispatcher, acks)
	publisher := NewPublisher(cluster, rewrite, retain, subs, deps.Appender, delivery)
	subscribeHandler := NewSubscribeHandler(subs, retain, delivery)

	return &Broker{
		Cluster:     cluster,
		Connections: NewConnectionManager(maxRetries, retrySleep),
		Subs:        subs,
		Retain:      retain,
		Rewrite:     rewrite,
		Acks:        acks,
		Delivery:    delivery,
		Publisher:   publisher,
		SubHandler:  subscribeHandler,
		Dynamic:     NewDynamicCache(rewrite),
	}
}

// ApplyEvent folds one meta-broadcast cache-invalidation event into the
// broker's dynamic cache.
func (b *Broker) ApplyEvent(event types.Event) {
	b.Dynamic.Apply(event)
}

// Publish runs the full PUBLISH path for one message.
func (b *Broker) Publish(rec types.PublishRecord, limits PublishLimits) (PublishResult, error) {
	return b.Publisher.Publish(rec, limits)
}

// Subscribe runs the full SUBSCRIBE path for one subscription.
func (b *Broker) Subscribe(ctx context.Context, sub types.Subscription, knownTopics []string, newSub bool) ([]types.DeliveredPublish, error) {
	return b.SubHandler.Handle(ctx, sub, knownTopics, newSub)
}

// Unsubscribe tears down a subscription and its push loop, if any.
func (b *Broker) Unsubscribe(clientID, rawFilter string) {
	path, group, _ := ResolveFilter(rawFilter)
	b.Subs.Unsubscribe(clientID, rawFilter)
	if group != "" {
		b.Delivery.Stop("lead\x00" + leaderKey(group, path))
	} else {
		b.Delivery.Stop("excl\x00" + exclusiveKey(clientID, path))
	}
}

// Disconnect tears down connection state and abandons any in-flight acks
// for clientID.
func (b *Broker) Disconnect(connectionID uint64, clientID string) {
	b.Connections.CloseConnect(connectionID)
	b.Acks.AbandonAll(clientID)
}
