package broker

import (
	"context"
	"sync"
	"time"

	"github.com/robustmq/robustmq/internal/types"
	"github.com/robustmq/robustmq/pkg/config"
	"github.com/robustmq/robustmq/pkg/log"
)

// StoredRecord is one record read back from the topic's durable log for
// delivery, per §4.3.4.
type StoredRecord struct {
	Offset            uint64
	Payload           []byte
	PublisherClientID string
	Retain            bool
	MessageExpiryUnixS int64
}

// RecordReader reads the next batch of records for topic starting at
// offset (exclusive of anything already delivered up to offset).
// Implemented by internal/client against internal/journal.
type RecordReader interface {
	ReadFrom(topic string, offset uint64, maxRecords int) ([]StoredRecord, error)
}

// OffsetStore persists each push loop's committed consumer offset so
// delivery resumes after a restart instead of redelivering the whole log.
type OffsetStore interface {
	LoadOffset(loopKey string) (uint64, bool, error)
	SaveOffset(loopKey string, offset uint64) error
}

// Dispatcher hands a resolved DeliveredPublish to the connection manager
// for one subscriber, and drives the QoS 1/2 ack handshake against the
// ack registry and PKID allocator.
type Dispatcher interface {
	Dispatch(ctx context.Context, clientID string, pub types.DeliveredPublish) error
}

const deliveryBatchSize = 64

// pushLoop drives delivery for exactly one exclusive subscription or one
// share-leader (group, topic) entry.
type pushLoop struct {
	key        string
	topic      string
	cancel     context.CancelFunc
	newRecord  chan struct{}
}

// DeliveryManager owns one push loop per exclusive subscription and per
// share-leader (group, topic) entry, per §4.3.4.
type DeliveryManager struct {
	mu    sync.Mutex
	loops map[string]*pushLoop

	subs       *SubManager
	reader     RecordReader
	offsets    OffsetStore
	dispatcher Dispatcher
	acks       *AckRegistry
	pkids      map[string]*PKIDAllocator // scoped per client_id
	pkidsMu    sync.Mutex
}

func NewDeliveryManager(subs *SubManager, reader RecordReader, offsets OffsetStore, dispatcher Dispatcher, acks *AckRegistry) *DeliveryManager {
	return &DeliveryManager{
		loops:      make(map[string]*pushLoop),
		subs:       subs,
		reader:     reader,
		offsets:    offsets,
		dispatcher: dispatcher,
		acks:       acks,
		pkids:      make(map[string]*PKIDAllocator),
	}
}

func (d *DeliveryManager) pkidFor(clientID string) *PKIDAllocator {
	d.pkidsMu.Lock()
	defer d.pkidsMu.Unlock()
	a, ok := d.pkids[clientID]
	if !ok {
		a = NewPKIDAllocator()
		d.pkids[clientID] = a
	}
	return a
}

// StartExclusive starts (or no-ops if already running) the push loop for
// one exclusive subscriber on topic.
func (d *DeliveryManager) StartExclusive(ctx context.Context, entry types.ExclusiveEntry) {
	key := "excl\x00" + exclusiveKey(entry.ClientID, entry.TopicName)
	d.start(ctx, key, entry.TopicName, func(ctx context.Context, records []StoredRecord) {
		for _, rec := range records {
			d.deliverOne(ctx, entry.ClientID, entry.Sub, rec)
		}
	})
}

// StartShareLeader starts the push loop for a share-leader (group, topic)
// entry, round-robin distributing records across its current subscribers
// by shard-offset per §4.3.4.
func (d *DeliveryManager) StartShareLeader(ctx context.Context, leaderKeyStr string, entry *types.ShareLeaderEntry) {
	key := "lead\x00" + leaderKeyStr
	d.start(ctx, key, entry.TopicName, func(ctx context.Context, records []StoredRecord) {
		for _, rec := range records {
			clientID, sub, ok := pickShareSubscriber(entry, rec.Offset)
			if !ok {
				continue
			}
			d.deliverOne(ctx, clientID, sub, rec)
		}
	})
}

// pickShareSubscriber assigns record at shard-offset k to subscriber
// k mod N, round-robin by offset, per §4.3.4's shared-subscription
// distribution rule. Subscriber order is the sorted client-id order, so
// the assignment is stable across calls within one membership snapshot.
func pickShareSubscriber(entry *types.ShareLeaderEntry, offset uint64) (string, types.Subscription, bool) {
	if len(entry.Subscribers) == 0 {
		return "", types.Subscription{}, false
	}
	ids := make([]string, 0, len(entry.Subscribers))
	for id := range entry.Subscribers {
		ids = append(ids, id)
	}
	sortStrings(ids)
	chosen := ids[int(offset)%len(ids)]
	return chosen, entry.Subscribers[chosen], true
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j] < ss[j-1]; j-- {
			ss[j], ss[j-1] = ss[j-1], ss[j]
		}
	}
}

func (d *DeliveryManager) start(ctx context.Context, key, topic string, handle func(context.Context, []StoredRecord)) {
	d.mu.Lock()
	if _, exists := d.loops[key]; exists {
		d.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	loop := &pushLoop{key: key, topic: topic, cancel: cancel, newRecord: make(chan struct{}, 1)}
	d.loops[key] = loop
	d.mu.Unlock()

	go d.run(loopCtx, loop, handle)
}

// Stop cancels a running push loop, e.g. on final unsubscribe.
func (d *DeliveryManager) Stop(key string) {
	d.mu.Lock()
	loop, ok := d.loops[key]
	if ok {
		delete(d.loops, key)
	}
	d.mu.Unlock()
	if ok {
		loop.cancel()
	}
}

// NotifyNewRecord wakes every push loop reading topic so it checks for
// new data without waiting out its idle poll interval.
func (d *DeliveryManager) NotifyNewRecord(topic string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, loop := range d.loops {
		if loop.topic != topic {
			continue
		}
		select {
		case loop.newRecord <- struct{}{}:
		default:
		}
	}
}

const idlePollInterval = 500 * time.Millisecond

func (d *DeliveryManager) run(ctx context.Context, loop *pushLoop, handle func(context.Context, []StoredRecord)) {
	offset, _, err := d.offsets.LoadOffset(loop.key)
	if err != nil {
		log.WithComponent("broker.delivery").Error().Err(err).Str("loop", loop.key).Msg("failed to load consumer offset, starting from zero")
	}

	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-loop.newRecord:
		case <-ticker.C:
		}

		records, err := d.reader.ReadFrom(loop.topic, offset, deliveryBatchSize)
		if err != nil {
			log.WithComponent("broker.delivery").Error().Err(err).Str("loop", loop.key).Msg("read failed")
			continue
		}
		if len(records) == 0 {
			continue
		}

		now := time.Now()
		fresh := records[:0:0]
		for _, rec := range records {
			if rec.MessageExpiryUnixS != 0 && now.Unix() > rec.MessageExpiryUnixS {
				continue
			}
			fresh = append(fresh, rec)
		}

		handle(ctx, fresh)

		offset = records[len(records)-1].Offset + 1
		if err := d.offsets.SaveOffset(loop.key, offset); err != nil {
			log.WithComponent("broker.delivery").Error().Err(err).Str("loop", loop.key).Msg("failed to persist consumer offset")
		}
	}
}

func (d *DeliveryManager) deliverOne(ctx context.Context, clientID string, sub types.Subscription, rec StoredRecord) {
	if sub.NoLocal && rec.PublisherClientID == clientID {
		return
	}

	qos := sub.QoS
	if maxQoS := config.Get().Protocol.MaxQoS; qos > maxQoS {
		qos = maxQoS
	}
	retain := false
	if sub.PreserveRetain {
		retain = rec.Retain
	}

	pub := types.DeliveredPublish{
		Topic:                  "",
		Payload:                rec.Payload,
		QoS:                    qos,
		Retain:                 retain,
		SubscriptionIdentifier: sub.SubscriptionIdentifier,
	}

	switch qos {
	case 0:
		_ = d.dispatcher.Dispatch(ctx, clientID, pub)
	case 1:
		d.dispatchWithAck(ctx, clientID, pub)
	case 2:
		d.dispatchWithAck(ctx, clientID, pub)
	}
}

const (
	ackRetryInterval = 2 * time.Second
	ackRetryBudget   = 3
)

// dispatchWithAck allocates a PKID, installs an ack waiter, sends, and
// retries with dup=true on timeout up to ackRetryBudget attempts. For
// QoS 1 the waiter is satisfied by PUBACK; for QoS 2 it's satisfied by
// PUBREC, with the PUBREL/PUBCOMP leg driven by the connection's inbound
// packet handler against a second ack registration it makes itself.
func (d *DeliveryManager) dispatchWithAck(ctx context.Context, clientID string, pub types.DeliveredPublish) {
	alloc := d.pkidFor(clientID)
	pkid, ok := alloc.Allocate()
	if !ok {
		log.WithComponent("broker.delivery").Warn().Str("client_id", clientID).Msg("pkid space exhausted, dropping delivery")
		return
	}
	defer alloc.Release(pkid)

	pub.PKID = pkid
	notify := d.acks.Register(clientID, pkid)
	defer d.acks.Abandon(clientID, pkid)

	for attempt := 0; attempt <= ackRetryBudget; attempt++ {
		pub.Dup = attempt > 0
		if err := d.dispatcher.Dispatch(ctx, clientID, pub); err != nil {
			log.WithComponent("broker.delivery").Error().Err(err).Str("client_id", clientID).Msg("dispatch failed")
			return
		}
		select {
		case <-notify:
			return
		case <-ctx.Done():
			return
		case <-time.After(ackRetryInterval):
			continue
		}
	}
	log.WithComponent("broker.delivery").Warn().Str("client_id", clientID).Uint16("pkid", pkid).Msg("ack retry budget exhausted")
}
