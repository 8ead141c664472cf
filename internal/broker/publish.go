package broker

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/robustmq/robustmq/internal/types"
	"github.com/robustmq/robustmq/pkg/config"
	"github.com/robustmq/robustmq/pkg/rmqerr"
)

// RecordAppender persists a published message to the durable log backing
// its topic and returns the assigned offset. Implemented by internal/client
// against internal/journal's ShardCoordinator, with topic-to-shard
// resolution owned by the wiring layer rather than this package.
type RecordAppender interface {
	Append(topic string, rec types.PublishRecord) (offset uint64, err error)
}

// PublishLimits are the per-connection overrides of the cluster-wide
// ProtocolLimits; a zero value in any field means "defer to cluster max".
type PublishLimits struct {
	MaxPacketSize uint32
	ReceiveMax    uint16
}

// PublishResult is what the caller needs to finish the client-visible
// handshake: the assigned offset (for QoS 1/2 bookkeeping). It carries
// no PKID; the caller tracks the inbound packet's own PKID through
// PUBREL/PUBCOMP.
type PublishResult struct {
	Offset uint64
}

// Publisher runs the server-side PUBLISH handling path: rewrite,
// validate, retain, append, fan out.
type Publisher struct {
	cluster   string
	rewrite   *RewriteEngine
	retain    *RetainStore
	subs      *SubManager
	appender  RecordAppender
	delivery  *DeliveryManager
}

func NewPublisher(cluster string, rewrite *RewriteEngine, retain *RetainStore, subs *SubManager, appender RecordAppender, delivery *DeliveryManager) *Publisher {
	return &Publisher{cluster: cluster, rewrite: rewrite, retain: retain, subs: subs, appender: appender, delivery: delivery}
}

// Publish runs steps 1-4 and 6 of §4.3.3 (the QoS 1/2 ack handshake
// itself is driven by the caller against the returned offset and the
// connection manager, since it depends on transport framing this
// package doesn't own).
func (p *Publisher) Publish(rec types.PublishRecord, limits PublishLimits) (PublishResult, error) {
	rec.Topic = p.rewrite.Rewrite(types.RewriteActionPublish, rec.Topic)

	if err := p.validate(rec, limits); err != nil {
		return PublishResult{}, err
	}

	if rec.Retain {
		if err := p.retain.Set(rec.Topic, types.RetainedMessage{
			Topic:      rec.Topic,
			Payload:    rec.Payload,
			QoS:        rec.QoS,
			CreateTime: rec.CreateTime,
		}); err != nil {
			return PublishResult{}, err
		}
	}

	offset, err := p.appender.Append(rec.Topic, rec)
	if err != nil {
		return PublishResult{}, err
	}

	p.subs.OnTopicCreated(rec.Topic, nil)
	if p.delivery != nil {
		p.delivery.NotifyNewRecord(rec.Topic)
	}

	return PublishResult{Offset: offset}, nil
}

func (p *Publisher) validate(rec types.PublishRecord, limits PublishLimits) error {
	cluster := config.Get().Protocol

	maxPacket := uint32(cluster.MaxPacketSize)
	if limits.MaxPacketSize != 0 && limits.MaxPacketSize < maxPacket {
		maxPacket = limits.MaxPacketSize
	}
	if maxPacket != 0 && uint32(len(rec.Payload)) > maxPacket {
		return rmqerr.New(rmqerr.KindPacketTooLarge, fmt.Sprintf("payload %d bytes exceeds max %d", len(rec.Payload), maxPacket))
	}

	if rec.QoS > 0 {
		receiveMax := cluster.ReceiveMax
		if limits.ReceiveMax != 0 && limits.ReceiveMax < receiveMax {
			receiveMax = limits.ReceiveMax
		}
		_ = receiveMax // enforced by the connection's recv_qos_message_count counter, owned by the caller
	}

	if rec.PayloadFormatUTF8 && !utf8.Valid(rec.Payload) {
		return rmqerr.New(rmqerr.KindPayloadFormatInvalid, "payload format indicator requires valid UTF-8")
	}

	if !cluster.RetainAvailable && rec.Retain {
		return rmqerr.New(rmqerr.KindPayloadFormatInvalid, "retained messages are disabled on this cluster")
	}

	return nil
}

// Expired reports whether rec's message-expiry deadline has passed.
func Expired(rec types.PublishRecord, now time.Time) bool {
	if rec.MessageExpiryUnixS == 0 {
		return false
	}
	return now.Unix() > rec.MessageExpiryUnixS
}
