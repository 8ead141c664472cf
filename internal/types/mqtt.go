package types

import "time"

// Session survives disconnect until SessionExpiryInterval elapses or the
// client reconnects with CleanStart=true.
type Session struct {
	ClientID              string    `json:"client_id"`
	ConnectionID           string    `json:"connection_id,omitempty"`
	KeepAlive              uint16    `json:"keep_alive"`
	CleanStart             bool      `json:"clean_start"`
	SessionExpiryInterval  uint32    `json:"session_expiry_interval"`
	LastWill               *LastWill `json:"last_will,omitempty"`
	BrokerID               uint64    `json:"broker_id,omitempty"`
	CreateTime             time.Time `json:"create_time"`
	LastPingreqTime        time.Time `json:"last_pingreq_time"`
}

// LastWill is the message a broker publishes on behalf of a client whose
// session ends ungracefully.
type LastWill struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
	QoS     uint8  `json:"qos"`
	Retain  bool   `json:"retain"`
}

// RetainHandling controls whether a SUBSCRIBE triggers delivery of a
// matching retained message.
type RetainHandling uint8

const (
	RetainHandlingSendAtSubscribe RetainHandling = iota
	RetainHandlingSendIfNewSubscription
	RetainHandlingNever
)

// Subscription is the logical subscribe record a client sent; the engine
// materialises it as exactly one of an exclusive entry, a share-leader
// entry, or a share-follower placeholder.
type Subscription struct {
	ClientID              string         `json:"client_id"`
	Path                  string         `json:"path"`
	QoS                   uint8          `json:"qos"`
	NoLocal               bool           `json:"no_local"`
	PreserveRetain        bool           `json:"preserve_retain"`
	RetainHandling        RetainHandling `json:"retain_handling"`
	SubscriptionIdentifier uint32        `json:"subscription_identifier,omitempty"`
	Protocol              string         `json:"protocol"`
	FilterGroup           string         `json:"filter_group,omitempty"` // set for $share/<group>/<path>
}

// IsShared reports whether this subscription targets a shared-subscription
// group ($share/<group>/<path>).
func (s Subscription) IsShared() bool {
	return s.FilterGroup != ""
}

// ExclusiveEntry is the materialised form of a non-shared subscription,
// keyed by (client_id, topic_name); it points at the single subscriber.
type ExclusiveEntry struct {
	ClientID  string
	TopicName string
	Sub       Subscription
}

// ShareLeaderEntry is maintained only by the meta-elected leader broker
// for (group_name, topic_name); it holds the set of subscribers.
type ShareLeaderEntry struct {
	GroupName   string
	TopicName   string
	Subscribers map[string]Subscription // keyed by client_id
}

// ShareFollowerPlaceholder records that this broker is NOT the leader for
// (group_name, topic_name); it resubscribes through the leader.
type ShareFollowerPlaceholder struct {
	ClientID  string
	GroupName string
	TopicName string
}

// RetainedMessage is held per matching topic in the retain store.
type RetainedMessage struct {
	Topic      string    `json:"topic"`
	Payload    []byte    `json:"payload"`
	QoS        uint8     `json:"qos"`
	CreateTime time.Time `json:"create_time"`
}

// AckInfo is parked by a delivery loop awaiting PUBACK/PUBREC/PUBCOMP for
// a specific (client_id, pkid).
type AckInfo struct {
	ClientID   string
	PKID       uint16
	Notify     chan struct{} // closed at most once: on ack, or by AbandonAll on disconnect
	CreateTime time.Time
}

// RewriteAction scopes a TopicRewriteRule to publishes, subscribes, or
// both.
type RewriteAction string

const (
	RewriteActionPublish   RewriteAction = "publish"
	RewriteActionSubscribe RewriteAction = "subscribe"
	RewriteActionAll       RewriteAction = "all"
)

// TopicRewriteRule rewrites a client-supplied topic or filter before it
// reaches the matching/publish path. Rules are evaluated in ascending
// Order; the first whose SourceRegex matches wins.
type TopicRewriteRule struct {
	Action      RewriteAction `json:"action"`
	SourceRegex string        `json:"source_regex"`
	DestTemplate string       `json:"dest_template"`
	Order       int           `json:"order"`
}

// PublishRecord is one message as it flows through the publish path:
// validated, possibly rewritten, and ready to append to a shard or fan
// out to subscribers.
type PublishRecord struct {
	Topic              string
	Payload            []byte
	QoS                uint8
	Retain             bool
	PublisherClientID  string
	PayloadFormatUTF8  bool
	MessageExpiryUnixS int64 // 0 means no expiry
	CreateTime         time.Time
}

// DeliveredPublish is the outbound PUBLISH a push loop hands to the
// connection manager, with per-subscriber QoS/retain/dup resolved.
type DeliveredPublish struct {
	Topic                  string
	Payload                []byte
	QoS                    uint8
	Retain                 bool
	Dup                    bool
	PKID                   uint16
	TopicAlias             uint16
	SubscriptionIdentifier uint32
	RetainPush             bool // true for a retained-message push triggered by SUBSCRIBE
}
