// Package rmqerr defines the closed set of error kinds returned by the
// meta, journal, and broker engines. Callers distinguish kinds with
// errors.Is/errors.As; string matching is used only for errors that
// arrive as text (IsBrokerNotAvailable, and rpc.LeaderTracker reading a
// NotLeader hint out of a gRPC status message).
package rmqerr

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error categories every public operation
// in this module returns.
type Kind string

const (
	KindNotLeader                   Kind = "not_leader"
	KindRaftLogCommitTimeout        Kind = "raft_log_commit_timeout"
	KindNoAvailableGrpcConnection   Kind = "no_available_grpc_connection"
	KindSegmentNotExist             Kind = "segment_not_exist"
	KindShardNotExist               Kind = "shard_not_exist"
	KindSegmentStatusTransitionBad  Kind = "segment_status_transition_illegal"
	KindPacketTooLarge              Kind = "packet_too_large"
	KindPayloadFormatInvalid        Kind = "payload_format_invalid"
	KindTopicAliasTooLong           Kind = "topic_alias_too_long"
	KindQuotaExceeded               Kind = "quota_exceeded"
	KindClusterIsInSelfProtection    Kind = "cluster_is_in_self_protection"
	KindClientUnavailable           Kind = "client_unavailable"
	KindFailedToWriteClient          Kind = "failed_to_write_client"
	KindBrokerNotAvailable          Kind = "broker_not_available"
	KindTopicSubscribed             Kind = "topic_subscribed"
)

// Error wraps a Kind with a human-readable message and an optional hint
// (e.g. the current leader's address for KindNotLeader).
type Error struct {
	Kind    Kind
	Message string
	Hint    string
	cause   error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Kind, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same Kind, or one of the
// sentinel values below.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	if s, ok := sentinels[e.Kind]; ok {
		return errors.Is(s, target)
	}
	return false
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind, chaining cause via Unwrap.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithHint attaches a hint (e.g. leader address) and returns the receiver.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// GetKind extracts the Kind from err, returning ("", false) if err is not
// (or does not wrap) an *Error.
func GetKind(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Sentinel values for errors.Is comparisons against a bare Kind, without
// needing to construct an *Error first.
var (
	ErrNotLeader                  = &Error{Kind: KindNotLeader, Message: "operation must be sent to the raft leader"}
	ErrRaftLogCommitTimeout       = &Error{Kind: KindRaftLogCommitTimeout, Message: "raft apply did not commit within the deadline"}
	ErrNoAvailableGrpcConnection  = &Error{Kind: KindNoAvailableGrpcConnection, Message: "connection pool exhausted or dial failed"}
	ErrSegmentNotExist            = &Error{Kind: KindSegmentNotExist, Message: "segment does not exist"}
	ErrShardNotExist              = &Error{Kind: KindShardNotExist, Message: "shard does not exist"}
	ErrSegmentStatusTransitionBad = &Error{Kind: KindSegmentStatusTransitionBad, Message: "segment status transition is not permitted"}
	ErrPacketTooLarge             = &Error{Kind: KindPacketTooLarge, Message: "packet exceeds maximum packet size"}
	ErrPayloadFormatInvalid       = &Error{Kind: KindPayloadFormatInvalid, Message: "payload format indicator mismatch"}
	ErrTopicAliasTooLong          = &Error{Kind: KindTopicAliasTooLong, Message: "topic alias exceeds topic-alias-max"}
	ErrQuotaExceeded              = &Error{Kind: KindQuotaExceeded, Message: "receive-max or subscribe-rate quota exceeded"}
	ErrClusterIsInSelfProtection  = &Error{Kind: KindClusterIsInSelfProtection, Message: "cluster is in self-protection mode"}
	ErrClientUnavailable          = &Error{Kind: KindClientUnavailable, Message: "client write half is gone"}
	ErrFailedToWriteClient        = &Error{Kind: KindFailedToWriteClient, Message: "transport write failed"}
	ErrBrokerNotAvailable         = &Error{Kind: KindBrokerNotAvailable, Message: "peer broker is unavailable"}
	ErrTopicSubscribed            = &Error{Kind: KindTopicSubscribed, Message: "an exclusive subscription already exists on this path"}
)

var sentinels = map[Kind]error{
	KindNotLeader:                  ErrNotLeader,
	KindRaftLogCommitTimeout:       ErrRaftLogCommitTimeout,
	KindNoAvailableGrpcConnection:  ErrNoAvailableGrpcConnection,
	KindSegmentNotExist:            ErrSegmentNotExist,
	KindShardNotExist:              ErrShardNotExist,
	KindSegmentStatusTransitionBad: ErrSegmentStatusTransitionBad,
	KindPacketTooLarge:             ErrPacketTooLarge,
	KindPayloadFormatInvalid:       ErrPayloadFormatInvalid,
	KindTopicAliasTooLong:          ErrTopicAliasTooLong,
	KindQuotaExceeded:              ErrQuotaExceeded,
	KindClusterIsInSelfProtection:  ErrClusterIsInSelfProtection,
	KindClientUnavailable:          ErrClientUnavailable,
	KindFailedToWriteClient:        ErrFailedToWriteClient,
	KindBrokerNotAvailable:         ErrBrokerNotAvailable,
	KindTopicSubscribed:            ErrTopicSubscribed,
}

// IsBrokerNotAvailable reports whether err indicates an unrecoverable peer
// failure, matched by substring against the wrapped cause the way the
// lower-level transport reports it, per the BrokerNotAvailable kind's
// substring-match policy.
func IsBrokerNotAvailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBrokerNotAvailable) {
		return true
	}
	return containsBrokerNotAvailable(err.Error())
}

func containsBrokerNotAvailable(s string) bool {
	const needle = "broker not available"
	if len(s) < len(needle) {
		return false
	}
	for i := 0; i+len(needle) <= len(s); i++ {
		if s[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
