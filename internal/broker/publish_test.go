package broker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robustmq/robustmq/internal/types"
	"github.com/robustmq/robustmq/pkg/config"
	"github.com/robustmq/robustmq/pkg/rmqerr"
)

type fakeAppender struct {
	mu      sync.Mutex
	next    uint64
	records []types.PublishRecord
}

func (a *fakeAppender) Append(topic string, rec types.PublishRecord) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec.Topic = topic
	a.records = append(a.records, rec)
	offset := a.next
	a.next++
	return offset, nil
}

func testClusterConfig() config.ClusterConfig {
	return config.ClusterConfig{
		ClusterName: "test",
		Protocol: config.ProtocolLimits{
			MaxPacketSize:   1024,
			ReceiveMax:      100,
			MaxQoS:          2,
			RetainAvailable: true,
		},
	}
}

func TestPublisherAppendsAndAssignsOffset(t *testing.T) {
	config.Init(testClusterConfig())

	backing := newFakeRetainStorage()
	retain := NewRetainStore("c1", backing)
	subs := NewSubManager("c1", fakeLeaderChecker{}, fakeExclusiveChecker{})
	appender := &fakeAppender{}
	pub := NewPublisher("c1", NewRewriteEngine(), retain, subs, appender, nil)

	result, err := pub.Publish(types.PublishRecord{Topic: "a/b", Payload: []byte("hi"), QoS: 1}, PublishLimits{})
	require.NoError(t, err)
	require.Equal(t, uint64(0), result.Offset)
	require.Len(t, appender.records, 1)
}

func TestPublisherRejectsOversizedPayload(t *testing.T) {
	config.Init(testClusterConfig())

	retain := NewRetainStore("c1", newFakeRetainStorage())
	subs := NewSubManager("c1", fakeLeaderChecker{}, fakeExclusiveChecker{})
	pub := NewPublisher("c1", NewRewriteEngine(), retain, subs, &fakeAppender{}, nil)

	big := make([]byte, 2000)
	_, err := pub.Publish(types.PublishRecord{Topic: "a/b", Payload: big}, PublishLimits{})
	require.Error(t, err)
	kind, ok := rmqerr.GetKind(err)
	require.True(t, ok)
	require.Equal(t, rmqerr.KindPacketTooLarge, kind)
}

func TestPublisherAppliesTopicRewriteBeforeAppend(t *testing.T) {
	config.Init(testClusterConfig())

	retain := NewRetainStore("c1", newFakeRetainStorage())
	subs := NewSubManager("c1", fakeLeaderChecker{}, fakeExclusiveChecker{})
	appender := &fakeAppender{}
	rewrite := NewRewriteEngine()
	rewrite.SetRules([]types.TopicRewriteRule{
		{Action: types.RewriteActionPublish, SourceRegex: `^old/(.+)$`, DestTemplate: "new/$1", Order: 1},
	})
	pub := NewPublisher("c1", rewrite, retain, subs, appender, nil)

	_, err := pub.Publish(types.PublishRecord{Topic: "old/x", Payload: []byte("hi")}, PublishLimits{})
	require.NoError(t, err)
	require.Equal(t, "new/x", appender.records[0].Topic)
}

func TestPublisherEmptyRetainedPayloadDeletes(t *testing.T) {
	config.Init(testClusterConfig())

	backing := newFakeRetainStorage()
	retain := NewRetainStore("c1", backing)
	require.NoError(t, retain.Set("a/b", types.RetainedMessage{Topic: "a/b", Payload: []byte("old")}))

	subs := NewSubManager("c1", fakeLeaderChecker{}, fakeExclusiveChecker{})
	pub := NewPublisher("c1", NewRewriteEngine(), retain, subs, &fakeAppender{}, nil)

	_, err := pub.Publish(types.PublishRecord{Topic: "a/b", Payload: nil, Retain: true}, PublishLimits{})
	require.NoError(t, err)

	msg, err := retain.Get("a/b")
	require.NoError(t, err)
	require.Nil(t, msg)
}
