package broker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robustmq/robustmq/internal/types"
)

func TestRewriteEngineFirstMatchWins(t *testing.T) {
	e := NewRewriteEngine()
	e.SetRules([]types.TopicRewriteRule{
		{Action: types.RewriteActionPublish, SourceRegex: `^old/(.+)$`, DestTemplate: "new/$1", Order: 2},
		{Action: types.RewriteActionPublish, SourceRegex: `^old/special$`, DestTemplate: "special/rewritten", Order: 1},
	})

	require.Equal(t, "special/rewritten", e.Rewrite(types.RewriteActionPublish, "old/special"))
	require.Equal(t, "new/device1", e.Rewrite(types.RewriteActionPublish, "old/device1"))
}

func TestRewriteEngineActionScoping(t *testing.T) {
	e := NewRewriteEngine()
	e.SetRules([]types.TopicRewriteRule{
		{Action: types.RewriteActionSubscribe, SourceRegex: `^a/(.+)$`, DestTemplate: "b/$1", Order: 1},
	})

	require.Equal(t, "a/x", e.Rewrite(types.RewriteActionPublish, "a/x"))
	require.Equal(t, "b/x", e.Rewrite(types.RewriteActionSubscribe, "a/x"))
}

func TestRewriteEngineNoMatchReturnsOriginal(t *testing.T) {
	e := NewRewriteEngine()
	e.SetRules([]types.TopicRewriteRule{
		{Action: types.RewriteActionAll, SourceRegex: `^zzz/.+$`, DestTemplate: "nope", Order: 1},
	})
	require.Equal(t, "a/b", e.Rewrite(types.RewriteActionAll, "a/b"))
}

func TestRewriteEngineInvalidRegexSkipped(t *testing.T) {
	e := NewRewriteEngine()
	e.SetRules([]types.TopicRewriteRule{
		{Action: types.RewriteActionAll, SourceRegex: `(unclosed`, DestTemplate: "x", Order: 1},
	})
	require.Equal(t, "a/b", e.Rewrite(types.RewriteActionAll, "a/b"))
}
