package broker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robustmq/robustmq/internal/types"
	"github.com/robustmq/robustmq/pkg/config"
)

func TestDynamicCacheBootstrapSeedsClusterConfigAndRules(t *testing.T) {
	rewrite := NewRewriteEngine()
	c := NewDynamicCache(rewrite)
	c.Bootstrap(config.ClusterConfig{ClusterName: "c1", Version: 3}, []types.TopicRewriteRule{
		{Action: types.RewriteActionAll, SourceRegex: `^a/(.+)$`, DestTemplate: "b/$1", Order: 1},
	})

	require.Equal(t, "c1", c.ClusterConfig().ClusterName)
	require.Equal(t, "b/x", rewrite.Rewrite(types.RewriteActionAll, "a/x"))
}

func TestDynamicCacheApplyClusterConfigIgnoresStaleVersion(t *testing.T) {
	rewrite := NewRewriteEngine()
	c := NewDynamicCache(rewrite)
	c.Bootstrap(config.ClusterConfig{ClusterName: "c1", Version: 5}, nil)

	payload, _ := json.Marshal(config.ClusterConfig{ClusterName: "stale", Version: 3})
	c.Apply(types.Event{ResourceType: types.ResourceClusterConfig, ActionType: types.EventActionUpdate, Payload: payload})

	require.Equal(t, "c1", c.ClusterConfig().ClusterName)
}

func TestDynamicCacheApplyClusterConfigAcceptsNewerVersion(t *testing.T) {
	rewrite := NewRewriteEngine()
	c := NewDynamicCache(rewrite)
	c.Bootstrap(config.ClusterConfig{ClusterName: "c1", Version: 1}, nil)

	payload, _ := json.Marshal(config.ClusterConfig{ClusterName: "c2", Version: 2})
	c.Apply(types.Event{ResourceType: types.ResourceClusterConfig, ActionType: types.EventActionUpdate, Payload: payload})

	require.Equal(t, "c2", c.ClusterConfig().ClusterName)
}

func TestDynamicCacheApplyTopicCounts(t *testing.T) {
	c := NewDynamicCache(NewRewriteEngine())
	c.Apply(types.Event{ResourceType: types.ResourceTopic, ActionType: types.EventActionCreate})
	c.Apply(types.Event{ResourceType: types.ResourceTopic, ActionType: types.EventActionCreate})
	c.Apply(types.Event{ResourceType: types.ResourceTopic, ActionType: types.EventActionDelete})

	require.Equal(t, int64(1), c.TopicCount())
}

func TestDynamicCacheApplyRewriteRulesReplacesSet(t *testing.T) {
	rewrite := NewRewriteEngine()
	c := NewDynamicCache(rewrite)

	payload, _ := json.Marshal([]types.TopicRewriteRule{
		{Action: types.RewriteActionAll, SourceRegex: `^x/(.+)$`, DestTemplate: "y/$1", Order: 1},
	})
	c.Apply(types.Event{ResourceType: types.ResourceTopicRewriteRule, ActionType: types.EventActionUpdate, Payload: payload})

	require.Equal(t, "y/1", rewrite.Rewrite(types.RewriteActionAll, "x/1"))
}
