package broker

import (
	"fmt"
	"sync"

	"github.com/robustmq/robustmq/internal/types"
	"github.com/robustmq/robustmq/pkg/rmqerr"
)

// ShareLeaderChecker answers "is this broker the elected leader for
// <group> on this shard's cluster", consulting meta's
// GetShareSubLeader RPC. Implemented by internal/client.
type ShareLeaderChecker interface {
	IsShareLeader(cluster, group string) (bool, error)
}

// ExclusiveChecker enforces $exclusive/<path> cluster-wide: it must
// consult every broker's subscription table, not just this one's, so
// it's backed by meta's replicated subscription records rather than a
// local map.
type ExclusiveChecker interface {
	ExclusiveSubscriptionExists(cluster, path string) (bool, error)
}

// SubManager classifies every accepted subscription into exactly one
// of exclusive / share-leader / share-follower, and maintains the
// topic-matching trie used by the publish path to find matching
// filters for a topic name.
type SubManager struct {
	mu sync.RWMutex

	cluster string
	matcher *TopicMatcher

	exclusive map[string]types.ExclusiveEntry            // key: client_id + "\x00" + topic_name
	leaders   map[string]*types.ShareLeaderEntry          // key: group + "\x00" + topic_name
	followers map[string]types.ShareFollowerPlaceholder   // key: client_id + "\x00" + group + "\x00" + topic_name

	leaderCheck   ShareLeaderChecker
	exclusiveCheck ExclusiveChecker
}

func NewSubManager(cluster string, leaderCheck ShareLeaderChecker, exclusiveCheck ExclusiveChecker) *SubManager {
	return &SubManager{
		cluster:        cluster,
		matcher:        NewTopicMatcher(),
		exclusive:      make(map[string]types.ExclusiveEntry),
		leaders:        make(map[string]*types.ShareLeaderEntry),
		followers:      make(map[string]types.ShareFollowerPlaceholder),
		leaderCheck:    leaderCheck,
		exclusiveCheck: exclusiveCheck,
	}
}

func exclusiveKey(clientID, topicName string) string { return clientID + "\x00" + topicName }
func leaderKey(group, topicName string) string       { return group + "\x00" + topicName }
func followerKey(clientID, group, topicName string) string {
	return clientID + "\x00" + group + "\x00" + topicName
}

const exclusivePrefix = "$exclusive/"

// Subscribe classifies and installs one subscription against the set of
// topics that already match its filter. knownTopics is the set of
// topic names currently known to have published data; each matching
// topic gets its own materialised entry (exclusive or share-leader).
func (m *SubManager) Subscribe(sub types.Subscription, knownTopics []string) error {
	path := sub.Path
	isExclusive := false
	if rest, ok := trimPrefix(path, exclusivePrefix); ok {
		isExclusive = true
		path = rest
	}

	if isExclusive {
		exists, err := m.exclusiveCheck.ExclusiveSubscriptionExists(m.cluster, path)
		if err != nil {
			return err
		}
		if exists {
			return rmqerr.New(rmqerr.KindTopicSubscribed, fmt.Sprintf("exclusive subscription already exists on %s", path))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.matcher.Insert(path)

	if sub.IsShared() {
		isLeader, err := m.leaderCheck.IsShareLeader(m.cluster, sub.FilterGroup)
		if err != nil {
			return err
		}
		if isLeader {
			for _, topic := range knownTopics {
				if !matchesOne(path, topic) {
					continue
				}
				lk := leaderKey(sub.FilterGroup, topic)
				entry, ok := m.leaders[lk]
				if !ok {
					entry = &types.ShareLeaderEntry{GroupName: sub.FilterGroup, TopicName: topic, Subscribers: make(map[string]types.Subscription)}
					m.leaders[lk] = entry
				}
				entry.Subscribers[sub.ClientID] = sub
			}
		} else {
			for _, topic := range knownTopics {
				if !matchesOne(path, topic) {
					continue
				}
				m.followers[followerKey(sub.ClientID, sub.FilterGroup, topic)] = types.ShareFollowerPlaceholder{
					ClientID: sub.ClientID, GroupName: sub.FilterGroup, TopicName: topic,
				}
			}
		}
		return nil
	}

	for _, topic := range knownTopics {
		if !matchesOne(path, topic) {
			continue
		}
		m.exclusive[exclusiveKey(sub.ClientID, topic)] = types.ExclusiveEntry{ClientID: sub.ClientID, TopicName: topic, Sub: sub}
	}
	return nil
}

// OnTopicCreated recomputes matches for a newly observed topic name
// against every currently-subscribed filter, installing new exclusive
// or share-leader entries as appropriate. Follower placeholders aren't
// populated here: a follower's resubscribe loop relays through the
// leader broker instead of tracking topics directly.
func (m *SubManager) OnTopicCreated(topic string, subsByFilter map[string]types.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, filter := range m.matcher.Match(topic) {
		sub, ok := subsByFilter[filter]
		if !ok {
			continue
		}
		if sub.IsShared() {
			lk := leaderKey(sub.FilterGroup, topic)
			entry, ok := m.leaders[lk]
			if !ok {
				entry = &types.ShareLeaderEntry{GroupName: sub.FilterGroup, TopicName: topic, Subscribers: make(map[string]types.Subscription)}
				m.leaders[lk] = entry
			}
			entry.Subscribers[sub.ClientID] = sub
			continue
		}
		m.exclusive[exclusiveKey(sub.ClientID, topic)] = types.ExclusiveEntry{ClientID: sub.ClientID, TopicName: topic, Sub: sub}
	}
}

// Unsubscribe removes a client's subscription from every index it may
// have landed in.
func (m *SubManager) Unsubscribe(clientID, rawFilter string) {
	path, group, _ := ResolveFilter(rawFilter)
	path = trimExclusive(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.matcher.Remove(path)

	for key, entry := range m.exclusive {
		if entry.ClientID == clientID && matchesOne(path, entry.TopicName) {
			delete(m.exclusive, key)
		}
	}
	if group != "" {
		for key, entry := range m.leaders {
			if matchesOne(path, entry.TopicName) {
				delete(entry.Subscribers, clientID)
				if len(entry.Subscribers) == 0 {
					delete(m.leaders, key)
				}
			}
		}
		for key, f := range m.followers {
			if f.ClientID == clientID && f.GroupName == group {
				delete(m.followers, key)
			}
		}
	}
}

// MatchingEntries returns every exclusive subscriber and every
// share-leader group whose filter currently matches topicName, for the
// publish path's fan-out step.
func (m *SubManager) MatchingEntries(topicName string) ([]types.ExclusiveEntry, []*types.ShareLeaderEntry) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var excl []types.ExclusiveEntry
	for _, entry := range m.exclusive {
		if entry.TopicName == topicName {
			excl = append(excl, entry)
		}
	}
	var leaders []*types.ShareLeaderEntry
	for _, entry := range m.leaders {
		if entry.TopicName == topicName {
			leaders = append(leaders, entry)
		}
	}
	return excl, leaders
}

// matchesOne checks a single filter against a single topic name without
// the overhead of building a trie, for the per-subscription matching
// SubManager does against its already-known topic list.
func matchesOne(filter, topic string) bool {
	filterLevels := splitLevels(filter)
	topicLevels := splitLevels(topic)

	dollarTopic := len(topicLevels) > 0 && len(topicLevels[0]) > 0 && topicLevels[0][0] == '$'
	if dollarTopic && len(filterLevels) > 0 && (filterLevels[0] == multiWildcard || filterLevels[0] == singleWildcard) {
		return false
	}

	fi, ti := 0, 0
	for fi < len(filterLevels) {
		if filterLevels[fi] == multiWildcard {
			return true
		}
		if ti >= len(topicLevels) {
			return false
		}
		if filterLevels[fi] != singleWildcard && filterLevels[fi] != topicLevels[ti] {
			return false
		}
		fi++
		ti++
	}
	return fi == len(filterLevels) && ti == len(topicLevels)
}

func trimPrefix(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return s, false
}

func trimExclusive(path string) string {
	if rest, ok := trimPrefix(path, exclusivePrefix); ok {
		return rest
	}
	return path
}
