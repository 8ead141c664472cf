// Package broker implements the MQTT subscription and delivery engine:
// topic matching, exclusive/shared subscription classification, the
// publish path (retain, QoS handshakes, fan-out), push-loop delivery,
// and the connection manager that multiplexes framed writes across
// transports.
package broker

import "strings"

const (
	levelSep      = "/"
	singleWildcard = "+"
	multiWildcard  = "#"
)

// topicNode is one level of the subscription trie. A filter like
// "sport/+/score" walks down one node per segment; "#" and "+" are
// encoded as their own map keys, matched against every concrete level.
type topicNode struct {
	children map[string]*topicNode
	filters  map[string]struct{} // filter strings terminating at this node
}

func newTopicNode() *topicNode {
	return &topicNode{children: make(map[string]*topicNode), filters: make(map[string]struct{})}
}

// TopicMatcher indexes every currently-subscribed filter in a trie keyed
// by topic level, so matching a concrete topic name against the whole
// filter set costs O(levels) instead of O(filters).
type TopicMatcher struct {
	root *topicNode
}

func NewTopicMatcher() *TopicMatcher {
	return &TopicMatcher{root: newTopicNode()}
}

func splitLevels(path string) []string {
	return strings.Split(path, levelSep)
}

// Insert adds a filter to the trie. Callers pass only the bare
// topic-matching portion of a filter: a "$share/<group>/" prefix is split
// out first (ResolveFilter does this), since Insert stores the string as
// given and would otherwise treat the prefix as ordinary levels.
func (m *TopicMatcher) Insert(filter string) {
	levels := splitLevels(filter)
	node := m.root
	for _, level := range levels {
		child, ok := node.children[level]
		if !ok {
			child = newTopicNode()
			node.children[level] = child
		}
		node = child
	}
	node.filters[filter] = struct{}{}
}

// Remove deletes a filter from the trie. It's a no-op if the filter was
// never inserted.
func (m *TopicMatcher) Remove(filter string) {
	levels := splitLevels(filter)
	removeRec(m.root, levels, filter)
}

func removeRec(node *topicNode, levels []string, filter string) bool {
	if len(levels) == 0 {
		delete(node.filters, filter)
		return len(node.filters) == 0 && len(node.children) == 0
	}
	child, ok := node.children[levels[0]]
	if !ok {
		return false
	}
	if removeRec(child, levels[1:], filter) {
		delete(node.children, levels[0])
	}
	return len(node.filters) == 0 && len(node.children) == 0
}

// Match returns every filter in the trie that matches topicName under
// MQTT wildcard rules: "+" matches exactly one level, "#" matches zero
// or more trailing levels and must be the final level of a filter.
// Per the MQTT spec, a topic starting with "$" (e.g. "$sys/...") is
// never matched by a filter whose first level is a wildcard, even
// though "+"/"#" would otherwise match it positionally.
func (m *TopicMatcher) Match(topicName string) []string {
	levels := splitLevels(topicName)
	dollarTopic := len(levels) > 0 && strings.HasPrefix(levels[0], "$")

	var out []string
	matchRec(m.root, levels, dollarTopic, true, &out)
	return out
}

func matchRec(node *topicNode, levels []string, dollarTopic, atFirstLevel bool, out *[]string) {
	if len(levels) == 0 {
		for f := range node.filters {
			*out = append(*out, f)
		}
		if child, ok := node.children[multiWildcard]; ok && !(dollarTopic && atFirstLevel) {
			for f := range child.filters {
				*out = append(*out, f)
			}
		}
		return
	}

	if child, ok := node.children[levels[0]]; ok {
		matchRec(child, levels[1:], dollarTopic, false, out)
	}
	if !(dollarTopic && atFirstLevel) {
		if child, ok := node.children[singleWildcard]; ok {
			matchRec(child, levels[1:], dollarTopic, false, out)
		}
		if child, ok := node.children[multiWildcard]; ok {
			for f := range child.filters {
				*out = append(*out, f)
			}
		}
	}
}

// ResolveFilter splits a raw subscribe-time filter into its matchable
// path and, if present, its "$share/<group>/" group name. "$sys/..."
// filters are returned with isSystem=true and are never matched against
// ordinary published topics outside the $sys namespace.
func ResolveFilter(raw string) (path string, group string, isSystem bool) {
	const sharePrefix = "$share/"
	if strings.HasPrefix(raw, sharePrefix) {
		rest := raw[len(sharePrefix):]
		idx := strings.Index(rest, levelSep)
		if idx < 0 {
			return rest, "", false
		}
		return rest[idx+1:], rest[:idx], false
	}
	if strings.HasPrefix(raw, "$sys/") {
		return raw, "", true
	}
	return raw, "", false
}
