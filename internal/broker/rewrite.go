package broker

import (
	"regexp"
	"sort"
	"sync"

	"github.com/robustmq/robustmq/internal/types"
)

type compiledRewriteRule struct {
	rule types.TopicRewriteRule
	re   *regexp.Regexp
}

// RewriteEngine evaluates topic-rewrite rules in ascending Order,
// first-match-wins, per rule.
type RewriteEngine struct {
	mu    sync.RWMutex
	rules []compiledRewriteRule
}

func NewRewriteEngine() *RewriteEngine {
	return &RewriteEngine{}
}

// SetRules replaces the active rule set, compiling and sorting by Order.
// A rule whose regex fails to compile is skipped.
func (e *RewriteEngine) SetRules(rules []types.TopicRewriteRule) {
	sorted := make([]types.TopicRewriteRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	compiled := make([]compiledRewriteRule, 0, len(sorted))
	for _, rule := range sorted {
		re, err := regexp.Compile(rule.SourceRegex)
		if err != nil {
			continue
		}
		compiled = append(compiled, compiledRewriteRule{rule: rule, re: re})
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
}

// Rewrite applies the first matching rule whose Action covers action to
// topic, substituting regex capture groups into DestTemplate (using Go's
// $1-style expansion). Returns topic unchanged if no rule matches.
func (e *RewriteEngine) Rewrite(action types.RewriteAction, topic string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, cr := range e.rules {
		if cr.rule.Action != types.RewriteActionAll && cr.rule.Action != action {
			continue
		}
		loc := cr.re.FindStringSubmatchIndex(topic)
		if loc == nil {
			continue
		}
		return string(cr.re.ExpandString(nil, cr.rule.DestTemplate, topic, loc))
	}
	return topic
}
