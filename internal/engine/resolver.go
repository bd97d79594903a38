package engine

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"alertmanager/internal/config"
	"alertmanager/internal/domain"
)

// Resolver selects which notification rules apply to a normalized alert.
// Host patterns are compiled on first use and cached by pattern text; the
// cache is safe for concurrent Resolve calls.
type Resolver struct {
	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// NewResolver builds a resolver with an empty pattern cache.
// Params: none.
// Returns: ready resolver.
func NewResolver() *Resolver {
	return &Resolver{patterns: make(map[string]*regexp.Regexp)}
}

// Resolve returns the rules matching an alert, highest priority first.
// Params: candidate rules and the alert under evaluation.
// Returns: matching rules in deterministic order; when a matching rule has
// StopOnMatch set, lower-priority rules after it are not considered.
func (r *Resolver) Resolve(rules []domain.Rule, alert domain.Alert) []domain.Rule {
	ordered := make([]domain.Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	var matched []domain.Rule
	for _, rule := range ordered {
		if !r.ruleMatches(rule, alert) {
			continue
		}
		matched = append(matched, rule)
		if rule.StopOnMatch {
			break
		}
	}
	return matched
}

// ruleMatches evaluates every match dimension of one rule.
// Params: rule and alert.
// Returns: true when all non-empty dimensions match; empty dimensions match any.
func (r *Resolver) ruleMatches(rule domain.Rule, alert domain.Alert) bool {
	if !setMatches(rule.Projects, alert.Project) {
		return false
	}
	if !setMatches(rule.AlertCodes, alert.AlertCode) {
		return false
	}
	if !sourceTypeMatches(rule.SourceTypes, alert.SourceType) {
		return false
	}
	return r.hostMatches(rule.HostPatterns, alert.Hostname)
}

// hostMatches tests the hostname against a rule's wildcard patterns.
// Params: patterns (empty means any) and hostname.
// Returns: true when any pattern matches.
func (r *Resolver) hostMatches(patterns []string, hostname string) bool {
	if len(patterns) == 0 {
		return true
	}
	host := strings.ToLower(strings.TrimSpace(hostname))
	for _, pattern := range patterns {
		re := r.compiled(pattern)
		if re != nil && re.MatchString(host) {
			return true
		}
	}
	return false
}

// compiled returns the cached regexp for a wildcard pattern.
// Params: pattern text.
// Returns: compiled regexp, or nil for patterns that fail to compile.
func (r *Resolver) compiled(pattern string) *regexp.Regexp {
	r.mu.Lock()
	defer r.mu.Unlock()
	if re, ok := r.patterns[pattern]; ok {
		return re
	}
	re, err := config.CompileWildcardPattern(pattern)
	if err != nil {
		re = nil
	}
	r.patterns[pattern] = re
	return re
}

// sourceTypeMatches tests the alert source against a rule match set.
// Params: match set (empty means any) and alert source type.
// Returns: true on membership.
func sourceTypeMatches(set []domain.SourceType, value domain.SourceType) bool {
	if len(set) == 0 {
		return true
	}
	for _, candidate := range set {
		if candidate == value {
			return true
		}
	}
	return false
}

// setMatches tests one scalar value against a rule match set.
// Params: match set (empty means any) and value.
// Returns: true on case-insensitive membership.
func setMatches(set []string, value string) bool {
	if len(set) == 0 {
		return true
	}
	needle := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range set {
		if strings.ToLower(strings.TrimSpace(candidate)) == needle {
			return true
		}
	}
	return false
}
