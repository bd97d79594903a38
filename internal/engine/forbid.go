package engine

import (
	"strings"
	"time"

	"alertmanager/internal/domain"
)

// ForbidDecision is the outcome of evaluating forbid rules for an alert.
// When Forbidden is true and ChannelIDs is empty the whole alert is muted;
// a non-empty ChannelIDs mutes only the listed channels.
type ForbidDecision struct {
	Forbidden  bool
	Type       domain.ForbidType
	RuleID     string
	ChannelIDs map[string]struct{}
}

// ChannelForbidden reports whether one channel is muted by this decision.
// Params: channel identifier.
// Returns: true when the decision blocks the channel.
func (d ForbidDecision) ChannelForbidden(channelID string) bool {
	if !d.Forbidden {
		return false
	}
	if len(d.ChannelIDs) == 0 {
		return true
	}
	_, ok := d.ChannelIDs[channelID]
	return ok
}

// BlocksAlert reports whether the decision mutes the alert on every channel.
// Params: none.
// Returns: true for alert-wide forbids.
func (d ForbidDecision) BlocksAlert() bool {
	return d.Forbidden && len(d.ChannelIDs) == 0
}

// EvaluateForbid matches an alert against active forbid rules.
// Params: forbid rules, alert, and the evaluation instant.
// Returns: decision collecting every matching rule; alert-wide matches win
// over channel-scoped ones, and channel scopes of multiple matches union.
func EvaluateForbid(forbids []domain.ForbidRule, alert domain.Alert, now time.Time) ForbidDecision {
	decision := ForbidDecision{ChannelIDs: make(map[string]struct{})}
	for _, forbid := range forbids {
		if !forbidMatches(forbid, alert, now) {
			continue
		}
		if !decision.Forbidden {
			decision.Forbidden = true
			decision.Type = forbid.Type
			decision.RuleID = forbid.ID
		}
		if len(forbid.ChannelIDs) == 0 {
			// Alert-wide forbid overrides any channel scoping.
			decision.Type = forbid.Type
			decision.RuleID = forbid.ID
			decision.ChannelIDs = map[string]struct{}{}
			return decision
		}
		for _, channelID := range forbid.ChannelIDs {
			decision.ChannelIDs[channelID] = struct{}{}
		}
	}
	if !decision.Forbidden {
		decision.ChannelIDs = nil
	}
	return decision
}

// forbidMatches evaluates one forbid rule against an alert.
// Params: forbid rule, alert, and evaluation instant.
// Returns: true when the instant is inside the window and every match set
// accepts the alert. A set containing "NULL" accepts any value; an empty
// project/code/ip set accepts nothing, while an empty host set accepts
// every hostname.
func forbidMatches(forbid domain.ForbidRule, alert domain.Alert, now time.Time) bool {
	if now.Before(forbid.Begin) || now.After(forbid.End) {
		return false
	}
	if !forbidSetMatches(forbid.Projects, alert.Project) {
		return false
	}
	if !forbidSetMatches(forbid.AlertCodes, alert.AlertCode) {
		return false
	}
	if !forbidSetMatches(forbid.HostIPs, alert.HostIP) {
		return false
	}
	return forbidHostMatches(forbid.HostContains, alert.Hostname)
}

// forbidSetMatches tests membership with the match-any sentinel.
// Params: match set and value.
// Returns: true when the set contains "NULL" or the value; an empty set
// matches nothing, so unconstrained dimensions must name "NULL" explicitly.
func forbidSetMatches(set []string, value string) bool {
	if len(set) == 0 {
		return false
	}
	needle := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range set {
		trimmed := strings.TrimSpace(candidate)
		if trimmed == domain.ForbidMatchAny {
			return true
		}
		if strings.ToLower(trimmed) == needle {
			return true
		}
	}
	return false
}

// forbidHostMatches tests hostname substrings with the match-any sentinel.
// Params: substring set and hostname.
// Returns: true when empty, "NULL", or any fragment is contained in the name.
func forbidHostMatches(set []string, hostname string) bool {
	if len(set) == 0 {
		return true
	}
	host := strings.ToLower(strings.TrimSpace(hostname))
	for _, fragment := range set {
		trimmed := strings.TrimSpace(fragment)
		if trimmed == domain.ForbidMatchAny {
			return true
		}
		if trimmed != "" && strings.Contains(host, strings.ToLower(trimmed)) {
			return true
		}
	}
	return false
}
