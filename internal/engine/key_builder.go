package engine

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"alertmanager/internal/domain"
)

// BuildDedupeKey derives the stable duplicate-collapse key for an alert.
// Params: alert with identity fields populated by normalization.
// Returns: key of the form "alert/<project>/<code>/<digest>", identical for
// alerts that differ only in message text, level, or timestamps.
func BuildDedupeKey(alert domain.Alert) string {
	canonical := strings.Join([]string{
		canonicalField(alert.Project),
		canonicalField(alert.AlertCode),
		canonicalField(alert.Hostname),
		canonicalField(alert.HostIP),
		canonicalField(alert.EventType),
	}, "|")
	digest := sha1.Sum([]byte(canonical))
	return "alert/" + sanitizeSegment(alert.Project) + "/" + sanitizeSegment(alert.AlertCode) + "/" + hex.EncodeToString(digest[:])
}

// canonicalField normalizes one identity field for hashing.
// Params: raw field value.
// Returns: trimmed lower-case value; "-" when empty.
func canonicalField(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return "-"
	}
	return trimmed
}

// sanitizeSegment makes a field safe for use as a key path segment.
// Params: raw field value.
// Returns: lower-case value with non-alphanumeric runs collapsed to '_'.
func sanitizeSegment(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return "unknown"
	}
	var builder strings.Builder
	builder.Grow(len(trimmed))
	lastUnderscore := false
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			builder.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				builder.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(builder.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}
