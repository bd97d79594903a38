// Package msgformat renders outgoing notification text from placeholder
// templates. Placeholders use the legacy brace form ("{HOST_NAME}") so
// message formats migrated from older deployments keep working unchanged.
package msgformat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"alertmanager/internal/clock"
	"alertmanager/internal/domain"
)

// TimeLayout is the human-facing timestamp form used in rendered messages.
const TimeLayout = "2006.01.02 15:04:05"

// DefaultFormat is used when neither channel nor rule carries a format.
const DefaultFormat = "[{STATU}] {TITLE}\n" +
	"project: {PROJECT}\n" +
	"code: {ALERT_CODE}\n" +
	"host: {HOST_NAME} {HOST_IP}\n" +
	"time: {ALERT_TIME}\n" +
	"{ALERT_MSG}"

const titleMaxLen = 120

// Formatter renders alert messages from placeholder templates.
// Params: clock for the {NOW} placeholder.
// Returns: stateless renderer shared across channels.
type Formatter struct {
	clk clock.Clock
}

// NewFormatter builds a formatter.
// Params: clock dependency.
// Returns: ready formatter.
func NewFormatter(clk clock.Clock) *Formatter {
	return &Formatter{clk: clk}
}

// Render substitutes every placeholder in a message format.
// Params: format text and the alert; empty format falls back to DefaultFormat.
// Returns: final message text; unknown placeholders render as empty strings.
func (f *Formatter) Render(format string, alert domain.Alert) string {
	if strings.TrimSpace(format) == "" {
		format = DefaultFormat
	}
	var builder strings.Builder
	builder.Grow(len(format) + len(alert.Message))

	rest := format
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			builder.WriteString(rest)
			return builder.String()
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			builder.WriteString(rest)
			return builder.String()
		}
		builder.WriteString(rest[:open])
		name := rest[open+1 : open+closing]
		builder.WriteString(f.placeholderValue(name, alert))
		rest = rest[open+closing+1:]
	}
}

// placeholderValue resolves one placeholder name.
// Params: placeholder name without braces and the alert.
// Returns: substitution text.
func (f *Formatter) placeholderValue(name string, alert domain.Alert) string {
	if key, ok := strings.CutPrefix(name, "OTHERS."); ok {
		return othersValue(alert.Others, key)
	}
	switch name {
	case "HOST_NAME":
		return alert.Hostname
	case "HOST_IP":
		return alert.HostIP
	case "ALERT_CODE":
		return alert.AlertCode
	case "ALERT_TIME":
		return formatInstant(alert.AlertTime)
	case "RECOVER_TIME":
		return formatInstant(alert.RecoverTime)
	case "ALERT_MSG":
		return alert.Message
	case "NOW":
		return f.clk.Now().Format(TimeLayout)
	case "ALERT_LEVEL":
		return alert.Level
	case "EVENT_ID":
		return alert.EventID
	case "STATU":
		if alert.IsRecovery() {
			return "RECOVER"
		}
		return "PROBLEM"
	case "TITLE":
		return Title(alert)
	case "PROJECT":
		return alert.Project
	case "JSON_MESSGES":
		return jsonMessages(alert)
	default:
		return ""
	}
}

// Title derives a short headline for an alert.
// Params: alert.
// Returns: the "subject" entry of Others when present, otherwise the first
// message line clipped to 120 characters, otherwise the alert code.
func Title(alert domain.Alert) string {
	if subject := othersValue(alert.Others, "subject"); subject != "" {
		return subject
	}
	line := alert.Message
	if index := strings.IndexByte(line, '\n'); index >= 0 {
		line = line[:index]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return alert.AlertCode
	}
	runes := []rune(line)
	if len(runes) > titleMaxLen {
		return string(runes[:titleMaxLen])
	}
	return line
}

// jsonMessages renders the structured message body as compact JSON.
// Params: alert.
// Returns: MsgInfo as JSON, or the plain message when no structure exists.
func jsonMessages(alert domain.Alert) string {
	if len(alert.MsgInfo) == 0 {
		return alert.Message
	}
	encoded, err := json.Marshal(alert.MsgInfo)
	if err != nil {
		return alert.Message
	}
	return string(encoded)
}

// othersValue reads one entry of the pass-through metadata map as text.
// Params: others map and entry key.
// Returns: string form of the value; empty when absent.
func othersValue(others map[string]any, key string) string {
	if len(others) == 0 {
		return ""
	}
	value, ok := others[key]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return typed
	case float64:
		if typed == float64(int64(typed)) {
			return fmt.Sprintf("%d", int64(typed))
		}
		return fmt.Sprintf("%g", typed)
	default:
		return fmt.Sprintf("%v", typed)
	}
}

// formatInstant renders an optional timestamp.
// Params: instant pointer.
// Returns: formatted instant or empty string.
func formatInstant(at *time.Time) string {
	if at == nil {
		return ""
	}
	return at.Format(TimeLayout)
}
