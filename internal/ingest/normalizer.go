// Package ingest turns raw alert payloads into normalized domain alerts.
// Two wire shapes are accepted: the legacy pipe-separated monitor line and
// a JSON document. Both feed the same processing pipeline.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"alertmanager/internal/clock"
	"alertmanager/internal/domain"
)

// DotTimeLayout is the legacy monitor timestamp form.
const DotTimeLayout = "2006.01.02 15:04:05"

// isoTimeLayout is an offset-less ISO timestamp, interpreted as UTC.
const isoTimeLayout = "2006-01-02T15:04:05"

// DefaultAlertCode is assumed for JSON payloads without an alertcode.
const DefaultAlertCode = "BUSI000"

const (
	noteMarker     = "NOTE:"
	disabledMarker = "disabled."
	pipeFieldCount = 9
)

// Normalizer converts raw payloads into domain alerts.
// Params: clock for receive timestamps and the fallback project.
// Returns: stateless normalizer shared by every transport.
type Normalizer struct {
	clk             clock.Clock
	fallbackProject string
}

// NewNormalizer builds a normalizer.
// Params: clock and fallback project for payloads without one.
// Returns: ready normalizer.
func NewNormalizer(clk clock.Clock, fallbackProject string) *Normalizer {
	return &Normalizer{clk: clk, fallbackProject: fallbackProject}
}

// ParsePipe decodes one pipe-separated monitor line.
// Params: raw line and caller query options. Field positions are
// eventId|hostname|ip|level|alertTime|recoverTime|eventType|[PROJECT]|[CODE]-message.
// Returns: normalized alert or an error wrapping ErrMalformedPayload. A line
// opening with "NOTE:" and carrying "disabled." marks a host going into
// maintenance; the event id follows the marker and the alert counts as a
// recovery.
func (n *Normalizer) ParsePipe(payload string, opts domain.QueryOptions) (domain.Alert, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return domain.Alert{}, fmt.Errorf("%w: empty payload", domain.ErrMalformedPayload)
	}

	disabledNote := strings.HasPrefix(trimmed, noteMarker) && strings.Contains(trimmed, disabledMarker)
	parts := strings.Split(trimmed, "|")
	if len(parts) < pipeFieldCount {
		return domain.Alert{}, fmt.Errorf("%w: got %d of %d pipe fields", domain.ErrMalformedPayload, len(parts), pipeFieldCount)
	}

	eventID := strings.TrimSpace(parts[0])
	if disabledNote {
		if index := strings.Index(eventID, disabledMarker); index >= 0 {
			eventID = strings.TrimSpace(eventID[index+len(disabledMarker):])
		}
	}

	alertTime, err := parseInstant(parts[4])
	if err != nil {
		return domain.Alert{}, fmt.Errorf("%w: alert time %q", domain.ErrMalformedPayload, parts[4])
	}
	recoverTime, err := parseInstant(parts[5])
	if err != nil {
		return domain.Alert{}, fmt.Errorf("%w: recover time %q", domain.ErrMalformedPayload, parts[5])
	}

	project, err := extractBracketed(parts[7])
	if err != nil {
		return domain.Alert{}, fmt.Errorf("%w: project group %q must look like [TJH]", domain.ErrMalformedPayload, parts[7])
	}
	if override := strings.TrimSpace(opts.ProjectIdentify); override != "" {
		project = override
	}

	// The message field joins back together in case the text itself carried
	// pipe characters.
	messageField := strings.Join(parts[8:], "|")
	alertCode, message, err := splitCodedMessage(messageField)
	if err != nil {
		return domain.Alert{}, err
	}

	if disabledNote && recoverTime == nil {
		at := n.clk.Now()
		recoverTime = &at
	}

	return domain.Alert{
		RecordID:    uuid.NewString(),
		EventID:     eventID,
		Project:     strings.ToUpper(project),
		AlertCode:   strings.ToUpper(alertCode),
		SourceType:  domain.SourceZabbix,
		Hostname:    strings.TrimSpace(parts[1]),
		HostIP:      strings.TrimSpace(parts[2]),
		Level:       strings.TrimSpace(parts[3]),
		EventType:   strings.TrimSpace(parts[6]),
		AlertTime:   alertTime,
		RecoverTime: recoverTime,
		Message:     message,
		RawPayload:  payload,
		ReceivedAt:  n.clk.Now(),
	}, nil
}

// jsonPayload is the inbound JSON document shape.
type jsonPayload struct {
	AlertCode       string          `json:"alertcode"`
	Hostname        string          `json:"hostname"`
	HostIP          string          `json:"hostip"`
	Project         string          `json:"project"`
	Level           string          `json:"level"`
	EventID         string          `json:"eventid"`
	EventType       string          `json:"eventtype"`
	AlertTime       string          `json:"alerttime"`
	RecoverTime     string          `json:"recovertime"`
	Msg             json.RawMessage `json:"msg"`
	Others          map[string]any  `json:"others"`
	AlertSourceType string          `json:"alertsourcetype"`
}

// ParseJSON decodes one JSON alert document.
// Params: raw document and caller query options.
// Returns: normalized alert or an error wrapping ErrMalformedPayload.
// A plain-string msg is wrapped as {"message": ...}; the others map passes
// through untouched.
func (n *Normalizer) ParseJSON(payload []byte, opts domain.QueryOptions) (domain.Alert, error) {
	var decoded jsonPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return domain.Alert{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	project := strings.TrimSpace(decoded.Project)
	if override := strings.TrimSpace(opts.ProjectIdentify); override != "" {
		project = override
	}
	if project == "" {
		project = n.fallbackProject
	}
	if project == "" {
		return domain.Alert{}, fmt.Errorf("%w: project is required", domain.ErrMalformedPayload)
	}

	alertCode := strings.ToUpper(strings.TrimSpace(decoded.AlertCode))
	if alertCode == "" {
		alertCode = DefaultAlertCode
	}

	msgInfo, message, err := decodeMsg(decoded.Msg)
	if err != nil {
		return domain.Alert{}, err
	}

	alertTime, err := parseInstant(decoded.AlertTime)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("%w: alert time %q", domain.ErrMalformedPayload, decoded.AlertTime)
	}
	recoverTime, err := parseInstant(decoded.RecoverTime)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("%w: recover time %q", domain.ErrMalformedPayload, decoded.RecoverTime)
	}

	sourceType := domain.SourceType(strings.TrimSpace(decoded.AlertSourceType))
	if sourceType == "" {
		sourceType = domain.SourceBusi
	}

	return domain.Alert{
		RecordID:    uuid.NewString(),
		EventID:     strings.TrimSpace(decoded.EventID),
		Project:     strings.ToUpper(project),
		AlertCode:   alertCode,
		SourceType:  sourceType,
		Hostname:    strings.TrimSpace(decoded.Hostname),
		HostIP:      strings.TrimSpace(decoded.HostIP),
		Level:       strings.TrimSpace(decoded.Level),
		EventType:   strings.TrimSpace(decoded.EventType),
		AlertTime:   alertTime,
		RecoverTime: recoverTime,
		Message:     message,
		RawPayload:  string(payload),
		MsgInfo:     msgInfo,
		Others:      decoded.Others,
		ReceivedAt:  n.clk.Now(),
	}, nil
}

// decodeMsg handles the msg field's string/object duality.
// Params: raw msg value.
// Returns: structured map and plain text form; a string becomes
// {"message": text}, an object keeps its "message" entry as the text.
func decodeMsg(raw json.RawMessage) (map[string]any, string, error) {
	if len(raw) == 0 {
		return nil, "", fmt.Errorf("%w: msg is required", domain.ErrMalformedPayload)
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return map[string]any{"message": asString}, asString, nil
	}

	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, "", fmt.Errorf("%w: msg must be a string or object", domain.ErrMalformedPayload)
	}
	text := ""
	if value, ok := asMap["message"].(string); ok {
		text = value
	} else if encoded, err := json.Marshal(asMap); err == nil {
		text = string(encoded)
	}
	return asMap, text, nil
}

// extractBracketed pulls the outermost bracketed group value.
// Params: raw group field like "[TJH] trailing text".
// Returns: inner value or a format error.
func extractBracketed(field string) (string, error) {
	trimmed := strings.TrimSpace(field)
	if !strings.HasPrefix(trimmed, "[") {
		return "", fmt.Errorf("missing opening bracket in %q", field)
	}
	end := strings.Index(trimmed, "]")
	if end < 0 {
		return "", fmt.Errorf("missing closing bracket in %q", field)
	}
	value := strings.TrimSpace(trimmed[1:end])
	if value == "" {
		return "", fmt.Errorf("empty bracket group in %q", field)
	}
	return value, nil
}

// splitCodedMessage splits "[CODE]-rest" into code and message text.
// Params: raw message field.
// Returns: alert code and remaining message, or ErrMalformedPayload.
func splitCodedMessage(field string) (string, string, error) {
	trimmed := strings.TrimSpace(field)
	code, err := extractBracketed(trimmed)
	if err != nil {
		return "", "", fmt.Errorf("%w: message %q must open with an [CODE] tag", domain.ErrMalformedPayload, field)
	}
	rest := trimmed[strings.Index(trimmed, "]")+1:]
	rest = strings.TrimPrefix(rest, "-")
	return code, strings.TrimSpace(rest), nil
}

// parseInstant parses an optional timestamp in dot or RFC3339 form.
// Params: raw timestamp text; empty means absent.
// Returns: parsed instant pointer or parse error.
func parseInstant(value string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if at, err := time.Parse(DotTimeLayout, trimmed); err == nil {
		return &at, nil
	}
	// Monitors also emit ISO timestamps without a zone offset; those read
	// as UTC.
	if at, err := time.Parse(isoTimeLayout, trimmed); err == nil {
		return &at, nil
	}
	at, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, err
	}
	return &at, nil
}
