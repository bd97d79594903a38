package domain

import "time"

// SourceType identifies alert origin technology.
// Params: codes carried by the legacy wire contract.
// Returns: normalized source tag used by rule predicates.
type SourceType string

const (
	// SourceZabbix marks events from the pipe-delimited Zabbix feed.
	SourceZabbix SourceType = "0"
	// SourcePinpoint marks events from Pinpoint APM.
	SourcePinpoint SourceType = "1"
	// SourceELK marks events from log pipelines.
	SourceELK SourceType = "2"
	// SourcePrometheus marks events from Prometheus alertmanagers.
	SourcePrometheus SourceType = "4"
	// SourceBusi marks business-level application events.
	SourceBusi SourceType = "8"
	// SourceOther marks events with no dedicated integration.
	SourceOther SourceType = "9"
)

// Alert is the canonical, immutable record of one monitoring event.
// Params: identity fields, severity, timestamps, and opaque message maps.
// Returns: read-only pipeline input; stages never mutate it.
type Alert struct {
	RecordID    string         `json:"record_id"`
	EventID     string         `json:"event_id"`
	Project     string         `json:"project"`
	AlertCode   string         `json:"alert_code"`
	SourceType  SourceType     `json:"source_type"`
	Hostname    string         `json:"hostname"`
	HostIP      string         `json:"host_ip"`
	Level       string         `json:"level"`
	EventType   string         `json:"event_type"`
	AlertTime   *time.Time     `json:"alert_time,omitempty"`
	RecoverTime *time.Time     `json:"recover_time,omitempty"`
	Message     string         `json:"message"`
	RawPayload  string         `json:"raw_payload,omitempty"`
	MsgInfo     map[string]any `json:"msg,omitempty"`
	Others      map[string]any `json:"others,omitempty"`
	ReceivedAt  time.Time      `json:"received_at"`
}

// IsRecovery reports whether the alert announces a cleared condition.
// Params: none.
// Returns: true when recover time is present.
func (a Alert) IsRecovery() bool {
	return a.RecoverTime != nil
}

// QueryOptions carries per-call processing directives from the transport.
// Params: identity hint and suppression flags from query parameters.
// Returns: directives consumed by fan-out and replication, never part of alert identity.
type QueryOptions struct {
	ProjectIdentify string
	SuppressSend    bool
	SkipSync        bool
}
