package domain

import "errors"

// Status is the terminal pipeline classification for one ingested alert.
// Params: one of four accept/reject states.
// Returns: overall verdict reported to the caller.
type Status string

const (
	// StatusDispatched marks a fresh alert that reached channel fan-out.
	StatusDispatched Status = "accepted-and-dispatched"
	// StatusDuplicate marks an alert suppressed by dedupe windows for all matched rules.
	StatusDuplicate Status = "accepted-duplicate"
	// StatusForbidden marks an alert silenced by an active forbid rule.
	StatusForbidden Status = "accepted-forbidden"
	// StatusMalformed marks a payload the normalizer could not turn into an alert.
	StatusMalformed Status = "rejected-malformed"
)

// OutcomeState is the per-channel delivery classification.
// Params: delivered/skipped/failed states.
// Returns: one channel verdict inside a pipeline result.
type OutcomeState string

const (
	// OutcomeDelivered marks a successful provider send.
	OutcomeDelivered OutcomeState = "delivered"
	// OutcomeSkipped marks a channel intentionally not attempted.
	OutcomeSkipped OutcomeState = "skipped"
	// OutcomeFailed marks a provider transport failure.
	OutcomeFailed OutcomeState = "failed"
)

// DeliveryOutcome reports the result for one channel attempt.
// Params: channel/rule identity, provider type, state, and failure reason.
// Returns: aggregated into PipelineResult, never escalated as an error.
type DeliveryOutcome struct {
	RuleID   string       `json:"rule_id"`
	Channel  string       `json:"channel"`
	Provider ProviderType `json:"provider,omitempty"`
	State    OutcomeState `json:"state"`
	Reason   string       `json:"reason,omitempty"`
}

// PipelineResult is the structured response for one ingestion call.
// Params: terminal status, per-channel outcomes, and optional detail text.
// Returns: definite verdict; no silent drops.
type PipelineResult struct {
	Status   Status            `json:"status"`
	EventID  string            `json:"event_id,omitempty"`
	Outcomes []DeliveryOutcome `json:"outcomes,omitempty"`
	Detail   string            `json:"detail,omitempty"`
}

// ErrMalformedPayload indicates ingestion cannot construct a canonical alert.
var ErrMalformedPayload = errors.New("malformed payload")
