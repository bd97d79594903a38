package domain

import "time"

// Rule binds alert-matching predicates to channels, priority, and a dedupe window.
// Params: match sets (empty set matches any value) and dispatch policy fields.
// Returns: long-lived configuration entity owned by the repository.
type Rule struct {
	ID              string
	Name            string
	Projects        []string
	AlertCodes      []string
	SourceTypes     []SourceType
	HostPatterns    []string
	Priority        int
	StopOnMatch     bool
	DedupeWindow    time.Duration
	RecoverSuppress bool
	MessageFormat   string
	ChannelIDs      []string
}

// Channel is a named notification target bound to one provider.
// Params: provider reference, addressing, and per-channel throttle/format overrides.
// Returns: dispatch target resolved per rule.
type Channel struct {
	ID            string
	Name          string
	ProviderID    string
	Receivers     []string
	Phones        []string
	SendRate      int
	MessageFormat string
	Disabled      bool
}

// ProviderType tags one delivery technology.
// Params: chat robot, email, SMS, and voice transports.
// Returns: registry key for sender lookup.
type ProviderType string

const (
	// ProviderDingTalk sends to a DingTalk group robot webhook.
	ProviderDingTalk ProviderType = "dingtalk"
	// ProviderWeChat sends through the WeChat Work application API.
	ProviderWeChat ProviderType = "wechat"
	// ProviderTelegram sends through the Telegram Bot API.
	ProviderTelegram ProviderType = "telegram"
	// ProviderEmail sends plain SMTP mail.
	ProviderEmail ProviderType = "email"
	// ProviderSMS posts to a MAS-style SMS gateway.
	ProviderSMS ProviderType = "sms"
	// ProviderVoice places phone calls through a voice gateway.
	ProviderVoice ProviderType = "voice"
)

// Provider holds credentials and endpoint settings for one delivery technology.
// Params: per-type fields; unused fields stay zero for other types.
// Returns: resolved sender configuration.
type Provider struct {
	ID   string
	Name string
	Type ProviderType

	// Webhook-style robots (dingtalk).
	WebhookURL string
	Secret     string

	// WeChat Work.
	CorpID     string
	CorpSecret string
	AgentID    string
	ToUser     string
	APIBase    string

	// Telegram.
	BotToken string
	ChatID   string

	// Email.
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string
	MailTo       []string

	// SMS / voice gateways.
	GatewayURL      string
	GatewayUser     string
	GatewayPassword string
	GatewaySign     string
	CalledNumbers   []string
	ShowNumber      string
	TemplateCode    string
}

// ForbidType selects suppression depth of a forbid rule.
// Params: constants matching the legacy rule table.
// Returns: whether suppressed alerts are still recorded.
type ForbidType string

const (
	// ForbidNotSend suppresses delivery but keeps the occurrence visible.
	ForbidNotSend ForbidType = "not-send"
	// ForbidNotShowAndSend suppresses delivery and leaves no trace.
	ForbidNotShowAndSend ForbidType = "not-show-and-send"
)

// ForbidMatchAny is the set member that matches every candidate value.
const ForbidMatchAny = "NULL"

// ForbidRule silences matching alerts inside an active time window.
// Params: window bounds and match sets; ForbidMatchAny in a set matches all.
// Returns: suppression policy evaluated before dedupe history commits.
type ForbidRule struct {
	ID           string
	Begin        time.Time
	End          time.Time
	Type         ForbidType
	Projects     []string
	AlertCodes   []string
	HostIPs      []string
	HostContains []string
	ChannelIDs   []string
}
