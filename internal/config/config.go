package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultListen           = ":8080"
	defaultPipePath         = "/alertmanager/push/pipe"
	defaultJSONPath         = "/alertmanager/push/json"
	defaultHealthPath       = "/healthz"
	defaultReadyPath        = "/readyz"
	defaultMaxBodyBytes     = 1 << 20
	defaultPipelineTimeout  = 30
	defaultSlaveQueueSize   = 1024
	defaultSlaveWorkers     = 2
	defaultSlaveTimeoutSec  = 5
	defaultReloadInterval   = 60
	defaultHistoryMode      = "memory"
	defaultDedupeWindowSec  = 300
	defaultNATSAckWaitSec   = 30
	defaultNATSNackDelayMS  = 1000
	defaultNATSMaxDeliver   = 5
	defaultNATSMaxAckPend   = 256
	defaultProviderTimeout  = 10
	defaultWeChatAPIBase    = "https://qyapi.weixin.qq.com"
	defaultTelegramAPIBase  = "https://api.telegram.org"
)

// Config is the validated root configuration snapshot.
// Params: service, transport, history, replication, and policy seed sections.
// Returns: immutable snapshot passed into pipeline construction.
type Config struct {
	Service   ServiceConfig    `toml:"service"`
	Log       LogConfig        `toml:"log"`
	Ingest    IngestConfig     `toml:"ingest"`
	History   HistoryConfig    `toml:"history"`
	SlaveSync SlaveSyncConfig  `toml:"slavesync"`
	Providers []ProviderConfig `toml:"provider"`
	Channels  []ChannelConfig  `toml:"channel"`
	Rules     []RuleConfig     `toml:"rule"`
	Forbids   []ForbidConfig   `toml:"forbid"`
}

// ServiceConfig holds process-wide pipeline settings.
// Params: fallback project, per-alert timeout, and reload policy.
// Returns: service section.
type ServiceConfig struct {
	FallbackProject    string `toml:"fallback_project"`
	PipelineTimeoutSec int    `toml:"pipeline_timeout_sec"`
	ProviderTimeoutSec int    `toml:"provider_timeout_sec"`
	ReloadEnabled      bool   `toml:"reload_enabled"`
	ReloadIntervalSec  int    `toml:"reload_interval_sec"`
}

// LogConfig describes console and file log sinks.
// Params: sink sub-sections.
// Returns: log section.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig describes one log sink.
// Params: enabled flag, level, format, and file path for file sinks.
// Returns: sink settings.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// IngestConfig groups ingest transports.
// Params: HTTP and NATS sub-sections.
// Returns: ingest section.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig describes the ingest HTTP listener.
// Params: listen address, route paths, and body limit.
// Returns: HTTP ingest settings.
type HTTPIngestConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	PipePath     string `toml:"pipe_path"`
	JSONPath     string `toml:"json_path"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// NATSIngestConfig describes the JetStream ingest consumer.
// Params: connection URLs and consumer tuning.
// Returns: NATS ingest settings.
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Stream        string   `toml:"stream"`
	Subject       string   `toml:"subject"`
	ConsumerName  string   `toml:"consumer_name"`
	DeliverGroup  string   `toml:"deliver_group"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// HistoryConfig selects the dedupe-history backend.
// Params: mode ("memory" or "nats") and NATS KV settings.
// Returns: history section.
type HistoryConfig struct {
	Mode string            `toml:"mode"`
	NATS NATSHistoryConfig `toml:"nats"`
}

// NATSHistoryConfig describes the JetStream KV occurrence bucket.
// Params: connection URLs, bucket name, and create permission.
// Returns: KV history settings.
type NATSHistoryConfig struct {
	URL               []string `toml:"url"`
	Bucket            string   `toml:"bucket"`
	AllowCreateBucket bool     `toml:"allow_create_bucket"`
}

// SlaveSyncConfig describes best-effort replication to peer nodes.
// Params: peer endpoints, queue bound, worker count, and per-target timeout.
// Returns: slavesync section.
type SlaveSyncConfig struct {
	Enabled    bool     `toml:"enabled"`
	Targets    []string `toml:"targets"`
	QueueSize  int      `toml:"queue_size"`
	Workers    int      `toml:"workers"`
	TimeoutSec int      `toml:"timeout_sec"`
}

// ProviderConfig seeds one delivery provider into the repository.
// Params: type tag plus technology-specific credential fields.
// Returns: provider seed entry.
type ProviderConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
	Type string `toml:"type"`

	WebhookURL string `toml:"webhook_url"`
	Secret     string `toml:"secret"`

	CorpID     string `toml:"corp_id"`
	CorpSecret string `toml:"corp_secret"`
	AgentID    string `toml:"agent_id"`
	ToUser     string `toml:"to_user"`
	APIBase    string `toml:"api_base"`

	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`

	SMTPHost     string   `toml:"smtp_host"`
	SMTPPort     int      `toml:"smtp_port"`
	SMTPUsername string   `toml:"smtp_username"`
	SMTPPassword string   `toml:"smtp_password"`
	MailFrom     string   `toml:"mail_from"`
	MailTo       []string `toml:"mail_to"`

	GatewayURL      string   `toml:"gateway_url"`
	GatewayUser     string   `toml:"gateway_user"`
	GatewayPassword string   `toml:"gateway_password"`
	GatewaySign     string   `toml:"gateway_sign"`
	CalledNumbers   []string `toml:"called_numbers"`
	ShowNumber      string   `toml:"show_number"`
	TemplateCode    string   `toml:"template_code"`
}

// ChannelConfig seeds one notification channel into the repository.
// Params: provider reference, addressing, and throttle/format overrides.
// Returns: channel seed entry.
type ChannelConfig struct {
	ID            string   `toml:"id"`
	Name          string   `toml:"name"`
	Provider      string   `toml:"provider"`
	Receivers     []string `toml:"receivers"`
	Phones        []string `toml:"phones"`
	SendRate      int      `toml:"send_rate"`
	MessageFormat string   `toml:"msg_format"`
	Disabled      bool     `toml:"disabled"`
}

// RuleConfig seeds one notification rule into the repository.
// Params: match sets, ordering, dedupe window, and channel references.
// Returns: rule seed entry.
type RuleConfig struct {
	ID              string   `toml:"id"`
	Name            string   `toml:"name"`
	Projects        []string `toml:"projects"`
	AlertCodes      []string `toml:"alert_codes"`
	SourceTypes     []string `toml:"source_types"`
	HostPatterns    []string `toml:"host_patterns"`
	Priority        int      `toml:"priority"`
	StopOnMatch     bool     `toml:"stop_on_match"`
	DedupeWindowSec int      `toml:"dedupe_window_sec"`
	RecoverSuppress bool     `toml:"recover_suppress"`
	MessageFormat   string   `toml:"msg_format"`
	Channels        []string `toml:"channels"`
}

// ForbidConfig seeds one forbid rule into the repository.
// Params: RFC3339 window bounds and match sets ("NULL" matches any).
// Returns: forbid seed entry.
type ForbidConfig struct {
	ID           string   `toml:"id"`
	Begin        string   `toml:"begin"`
	End          string   `toml:"end"`
	Type         string   `toml:"type"`
	Projects     []string `toml:"projects"`
	AlertCodes   []string `toml:"alert_codes"`
	HostIPs      []string `toml:"host_ips"`
	HostContains []string `toml:"host_contains"`
	Channels     []string `toml:"channels"`
}

// ConfigSource points at one config file or a directory of fragments.
// Params: exactly one of FilePath/DirPath is set.
// Returns: load target for snapshot loading.
type ConfigSource struct {
	FilePath string
	DirPath  string
}

// FromCLI validates CLI flags into a config source.
// Params: --config-file and --config-dir flag values.
// Returns: config source or usage error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	hasFile := strings.TrimSpace(filePath) != ""
	hasDir := strings.TrimSpace(dirPath) != ""
	if hasFile == hasDir {
		return ConfigSource{}, errors.New("exactly one of --config-file or --config-dir is required")
	}
	return ConfigSource{FilePath: strings.TrimSpace(filePath), DirPath: strings.TrimSpace(dirPath)}, nil
}

// LoadSnapshot loads, merges, defaults, and validates one config snapshot.
// Params: config source from CLI.
// Returns: validated snapshot or load error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var (
		cfg Config
		err error
	)
	if src.FilePath != "" {
		cfg, err = loadFile(src.FilePath)
	} else {
		cfg, err = loadDir(src.DirPath)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// PipelineTimeout returns the per-alert processing deadline.
// Params: validated config snapshot.
// Returns: timeout duration.
func PipelineTimeout(cfg Config) time.Duration {
	return time.Duration(cfg.Service.PipelineTimeoutSec) * time.Second
}

// loadFile decodes one TOML file into a config snapshot.
// Params: file path.
// Returns: decoded snapshot or decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	var cfg Config
	decoder := toml.NewDecoder(strings.NewReader(string(body)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %q: %w", path, err)
	}
	return cfg, nil
}

// loadDir merges TOML fragments from a directory in lexical order.
// Params: directory path with *.toml fragments.
// Returns: merged snapshot; list tables append, scalar sections last-wins.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	if len(paths) == 0 {
		return Config{}, fmt.Errorf("no *.toml fragments in %q", dir)
	}
	sort.Strings(paths)

	var merged Config
	for index, path := range paths {
		fragment, err := loadFile(path)
		if err != nil {
			return Config{}, err
		}
		if index == 0 {
			merged = fragment
			continue
		}
		mergeConfig(&merged, fragment)
	}
	return merged, nil
}

// mergeConfig folds one fragment into the accumulated snapshot.
// Params: destination pointer and source fragment.
// Returns: seed lists appended, non-zero sections replacing previous values.
func mergeConfig(dst *Config, src Config) {
	if src.Service != (ServiceConfig{}) {
		dst.Service = src.Service
	}
	if src.Log.Console != (LogSinkConfig{}) || src.Log.File != (LogSinkConfig{}) {
		dst.Log = src.Log
	}
	if hasHTTPIngest(src.Ingest.HTTP) {
		dst.Ingest.HTTP = src.Ingest.HTTP
	}
	if hasNATSIngest(src.Ingest.NATS) {
		dst.Ingest.NATS = src.Ingest.NATS
	}
	if src.History.Mode != "" || len(src.History.NATS.URL) > 0 {
		dst.History = src.History
	}
	if src.SlaveSync.Enabled || len(src.SlaveSync.Targets) > 0 {
		dst.SlaveSync = src.SlaveSync
	}
	dst.Providers = append(dst.Providers, src.Providers...)
	dst.Channels = append(dst.Channels, src.Channels...)
	dst.Rules = append(dst.Rules, src.Rules...)
	dst.Forbids = append(dst.Forbids, src.Forbids...)
}

// applyDefaults fills unset fields with service defaults.
// Params: mutable snapshot pointer.
// Returns: snapshot mutated in place.
func applyDefaults(cfg *Config) {
	// FallbackProject has no built-in value: leaving it unset means JSON
	// payloads without a project are rejected as malformed.
	if cfg.Service.PipelineTimeoutSec <= 0 {
		cfg.Service.PipelineTimeoutSec = defaultPipelineTimeout
	}
	if cfg.Service.ProviderTimeoutSec <= 0 {
		cfg.Service.ProviderTimeoutSec = defaultProviderTimeout
	}
	if cfg.Service.ReloadIntervalSec <= 0 {
		cfg.Service.ReloadIntervalSec = defaultReloadInterval
	}

	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	fillLogSinkDefaults(&cfg.Log.Console, "line")
	fillLogSinkDefaults(&cfg.Log.File, "json")

	if !cfg.Ingest.HTTP.Enabled && !cfg.Ingest.NATS.Enabled {
		cfg.Ingest.HTTP.Enabled = true
	}
	if cfg.Ingest.HTTP.Listen == "" {
		cfg.Ingest.HTTP.Listen = defaultListen
	}
	if cfg.Ingest.HTTP.PipePath == "" {
		cfg.Ingest.HTTP.PipePath = defaultPipePath
	}
	if cfg.Ingest.HTTP.JSONPath == "" {
		cfg.Ingest.HTTP.JSONPath = defaultJSONPath
	}
	if cfg.Ingest.HTTP.HealthPath == "" {
		cfg.Ingest.HTTP.HealthPath = defaultHealthPath
	}
	if cfg.Ingest.HTTP.ReadyPath == "" {
		cfg.Ingest.HTTP.ReadyPath = defaultReadyPath
	}
	if cfg.Ingest.HTTP.MaxBodyBytes <= 0 {
		cfg.Ingest.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Ingest.NATS.AckWaitSec <= 0 {
		cfg.Ingest.NATS.AckWaitSec = defaultNATSAckWaitSec
	}
	if cfg.Ingest.NATS.NackDelayMS <= 0 {
		cfg.Ingest.NATS.NackDelayMS = defaultNATSNackDelayMS
	}
	if cfg.Ingest.NATS.MaxDeliver <= 0 {
		cfg.Ingest.NATS.MaxDeliver = defaultNATSMaxDeliver
	}
	if cfg.Ingest.NATS.MaxAckPending <= 0 {
		cfg.Ingest.NATS.MaxAckPending = defaultNATSMaxAckPend
	}

	if cfg.History.Mode == "" {
		cfg.History.Mode = defaultHistoryMode
	}
	if cfg.History.NATS.Bucket == "" {
		cfg.History.NATS.Bucket = "alert_dedupe_history"
	}

	if cfg.SlaveSync.QueueSize <= 0 {
		cfg.SlaveSync.QueueSize = defaultSlaveQueueSize
	}
	if cfg.SlaveSync.Workers <= 0 {
		cfg.SlaveSync.Workers = defaultSlaveWorkers
	}
	if cfg.SlaveSync.TimeoutSec <= 0 {
		cfg.SlaveSync.TimeoutSec = defaultSlaveTimeoutSec
	}

	for index := range cfg.Rules {
		if cfg.Rules[index].DedupeWindowSec < 0 {
			cfg.Rules[index].DedupeWindowSec = 0
		}
		if cfg.Rules[index].DedupeWindowSec == 0 {
			cfg.Rules[index].DedupeWindowSec = defaultDedupeWindowSec
		}
	}
	for index := range cfg.Providers {
		provider := &cfg.Providers[index]
		if provider.Type == "wechat" && provider.APIBase == "" {
			provider.APIBase = defaultWeChatAPIBase
		}
		if provider.Type == "telegram" && provider.APIBase == "" {
			provider.APIBase = defaultTelegramAPIBase
		}
	}
}

// fillLogSinkDefaults applies level/format defaults to one sink.
// Params: sink pointer and default format.
// Returns: sink mutated in place.
func fillLogSinkDefaults(sink *LogSinkConfig, format string) {
	if sink.Level == "" {
		sink.Level = "info"
	}
	if sink.Format == "" {
		sink.Format = format
	}
}

// validateConfig rejects inconsistent snapshots before service start.
// Params: snapshot with defaults applied.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}

	if cfg.Ingest.NATS.Enabled {
		if len(cfg.Ingest.NATS.URL) == 0 {
			return errors.New("ingest.nats.url is required when NATS ingest is enabled")
		}
		if cfg.Ingest.NATS.Stream == "" || cfg.Ingest.NATS.Subject == "" {
			return errors.New("ingest.nats.stream and ingest.nats.subject are required")
		}
		if cfg.Ingest.NATS.ConsumerName == "" || cfg.Ingest.NATS.DeliverGroup == "" {
			return errors.New("ingest.nats.consumer_name and ingest.nats.deliver_group are required")
		}
	}

	switch cfg.History.Mode {
	case "memory":
	case "nats":
		if len(cfg.History.NATS.URL) == 0 {
			return errors.New("history.nats.url is required when history.mode is nats")
		}
	default:
		return fmt.Errorf("unsupported history.mode %q", cfg.History.Mode)
	}

	if cfg.SlaveSync.Enabled && len(cfg.SlaveSync.Targets) == 0 {
		return errors.New("slavesync.targets is required when slavesync is enabled")
	}

	providerIDs := make(map[string]struct{}, len(cfg.Providers))
	for _, provider := range cfg.Providers {
		if strings.TrimSpace(provider.ID) == "" {
			return errors.New("provider.id is required")
		}
		if _, dup := providerIDs[provider.ID]; dup {
			return fmt.Errorf("duplicate provider id %q", provider.ID)
		}
		providerIDs[provider.ID] = struct{}{}
		if !isSupportedProviderType(provider.Type) {
			return fmt.Errorf("provider %q has unsupported type %q", provider.ID, provider.Type)
		}
	}

	channelIDs := make(map[string]struct{}, len(cfg.Channels))
	for _, channel := range cfg.Channels {
		if strings.TrimSpace(channel.ID) == "" {
			return errors.New("channel.id is required")
		}
		if _, dup := channelIDs[channel.ID]; dup {
			return fmt.Errorf("duplicate channel id %q", channel.ID)
		}
		channelIDs[channel.ID] = struct{}{}
		if _, ok := providerIDs[channel.Provider]; !ok {
			return fmt.Errorf("channel %q references unknown provider %q", channel.ID, channel.Provider)
		}
	}

	ruleIDs := make(map[string]struct{}, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		if strings.TrimSpace(rule.ID) == "" {
			return errors.New("rule.id is required")
		}
		if _, dup := ruleIDs[rule.ID]; dup {
			return fmt.Errorf("duplicate rule id %q", rule.ID)
		}
		ruleIDs[rule.ID] = struct{}{}
		for _, channelID := range rule.Channels {
			if _, ok := channelIDs[channelID]; !ok {
				return fmt.Errorf("rule %q references unknown channel %q", rule.ID, channelID)
			}
		}
		for _, pattern := range rule.HostPatterns {
			if _, err := CompileWildcardPattern(pattern); err != nil {
				return fmt.Errorf("rule %q host pattern %q: %w", rule.ID, pattern, err)
			}
		}
	}

	for _, forbid := range cfg.Forbids {
		if _, err := time.Parse(time.RFC3339, forbid.Begin); err != nil {
			return fmt.Errorf("forbid %q begin: %w", forbid.ID, err)
		}
		if _, err := time.Parse(time.RFC3339, forbid.End); err != nil {
			return fmt.Errorf("forbid %q end: %w", forbid.ID, err)
		}
		switch forbid.Type {
		case "", "not-send", "not-show-and-send":
		default:
			return fmt.Errorf("forbid %q has unsupported type %q", forbid.ID, forbid.Type)
		}
		for _, channelID := range forbid.Channels {
			if _, ok := channelIDs[channelID]; !ok {
				return fmt.Errorf("forbid %q references unknown channel %q", forbid.ID, channelID)
			}
		}
	}

	return nil
}

// validateLogSink checks one sink section.
// Params: section name, sink settings, and path requirement flag.
// Returns: validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}
	switch strings.ToLower(sink.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level %q is unsupported", name, sink.Level)
	}
	switch sink.Format {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format %q is unsupported", name, sink.Format)
	}
	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}
	return nil
}

// isSupportedProviderType checks the provider type tag.
// Params: type value from config.
// Returns: true when a sender exists for the type.
func isSupportedProviderType(value string) bool {
	switch value {
	case "dingtalk", "wechat", "telegram", "email", "sms", "voice":
		return true
	default:
		return false
	}
}

// hasHTTPIngest reports whether a fragment sets HTTP ingest fields.
// Params: HTTP ingest section.
// Returns: true when any field is non-zero.
func hasHTTPIngest(cfg HTTPIngestConfig) bool {
	return cfg != (HTTPIngestConfig{})
}

// hasNATSIngest reports whether a fragment sets NATS ingest fields.
// Params: NATS ingest section.
// Returns: true when any field is non-zero.
func hasNATSIngest(cfg NATSIngestConfig) bool {
	return cfg.Enabled || len(cfg.URL) > 0 || cfg.Stream != "" || cfg.Subject != ""
}

// CompileWildcardPattern compiles a lower-case glob ("api-*") into a regexp.
// Params: wildcard pattern with '*' as the only metacharacter.
// Returns: anchored case-normalized regexp or compile error.
func CompileWildcardPattern(pattern string) (*regexp.Regexp, error) {
	trimmed := strings.ToLower(strings.TrimSpace(pattern))
	if trimmed == "" {
		return nil, errors.New("empty wildcard pattern")
	}
	segments := strings.Split(trimmed, "*")
	for index, segment := range segments {
		segments[index] = regexp.QuoteMeta(segment)
	}
	return regexp.Compile("^" + strings.Join(segments, ".*") + "$")
}
