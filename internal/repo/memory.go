package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"alertmanager/internal/config"
	"alertmanager/internal/domain"
)

// MemoryRepository serves policy entities from an in-memory snapshot seeded
// from config, backed by a pluggable history store for dedupe occurrences.
type MemoryRepository struct {
	mu        sync.RWMutex
	rules     []domain.Rule
	forbids   []domain.ForbidRule
	channels  map[string]domain.Channel
	providers map[string]domain.Provider

	history HistoryStore
}

// NewMemoryRepository seeds a repository from a validated config snapshot.
// Params: config snapshot and history backend.
// Returns: ready repository or conversion error.
func NewMemoryRepository(cfg config.Config, history HistoryStore) (*MemoryRepository, error) {
	repository := &MemoryRepository{history: history}
	if err := repository.Reload(cfg); err != nil {
		return nil, err
	}
	return repository, nil
}

// Reload replaces the policy snapshot from a freshly loaded config.
// Params: validated config snapshot.
// Returns: conversion error; on error the previous snapshot stays active.
func (r *MemoryRepository) Reload(cfg config.Config) error {
	rules := make([]domain.Rule, 0, len(cfg.Rules))
	for _, seed := range cfg.Rules {
		rules = append(rules, ruleFromConfig(seed))
	}
	forbids := make([]domain.ForbidRule, 0, len(cfg.Forbids))
	for _, seed := range cfg.Forbids {
		forbid, err := forbidFromConfig(seed)
		if err != nil {
			return err
		}
		forbids = append(forbids, forbid)
	}
	channels := make(map[string]domain.Channel, len(cfg.Channels))
	for _, seed := range cfg.Channels {
		channels[seed.ID] = channelFromConfig(seed)
	}
	providers := make(map[string]domain.Provider, len(cfg.Providers))
	for _, seed := range cfg.Providers {
		providers[seed.ID] = providerFromConfig(seed)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = rules
	r.forbids = forbids
	r.channels = channels
	r.providers = providers
	return nil
}

// FindRules returns a copy of the active notification rules.
// Params: request context (unused by the memory backend).
// Returns: rule snapshot.
func (r *MemoryRepository) FindRules(_ context.Context) ([]domain.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Rule, len(r.rules))
	copy(out, r.rules)
	return out, nil
}

// FindForbidRules returns a copy of the active forbid rules.
// Params: request context (unused by the memory backend).
// Returns: forbid rule snapshot.
func (r *MemoryRepository) FindForbidRules(_ context.Context) ([]domain.ForbidRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ForbidRule, len(r.forbids))
	copy(out, r.forbids)
	return out, nil
}

// ListChannels resolves channel IDs to channel entities.
// Params: request context and channel IDs in rule order.
// Returns: resolved channels; unknown IDs are skipped, not errors, so a stale
// rule cannot poison dispatch for its remaining channels.
func (r *MemoryRepository) ListChannels(_ context.Context, ids []string) ([]domain.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Channel, 0, len(ids))
	for _, id := range ids {
		if channel, ok := r.channels[id]; ok {
			out = append(out, channel)
		}
	}
	return out, nil
}

// ResolveProvider resolves one provider ID.
// Params: request context and provider ID.
// Returns: provider entity or ErrNotFound.
func (r *MemoryRepository) ResolveProvider(_ context.Context, id string) (domain.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[id]
	if !ok {
		return domain.Provider{}, fmt.Errorf("provider %q: %w", id, ErrNotFound)
	}
	return provider, nil
}

// GetLastOccurrence delegates to the history backend.
// Params: request context, dedupe key, and rule ID.
// Returns: last recorded occurrence or ErrNotFound.
func (r *MemoryRepository) GetLastOccurrence(ctx context.Context, key, ruleID string) (time.Time, error) {
	return r.history.GetLastOccurrence(ctx, key, ruleID)
}

// RecordOccurrence delegates to the history backend.
// Params: request context, dedupe key, rule ID, and occurrence instant.
// Returns: persistence error.
func (r *MemoryRepository) RecordOccurrence(ctx context.Context, key, ruleID string, at time.Time) error {
	return r.history.RecordOccurrence(ctx, key, ruleID, at)
}

// CheckAndRecord delegates the atomic freshness check to the history backend.
// Params: request context, dedupe key, rule ID, instant, and rule window.
// Returns: true when the alert is fresh for this rule.
func (r *MemoryRepository) CheckAndRecord(ctx context.Context, key, ruleID string, at time.Time, window time.Duration) (bool, error) {
	return r.history.CheckAndRecord(ctx, key, ruleID, at, window)
}

// Close releases the history backend.
// Params: none.
// Returns: close error.
func (r *MemoryRepository) Close() error {
	return r.history.Close()
}

// ruleFromConfig converts one rule seed into a domain rule.
// Params: rule seed.
// Returns: domain rule with the window expressed as a duration.
func ruleFromConfig(seed config.RuleConfig) domain.Rule {
	sourceTypes := make([]domain.SourceType, 0, len(seed.SourceTypes))
	for _, value := range seed.SourceTypes {
		sourceTypes = append(sourceTypes, domain.SourceType(value))
	}
	return domain.Rule{
		ID:              seed.ID,
		Name:            seed.Name,
		Projects:        cloneStrings(seed.Projects),
		AlertCodes:      cloneStrings(seed.AlertCodes),
		SourceTypes:     sourceTypes,
		HostPatterns:    cloneStrings(seed.HostPatterns),
		Priority:        seed.Priority,
		StopOnMatch:     seed.StopOnMatch,
		DedupeWindow:    time.Duration(seed.DedupeWindowSec) * time.Second,
		RecoverSuppress: seed.RecoverSuppress,
		MessageFormat:   seed.MessageFormat,
		ChannelIDs:      cloneStrings(seed.Channels),
	}
}

// channelFromConfig converts one channel seed.
// Params: channel seed.
// Returns: domain channel.
func channelFromConfig(seed config.ChannelConfig) domain.Channel {
	return domain.Channel{
		ID:            seed.ID,
		Name:          seed.Name,
		ProviderID:    seed.Provider,
		Receivers:     cloneStrings(seed.Receivers),
		Phones:        cloneStrings(seed.Phones),
		SendRate:      seed.SendRate,
		MessageFormat: seed.MessageFormat,
		Disabled:      seed.Disabled,
	}
}

// providerFromConfig converts one provider seed.
// Params: provider seed.
// Returns: domain provider.
func providerFromConfig(seed config.ProviderConfig) domain.Provider {
	return domain.Provider{
		ID:              seed.ID,
		Name:            seed.Name,
		Type:            domain.ProviderType(seed.Type),
		WebhookURL:      seed.WebhookURL,
		Secret:          seed.Secret,
		CorpID:          seed.CorpID,
		CorpSecret:      seed.CorpSecret,
		AgentID:         seed.AgentID,
		ToUser:          seed.ToUser,
		APIBase:         seed.APIBase,
		BotToken:        seed.BotToken,
		ChatID:          seed.ChatID,
		SMTPHost:        seed.SMTPHost,
		SMTPPort:        seed.SMTPPort,
		SMTPUsername:    seed.SMTPUsername,
		SMTPPassword:    seed.SMTPPassword,
		MailFrom:        seed.MailFrom,
		MailTo:          cloneStrings(seed.MailTo),
		GatewayURL:      seed.GatewayURL,
		GatewayUser:     seed.GatewayUser,
		GatewayPassword: seed.GatewayPassword,
		GatewaySign:     seed.GatewaySign,
		CalledNumbers:   cloneStrings(seed.CalledNumbers),
		ShowNumber:      seed.ShowNumber,
		TemplateCode:    seed.TemplateCode,
	}
}

// forbidFromConfig converts one forbid seed.
// Params: forbid seed with RFC3339 window bounds.
// Returns: domain forbid rule or time parse error.
func forbidFromConfig(seed config.ForbidConfig) (domain.ForbidRule, error) {
	begin, err := time.Parse(time.RFC3339, seed.Begin)
	if err != nil {
		return domain.ForbidRule{}, fmt.Errorf("forbid %q begin: %w", seed.ID, err)
	}
	end, err := time.Parse(time.RFC3339, seed.End)
	if err != nil {
		return domain.ForbidRule{}, fmt.Errorf("forbid %q end: %w", seed.ID, err)
	}
	forbidType := domain.ForbidType(seed.Type)
	if seed.Type == "" {
		forbidType = domain.ForbidNotSend
	}
	return domain.ForbidRule{
		ID:           seed.ID,
		Begin:        begin,
		End:          end,
		Type:         forbidType,
		Projects:     cloneStrings(seed.Projects),
		AlertCodes:   cloneStrings(seed.AlertCodes),
		HostIPs:      cloneStrings(seed.HostIPs),
		HostContains: cloneStrings(seed.HostContains),
		ChannelIDs:   cloneStrings(seed.Channels),
	}, nil
}

// cloneStrings copies one string slice.
// Params: source slice.
// Returns: independent copy; nil for empty input.
func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
