package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"alertmanager/internal/clock"
	"alertmanager/internal/domain"
	"alertmanager/internal/msgformat"
)

// ChannelDirectory resolves channel and provider entities for dispatch.
type ChannelDirectory interface {
	ListChannels(ctx context.Context, ids []string) ([]domain.Channel, error)
	ResolveProvider(ctx context.Context, id string) (domain.Provider, error)
}

// DispatchRequest carries one matched rule's dispatch inputs.
// Params: alert, rule, suppression flag, and per-channel forbid predicate.
// Returns: request value consumed by Dispatch.
type DispatchRequest struct {
	Alert domain.Alert
	Rule  domain.Rule

	// SuppressSend turns every send into a skipped outcome while keeping the
	// rest of the pipeline (dedupe, replication) untouched. SuppressReason
	// is recorded on the skipped outcomes.
	SuppressSend   bool
	SuppressReason string

	// ChannelForbidden reports channel-scoped forbids; nil means none apply.
	ChannelForbidden func(channelID string) bool
}

// Dispatcher fans one alert out to every channel of a matched rule.
// Channels send concurrently and one failure never blocks the others; every
// channel produces exactly one outcome.
type Dispatcher struct {
	directory ChannelDirectory
	registry  *Registry
	formatter *msgformat.Formatter
	throttle  *Throttle
	clk       clock.Clock
	logger    *slog.Logger
}

// NewDispatcher builds the channel fan-out dispatcher.
// Params: directory, sender registry, formatter, clock, and logger.
// Returns: ready dispatcher.
func NewDispatcher(
	directory ChannelDirectory,
	registry *Registry,
	formatter *msgformat.Formatter,
	clk clock.Clock,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		directory: directory,
		registry:  registry,
		formatter: formatter,
		throttle:  NewThrottle(),
		clk:       clk,
		logger:    logger,
	}
}

// Dispatch delivers one alert through every channel of one rule.
// Params: context and dispatch request.
// Returns: one outcome per channel ID, in rule order; the error is non-nil
// only when the channel directory itself fails.
func (d *Dispatcher) Dispatch(ctx context.Context, request DispatchRequest) ([]domain.DeliveryOutcome, error) {
	channels, err := d.directory.ListChannels(ctx, request.Rule.ChannelIDs)
	if err != nil {
		return nil, fmt.Errorf("list channels for rule %s: %w", request.Rule.ID, err)
	}
	byID := make(map[string]domain.Channel, len(channels))
	for _, channel := range channels {
		byID[channel.ID] = channel
	}

	outcomes := make([]domain.DeliveryOutcome, len(request.Rule.ChannelIDs))
	var wg sync.WaitGroup
	for index, channelID := range request.Rule.ChannelIDs {
		outcome := domain.DeliveryOutcome{RuleID: request.Rule.ID, Channel: channelID}

		channel, ok := byID[channelID]
		if !ok {
			outcome.State = domain.OutcomeSkipped
			outcome.Reason = "channel not configured"
			outcomes[index] = outcome
			continue
		}
		if channel.Disabled {
			outcome.State = domain.OutcomeSkipped
			outcome.Reason = "channel disabled"
			outcomes[index] = outcome
			continue
		}
		if request.ChannelForbidden != nil && request.ChannelForbidden(channelID) {
			outcome.State = domain.OutcomeSkipped
			outcome.Reason = "forbidden"
			outcomes[index] = outcome
			continue
		}
		if request.SuppressSend {
			outcome.State = domain.OutcomeSkipped
			outcome.Reason = request.SuppressReason
			if outcome.Reason == "" {
				outcome.Reason = "send suppressed"
			}
			outcomes[index] = outcome
			continue
		}

		provider, err := d.directory.ResolveProvider(ctx, channel.ProviderID)
		if err != nil {
			outcome.State = domain.OutcomeSkipped
			outcome.Reason = "provider not configured"
			outcomes[index] = outcome
			continue
		}
		outcome.Provider = provider.Type
		sender, ok := d.registry.Resolve(provider.Type)
		if !ok {
			outcome.State = domain.OutcomeSkipped
			outcome.Reason = fmt.Sprintf("no sender for provider type %q", provider.Type)
			outcomes[index] = outcome
			continue
		}
		if !d.throttle.Allow(channel.ID, channel.SendRate, d.clk.Now()) {
			outcome.State = domain.OutcomeFailed
			outcome.Reason = "send rate exceeded"
			outcomes[index] = outcome
			continue
		}

		message := d.formatter.Render(messageFormat(channel, request.Rule), request.Alert)

		wg.Add(1)
		go func(index int, channel domain.Channel, provider domain.Provider, outcome domain.DeliveryOutcome) {
			defer wg.Done()
			if err := sender.Send(ctx, provider, channel, message); err != nil {
				outcome.State = domain.OutcomeFailed
				outcome.Reason = err.Error()
				d.logger.Warn("channel send failed",
					"rule", request.Rule.ID,
					"channel", channel.ID,
					"provider", provider.ID,
					"event_id", request.Alert.EventID,
					"error", err.Error())
			} else {
				outcome.State = domain.OutcomeDelivered
				d.logger.Info("channel send delivered",
					"rule", request.Rule.ID,
					"channel", channel.ID,
					"provider", provider.ID,
					"event_id", request.Alert.EventID)
			}
			outcomes[index] = outcome
		}(index, channel, provider, outcome)
	}
	wg.Wait()
	return outcomes, nil
}

// messageFormat picks the effective format for one channel.
// Params: channel and rule.
// Returns: channel override, rule format, or empty for the default.
func messageFormat(channel domain.Channel, rule domain.Rule) string {
	if channel.MessageFormat != "" {
		return channel.MessageFormat
	}
	return rule.MessageFormat
}
