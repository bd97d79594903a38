package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"alertmanager/internal/clock"
	"alertmanager/internal/domain"
	"alertmanager/internal/engine"
	"alertmanager/internal/notify"
	"alertmanager/internal/repo"
	"alertmanager/internal/slavesync"
)

// Pipeline runs one alert through resolve, forbid, dedupe, fan-out, and
// replication. Every ingested alert ends in exactly one terminal status.
type Pipeline struct {
	repository repo.Repository
	resolver   *engine.Resolver
	dispatcher *notify.Dispatcher
	replicator *slavesync.Replicator
	clk        clock.Clock
	logger     *slog.Logger
}

// NewPipeline wires the per-alert processing unit.
// Params: repository, resolver, dispatcher, optional replicator, clock, logger.
// Returns: ready pipeline.
func NewPipeline(
	repository repo.Repository,
	resolver *engine.Resolver,
	dispatcher *notify.Dispatcher,
	replicator *slavesync.Replicator,
	clk clock.Clock,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		repository: repository,
		resolver:   resolver,
		dispatcher: dispatcher,
		replicator: replicator,
		clk:        clk,
		logger:     logger,
	}
}

// Process classifies and dispatches one normalized alert.
// Params: context bounding the whole unit, alert, and directives.
// Returns: terminal result, or an error when policy or history storage is
// unreachable. The forbid check runs before any history write, so silenced
// alerts leave no dedupe trace unless their forbid type keeps records.
func (p *Pipeline) Process(ctx context.Context, alert domain.Alert, opts domain.QueryOptions) (domain.PipelineResult, error) {
	now := p.clk.Now()

	rules, err := p.repository.FindRules(ctx)
	if err != nil {
		return domain.PipelineResult{}, fmt.Errorf("find rules: %w", err)
	}
	matched := p.resolver.Resolve(rules, alert)

	forbids, err := p.repository.FindForbidRules(ctx)
	if err != nil {
		return domain.PipelineResult{}, fmt.Errorf("find forbid rules: %w", err)
	}
	decision := engine.EvaluateForbid(forbids, alert, now)

	if decision.BlocksAlert() {
		if decision.Type == domain.ForbidNotSend {
			// Delivery is muted but the occurrence still counts against
			// dedupe windows.
			if err := p.recordForbidden(ctx, alert, matched, now); err != nil {
				return domain.PipelineResult{}, err
			}
		}
		p.logger.Info("alert forbidden",
			"event_id", alert.EventID, "project", alert.Project,
			"alert_code", alert.AlertCode, "forbid_rule", decision.RuleID)
		return domain.PipelineResult{
			Status:  domain.StatusForbidden,
			EventID: alert.EventID,
			Detail:  "forbid rule " + decision.RuleID,
		}, nil
	}

	if len(matched) == 0 {
		p.logger.Info("alert matched no rules",
			"event_id", alert.EventID, "project", alert.Project, "alert_code", alert.AlertCode)
		p.replicate(alert, opts)
		return domain.PipelineResult{Status: domain.StatusDispatched, EventID: alert.EventID}, nil
	}

	dedupeKey := engine.BuildDedupeKey(alert)
	var (
		outcomes  []domain.DeliveryOutcome
		freshSeen bool
	)
	for _, rule := range matched {
		fresh := true
		if !alert.IsRecovery() {
			fresh, err = p.repository.CheckAndRecord(ctx, dedupeKey, rule.ID, now, rule.DedupeWindow)
			if err != nil {
				return domain.PipelineResult{Outcomes: outcomes}, fmt.Errorf("dedupe check for rule %s: %w", rule.ID, err)
			}
		}
		if !fresh {
			p.logger.Debug("alert duplicate for rule",
				"event_id", alert.EventID, "rule", rule.ID, "dedupe_key", dedupeKey)
			continue
		}
		freshSeen = true

		request := notify.DispatchRequest{
			Alert:            alert,
			Rule:             rule,
			SuppressSend:     opts.SuppressSend,
			SuppressReason:   "send suppressed by request",
			ChannelForbidden: decision.ChannelForbidden,
		}
		if alert.IsRecovery() && rule.RecoverSuppress {
			request.SuppressSend = true
			request.SuppressReason = "recovery notifications disabled for rule"
		}

		ruleOutcomes, err := p.dispatcher.Dispatch(ctx, request)
		if err != nil {
			return domain.PipelineResult{Outcomes: outcomes}, err
		}
		outcomes = append(outcomes, ruleOutcomes...)
	}

	if !freshSeen {
		return domain.PipelineResult{
			Status:  domain.StatusDuplicate,
			EventID: alert.EventID,
			Detail:  "suppressed by dedupe window",
		}, nil
	}

	p.replicate(alert, opts)
	return domain.PipelineResult{
		Status:   domain.StatusDispatched,
		EventID:  alert.EventID,
		Outcomes: outcomes,
	}, nil
}

// recordForbidden writes occurrences for a muted-but-recorded alert.
// Params: context, alert, matched rules, and occurrence instant.
// Returns: history write error. Recovery alerts never touch history.
func (p *Pipeline) recordForbidden(ctx context.Context, alert domain.Alert, matched []domain.Rule, now time.Time) error {
	if alert.IsRecovery() {
		return nil
	}
	dedupeKey := engine.BuildDedupeKey(alert)
	for _, rule := range matched {
		if err := p.repository.RecordOccurrence(ctx, dedupeKey, rule.ID, now); err != nil {
			return fmt.Errorf("record forbidden occurrence for rule %s: %w", rule.ID, err)
		}
	}
	return nil
}

// replicate hands the alert to the peer queue unless the caller opted out.
// Params: alert and directives.
// Returns: nothing; replication never fails the pipeline.
func (p *Pipeline) replicate(alert domain.Alert, opts domain.QueryOptions) {
	if opts.SkipSync {
		return
	}
	p.replicator.Enqueue(alert)
}
