package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"alertmanager/internal/clock"
	"alertmanager/internal/config"
	"alertmanager/internal/domain"
	"alertmanager/internal/engine"
	"alertmanager/internal/msgformat"
	"alertmanager/internal/notify"
	"alertmanager/internal/repo"
)

var pipelineNow = time.Date(2024, 9, 12, 10, 0, 0, 0, time.UTC)

// recordingSender captures sends in place of the SMS gateway client.
type recordingSender struct {
	mu   sync.Mutex
	sent []string
	fail error
}

func (s *recordingSender) Type() domain.ProviderType {
	return domain.ProviderSMS
}

func (s *recordingSender) Send(_ context.Context, _ domain.Provider, channel domain.Channel, message string) error {
	if s.fail != nil {
		return s.fail
	}
	s.mu.Lock()
	s.sent = append(s.sent, channel.ID+":"+message)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func pipelineConfig() config.Config {
	return config.Config{
		Providers: []config.ProviderConfig{
			{ID: "sms-gw", Type: "sms", GatewayURL: "http://gw.local/send"},
		},
		Channels: []config.ChannelConfig{
			{ID: "sms-ops", Provider: "sms-gw", Phones: []string{"13800000000"}},
		},
		Rules: []config.RuleConfig{
			{ID: "r1", Projects: []string{"TJH"}, Priority: 10, DedupeWindowSec: 300, Channels: []string{"sms-ops"}},
		},
	}
}

func newTestPipeline(t *testing.T, cfg config.Config, sender notify.Sender) (*Pipeline, *repo.MemoryRepository) {
	t.Helper()
	clk := clock.FixedClock{At: pipelineNow}
	repository, err := repo.NewMemoryRepository(cfg, repo.NewMemoryHistory(clk))
	if err != nil {
		t.Fatalf("seed repository: %v", err)
	}
	registry := notify.NewRegistry(time.Second, clk)
	registry.Register(sender)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := notify.NewDispatcher(repository, registry, msgformat.NewFormatter(clk), clk, logger)
	return NewPipeline(repository, engine.NewResolver(), dispatcher, nil, clk, logger), repository
}

func problemAlert(eventID string) domain.Alert {
	at := pipelineNow.Add(-time.Minute)
	return domain.Alert{
		RecordID:   "rec-" + eventID,
		EventID:    eventID,
		Project:    "TJH",
		AlertCode:  "BUSI001",
		SourceType: domain.SourceBusi,
		Hostname:   "web01",
		HostIP:     "10.0.0.1",
		Level:      "high",
		EventType:  "trigger",
		AlertTime:  &at,
		Message:    "order queue backlog",
	}
}

func TestPipelineDispatchesFreshAlert(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	pipeline, _ := newTestPipeline(t, pipelineConfig(), sender)

	result, err := pipeline.Process(context.Background(), problemAlert("E1"), domain.QueryOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Status != domain.StatusDispatched {
		t.Fatalf("expected dispatched, got %q", result.Status)
	}
	if len(result.Outcomes) != 1 || result.Outcomes[0].State != domain.OutcomeDelivered {
		t.Fatalf("unexpected outcomes %+v", result.Outcomes)
	}
	if result.Outcomes[0].Provider != domain.ProviderSMS {
		t.Fatalf("unexpected provider %q", result.Outcomes[0].Provider)
	}
	if sender.count() != 1 {
		t.Fatalf("expected one send, got %d", sender.count())
	}
}

func TestPipelineSuppressesDuplicateWithinWindow(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	pipeline, _ := newTestPipeline(t, pipelineConfig(), sender)
	ctx := context.Background()

	if _, err := pipeline.Process(ctx, problemAlert("E1"), domain.QueryOptions{}); err != nil {
		t.Fatalf("first process: %v", err)
	}
	result, err := pipeline.Process(ctx, problemAlert("E2"), domain.QueryOptions{})
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if result.Status != domain.StatusDuplicate {
		t.Fatalf("expected duplicate, got %q", result.Status)
	}
	if len(result.Outcomes) != 0 {
		t.Fatalf("duplicate must not dispatch, got %+v", result.Outcomes)
	}
	if sender.count() != 1 {
		t.Fatalf("expected single send, got %d", sender.count())
	}
}

func TestPipelineRecoveryBypassesDedupe(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	pipeline, _ := newTestPipeline(t, pipelineConfig(), sender)
	ctx := context.Background()

	if _, err := pipeline.Process(ctx, problemAlert("E1"), domain.QueryOptions{}); err != nil {
		t.Fatalf("problem process: %v", err)
	}

	recovery := problemAlert("E1")
	recoveredAt := pipelineNow
	recovery.RecoverTime = &recoveredAt
	result, err := pipeline.Process(ctx, recovery, domain.QueryOptions{})
	if err != nil {
		t.Fatalf("recovery process: %v", err)
	}
	if result.Status != domain.StatusDispatched {
		t.Fatalf("recovery must bypass dedupe, got %q", result.Status)
	}
	if sender.count() != 2 {
		t.Fatalf("expected recovery send, got %d sends", sender.count())
	}
}

func TestPipelineRecoverSuppressSkipsDelivery(t *testing.T) {
	t.Parallel()

	cfg := pipelineConfig()
	cfg.Rules[0].RecoverSuppress = true
	sender := &recordingSender{}
	pipeline, _ := newTestPipeline(t, cfg, sender)

	alert := problemAlert("E1")
	recoveredAt := pipelineNow
	alert.RecoverTime = &recoveredAt

	result, err := pipeline.Process(context.Background(), alert, domain.QueryOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Status != domain.StatusDispatched {
		t.Fatalf("expected dispatched, got %q", result.Status)
	}
	if len(result.Outcomes) != 1 || result.Outcomes[0].State != domain.OutcomeSkipped {
		t.Fatalf("unexpected outcomes %+v", result.Outcomes)
	}
	if result.Outcomes[0].Reason != "recovery notifications disabled for rule" {
		t.Fatalf("unexpected reason %q", result.Outcomes[0].Reason)
	}
	if sender.count() != 0 {
		t.Fatalf("suppressed recovery must not send, got %d", sender.count())
	}
}

func TestPipelineSuppressSendOption(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	pipeline, _ := newTestPipeline(t, pipelineConfig(), sender)

	result, err := pipeline.Process(context.Background(), problemAlert("E1"), domain.QueryOptions{SuppressSend: true})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Status != domain.StatusDispatched {
		t.Fatalf("expected dispatched, got %q", result.Status)
	}
	if len(result.Outcomes) != 1 || result.Outcomes[0].State != domain.OutcomeSkipped {
		t.Fatalf("unexpected outcomes %+v", result.Outcomes)
	}
	if sender.count() != 0 {
		t.Fatalf("suppressed request must not send, got %d", sender.count())
	}
}

func TestPipelineForbidNotShowLeavesNoHistory(t *testing.T) {
	t.Parallel()

	cfg := pipelineConfig()
	cfg.Forbids = []config.ForbidConfig{{
		ID:         "f1",
		Begin:      "2024-09-12T00:00:00Z",
		End:        "2024-09-13T00:00:00Z",
		Type:       string(domain.ForbidNotShowAndSend),
		Projects:   []string{"TJH"},
		AlertCodes: []string{domain.ForbidMatchAny},
		HostIPs:    []string{domain.ForbidMatchAny},
	}}
	sender := &recordingSender{}
	pipeline, repository := newTestPipeline(t, cfg, sender)
	ctx := context.Background()

	alert := problemAlert("E1")
	result, err := pipeline.Process(ctx, alert, domain.QueryOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Status != domain.StatusForbidden {
		t.Fatalf("expected forbidden, got %q", result.Status)
	}
	if sender.count() != 0 {
		t.Fatalf("forbidden alert must not send, got %d", sender.count())
	}

	key := engine.BuildDedupeKey(alert)
	if _, err := repository.GetLastOccurrence(ctx, key, "r1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("not-show-and-send must leave no trace, got %v", err)
	}
}

func TestPipelineForbidNotSendRecordsOccurrence(t *testing.T) {
	t.Parallel()

	cfg := pipelineConfig()
	cfg.Forbids = []config.ForbidConfig{{
		ID:         "f1",
		Begin:      "2024-09-12T00:00:00Z",
		End:        "2024-09-13T00:00:00Z",
		Type:       string(domain.ForbidNotSend),
		Projects:   []string{"TJH"},
		AlertCodes: []string{domain.ForbidMatchAny},
		HostIPs:    []string{domain.ForbidMatchAny},
	}}
	sender := &recordingSender{}
	pipeline, repository := newTestPipeline(t, cfg, sender)
	ctx := context.Background()

	alert := problemAlert("E1")
	result, err := pipeline.Process(ctx, alert, domain.QueryOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Status != domain.StatusForbidden {
		t.Fatalf("expected forbidden, got %q", result.Status)
	}

	key := engine.BuildDedupeKey(alert)
	at, err := repository.GetLastOccurrence(ctx, key, "r1")
	if err != nil {
		t.Fatalf("not-send must record occurrence: %v", err)
	}
	if !at.Equal(pipelineNow) {
		t.Fatalf("unexpected occurrence instant %v", at)
	}
}

func TestPipelineNoMatchStillDispatched(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	pipeline, _ := newTestPipeline(t, pipelineConfig(), sender)

	alert := problemAlert("E1")
	alert.Project = "UNKNOWN"
	result, err := pipeline.Process(context.Background(), alert, domain.QueryOptions{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Status != domain.StatusDispatched {
		t.Fatalf("expected dispatched, got %q", result.Status)
	}
	if len(result.Outcomes) != 0 {
		t.Fatalf("no matched rule means no outcomes, got %+v", result.Outcomes)
	}
	if sender.count() != 0 {
		t.Fatalf("unexpected sends %d", sender.count())
	}
}

// unavailableRepo fails dedupe writes to exercise error propagation.
type unavailableRepo struct {
	repo.Repository
}

func (u unavailableRepo) CheckAndRecord(context.Context, string, string, time.Time, time.Duration) (bool, error) {
	return false, repo.ErrUnavailable
}

func TestPipelineSurfacesHistoryStoreErrors(t *testing.T) {
	t.Parallel()

	clk := clock.FixedClock{At: pipelineNow}
	repository, err := repo.NewMemoryRepository(pipelineConfig(), repo.NewMemoryHistory(clk))
	if err != nil {
		t.Fatalf("seed repository: %v", err)
	}
	registry := notify.NewRegistry(time.Second, clk)
	registry.Register(&recordingSender{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := notify.NewDispatcher(repository, registry, msgformat.NewFormatter(clk), clk, logger)
	pipeline := NewPipeline(unavailableRepo{Repository: repository}, engine.NewResolver(), dispatcher, nil, clk, logger)

	_, err = pipeline.Process(context.Background(), problemAlert("E1"), domain.QueryOptions{})
	if !errors.Is(err, repo.ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}
