package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"alertmanager/internal/clock"
	"alertmanager/internal/domain"
	"alertmanager/internal/msgformat"
)

var dispatchNow = time.Date(2024, 9, 12, 10, 0, 0, 0, time.UTC)

type fakeDirectory struct {
	channels  map[string]domain.Channel
	providers map[string]domain.Provider
}

func (d *fakeDirectory) ListChannels(_ context.Context, ids []string) ([]domain.Channel, error) {
	out := make([]domain.Channel, 0, len(ids))
	for _, id := range ids {
		if channel, ok := d.channels[id]; ok {
			out = append(out, channel)
		}
	}
	return out, nil
}

func (d *fakeDirectory) ResolveProvider(_ context.Context, id string) (domain.Provider, error) {
	provider, ok := d.providers[id]
	if !ok {
		return domain.Provider{}, errors.New("not found")
	}
	return provider, nil
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []string
	failFor  map[string]error
	sendType domain.ProviderType
}

func (s *fakeSender) Type() domain.ProviderType {
	return s.sendType
}

func (s *fakeSender) Send(_ context.Context, provider domain.Provider, channel domain.Channel, message string) error {
	if err, ok := s.failFor[channel.ID]; ok {
		return err
	}
	s.mu.Lock()
	s.sent = append(s.sent, channel.ID+":"+message)
	s.mu.Unlock()
	return nil
}

func newTestDispatcher(directory *fakeDirectory, sender Sender) *Dispatcher {
	clk := clock.FixedClock{At: dispatchNow}
	registry := NewRegistry(time.Second, clk)
	registry.Register(sender)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDispatcher(directory, registry, msgformat.NewFormatter(clk), clk, logger)
}

func dispatchRule() domain.Rule {
	return domain.Rule{
		ID:            "r1",
		ChannelIDs:    []string{"a", "b"},
		MessageFormat: "{ALERT_CODE}",
	}
}

func dispatchDirectory() *fakeDirectory {
	return &fakeDirectory{
		channels: map[string]domain.Channel{
			"a": {ID: "a", ProviderID: "p1"},
			"b": {ID: "b", ProviderID: "p1"},
		},
		providers: map[string]domain.Provider{
			"p1": {ID: "p1", Type: domain.ProviderSMS},
		},
	}
}

func dispatchAlert() domain.Alert {
	return domain.Alert{EventID: "E1", Project: "TJH", AlertCode: "BUSI000"}
}

func TestDispatchNoShortCircuitOnFailure(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{
		sendType: domain.ProviderSMS,
		failFor:  map[string]error{"a": errors.New("gateway down")},
	}
	dispatcher := newTestDispatcher(dispatchDirectory(), sender)

	outcomes, err := dispatcher.Dispatch(context.Background(), DispatchRequest{
		Alert: dispatchAlert(),
		Rule:  dispatchRule(),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].State != domain.OutcomeFailed || outcomes[0].Reason == "" {
		t.Fatalf("expected channel a to fail with reason, got %+v", outcomes[0])
	}
	if outcomes[1].State != domain.OutcomeDelivered {
		t.Fatalf("expected channel b delivered, got %+v", outcomes[1])
	}
	if len(sender.sent) != 1 || sender.sent[0] != "b:BUSI000" {
		t.Fatalf("unexpected sends %v", sender.sent)
	}
}

func TestDispatchSuppressSend(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{sendType: domain.ProviderSMS}
	dispatcher := newTestDispatcher(dispatchDirectory(), sender)

	outcomes, err := dispatcher.Dispatch(context.Background(), DispatchRequest{
		Alert:          dispatchAlert(),
		Rule:           dispatchRule(),
		SuppressSend:   true,
		SuppressReason: "send suppressed by request",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	for _, outcome := range outcomes {
		if outcome.State != domain.OutcomeSkipped {
			t.Fatalf("expected skip, got %+v", outcome)
		}
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no provider calls, got %v", sender.sent)
	}
}

func TestDispatchForbiddenChannelSkipped(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{sendType: domain.ProviderSMS}
	dispatcher := newTestDispatcher(dispatchDirectory(), sender)

	outcomes, err := dispatcher.Dispatch(context.Background(), DispatchRequest{
		Alert:            dispatchAlert(),
		Rule:             dispatchRule(),
		ChannelForbidden: func(channelID string) bool { return channelID == "a" },
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcomes[0].State != domain.OutcomeSkipped || outcomes[0].Reason != "forbidden" {
		t.Fatalf("expected forbidden skip, got %+v", outcomes[0])
	}
	if outcomes[1].State != domain.OutcomeDelivered {
		t.Fatalf("expected channel b delivered, got %+v", outcomes[1])
	}
}

func TestDispatchUnknownChannelAndProvider(t *testing.T) {
	t.Parallel()

	directory := dispatchDirectory()
	directory.channels["c"] = domain.Channel{ID: "c", ProviderID: "ghost"}
	sender := &fakeSender{sendType: domain.ProviderSMS}
	dispatcher := newTestDispatcher(directory, sender)

	rule := dispatchRule()
	rule.ChannelIDs = []string{"missing", "c"}
	outcomes, err := dispatcher.Dispatch(context.Background(), DispatchRequest{
		Alert: dispatchAlert(),
		Rule:  rule,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcomes[0].State != domain.OutcomeSkipped || outcomes[0].Reason != "channel not configured" {
		t.Fatalf("expected missing-channel skip, got %+v", outcomes[0])
	}
	if outcomes[1].State != domain.OutcomeSkipped || outcomes[1].Reason != "provider not configured" {
		t.Fatalf("expected missing-provider skip, got %+v", outcomes[1])
	}
}

func TestDispatchDisabledChannel(t *testing.T) {
	t.Parallel()

	directory := dispatchDirectory()
	channel := directory.channels["a"]
	channel.Disabled = true
	directory.channels["a"] = channel

	sender := &fakeSender{sendType: domain.ProviderSMS}
	dispatcher := newTestDispatcher(directory, sender)

	outcomes, err := dispatcher.Dispatch(context.Background(), DispatchRequest{
		Alert: dispatchAlert(),
		Rule:  dispatchRule(),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcomes[0].State != domain.OutcomeSkipped || outcomes[0].Reason != "channel disabled" {
		t.Fatalf("expected disabled skip, got %+v", outcomes[0])
	}
}

func TestDispatchSendRateThrottles(t *testing.T) {
	t.Parallel()

	directory := dispatchDirectory()
	channel := directory.channels["a"]
	channel.SendRate = 1
	directory.channels["a"] = channel

	sender := &fakeSender{sendType: domain.ProviderSMS}
	dispatcher := newTestDispatcher(directory, sender)

	rule := dispatchRule()
	rule.ChannelIDs = []string{"a"}
	request := DispatchRequest{Alert: dispatchAlert(), Rule: rule}

	first, err := dispatcher.Dispatch(context.Background(), request)
	if err != nil || first[0].State != domain.OutcomeDelivered {
		t.Fatalf("first send should deliver: %+v %v", first, err)
	}
	second, err := dispatcher.Dispatch(context.Background(), request)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if second[0].State != domain.OutcomeFailed || second[0].Reason != "send rate exceeded" {
		t.Fatalf("expected throttle failure, got %+v", second[0])
	}
}

func TestThrottleSlidingWindow(t *testing.T) {
	t.Parallel()

	throttle := NewThrottle()
	base := dispatchNow
	if !throttle.Allow("ch", 2, base) || !throttle.Allow("ch", 2, base.Add(time.Second)) {
		t.Fatalf("first two sends should pass")
	}
	if throttle.Allow("ch", 2, base.Add(2*time.Second)) {
		t.Fatalf("third send inside the minute should be throttled")
	}
	if !throttle.Allow("ch", 2, base.Add(61*time.Second)) {
		t.Fatalf("send after the window should pass")
	}
	if !throttle.Allow("other", 1, base) {
		t.Fatalf("channels must not share windows")
	}
}
