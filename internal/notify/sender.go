package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"alertmanager/internal/clock"
	"alertmanager/internal/domain"
)

// ErrProviderDelivery marks transport-level delivery failures so callers can
// distinguish them from local skips with errors.Is.
var ErrProviderDelivery = errors.New("provider delivery failure")

// Sender delivers one rendered message through one provider technology.
// Implementations are stateless with respect to channels; per-call provider
// and channel entities carry all credentials and addressing.
type Sender interface {
	Type() domain.ProviderType
	Send(ctx context.Context, provider domain.Provider, channel domain.Channel, message string) error
}

// Registry resolves senders by provider type.
// Params: sender set built at service start.
// Returns: lookup used by the dispatcher.
type Registry struct {
	senders map[domain.ProviderType]Sender
}

// NewRegistry builds a registry with every built-in sender.
// Params: shared HTTP timeout for gateway-style senders and clock.
// Returns: ready registry.
func NewRegistry(timeout time.Duration, clk clock.Clock) *Registry {
	client := &http.Client{Timeout: timeout}
	registry := &Registry{senders: make(map[domain.ProviderType]Sender)}
	registry.Register(NewDingTalkSender(client, clk))
	registry.Register(NewWeChatSender(client, clk))
	registry.Register(NewTelegramSender())
	registry.Register(NewEmailSender())
	registry.Register(NewSMSSender(client))
	registry.Register(NewVoiceSender(client))
	return registry
}

// Register installs one sender, replacing any previous sender of its type.
// Params: sender implementation.
// Returns: nothing.
func (r *Registry) Register(sender Sender) {
	r.senders[sender.Type()] = sender
}

// Resolve looks up the sender for a provider type.
// Params: provider type.
// Returns: sender or false when the type has no implementation.
func (r *Registry) Resolve(providerType domain.ProviderType) (Sender, bool) {
	sender, ok := r.senders[providerType]
	return sender, ok
}

// unexpectedStatusError formats a non-2xx gateway response.
// Params: sender label and HTTP response.
// Returns: error carrying status and trimmed body, tagged ErrProviderDelivery.
func unexpectedStatusError(prefix string, response *http.Response) error {
	rawBody, readErr := io.ReadAll(io.LimitReader(response.Body, 2048))
	if readErr != nil {
		return fmt.Errorf("%w: %s status=%d (read body: %v)", ErrProviderDelivery, prefix, response.StatusCode, readErr)
	}
	trimmedBody := strings.TrimSpace(string(rawBody))
	if trimmedBody == "" {
		return fmt.Errorf("%w: %s status=%d", ErrProviderDelivery, prefix, response.StatusCode)
	}
	return fmt.Errorf("%w: %s status=%d body=%s", ErrProviderDelivery, prefix, response.StatusCode, trimmedBody)
}
