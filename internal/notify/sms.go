package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"alertmanager/internal/domain"
)

// SMSSender posts short messages to a MAS-style SMS gateway.
type SMSSender struct {
	client *http.Client
}

// NewSMSSender creates the SMS gateway sender.
// Params: shared HTTP client.
// Returns: initialized sender.
func NewSMSSender(client *http.Client) *SMSSender {
	return &SMSSender{client: client}
}

// Type returns the provider type served by this sender.
// Params: none.
// Returns: sms provider type.
func (s *SMSSender) Type() domain.ProviderType {
	return domain.ProviderSMS
}

// Send posts the message to the gateway for the channel's phone numbers.
// Params: context, provider credentials, channel addressing, and message text.
// Returns: transport, HTTP, or gateway error.
func (s *SMSSender) Send(ctx context.Context, provider domain.Provider, channel domain.Channel, message string) error {
	if strings.TrimSpace(provider.GatewayURL) == "" {
		return fmt.Errorf("%w: sms gateway_url is required", ErrProviderDelivery)
	}
	phones := channel.Phones
	if len(phones) == 0 {
		phones = provider.CalledNumbers
	}
	if len(phones) == 0 {
		return errors.New("sms has no phone numbers")
	}

	payload := struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Sign     string `json:"sign"`
		Message  string `json:"message"`
		Phones   string `json:"phones"`
	}{
		Username: provider.GatewayUser,
		Password: provider.GatewayPassword,
		Sign:     provider.GatewaySign,
		Message:  message,
		Phones:   strings.Join(phones, ","),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode sms payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("%w: sms send: %v", ErrProviderDelivery, err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return unexpectedStatusError("sms", response)
	}
	return nil
}
