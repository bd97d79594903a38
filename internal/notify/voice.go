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

// VoiceSender places alarm calls through an HTTP voice gateway. One request
// is issued per called number so a failed line does not block the rest.
type VoiceSender struct {
	client *http.Client
}

// NewVoiceSender creates the voice gateway sender.
// Params: shared HTTP client.
// Returns: initialized sender.
func NewVoiceSender(client *http.Client) *VoiceSender {
	return &VoiceSender{client: client}
}

// Type returns the provider type served by this sender.
// Params: none.
// Returns: voice provider type.
func (s *VoiceSender) Type() domain.ProviderType {
	return domain.ProviderVoice
}

// Send calls every configured number with the message as announcement text.
// Params: context, provider credentials, channel addressing, and message text.
// Returns: first call error after attempting all numbers.
func (s *VoiceSender) Send(ctx context.Context, provider domain.Provider, channel domain.Channel, message string) error {
	if strings.TrimSpace(provider.GatewayURL) == "" {
		return fmt.Errorf("%w: voice gateway_url is required", ErrProviderDelivery)
	}
	numbers := channel.Phones
	if len(numbers) == 0 {
		numbers = provider.CalledNumbers
	}
	if len(numbers) == 0 {
		return errors.New("voice has no called numbers")
	}

	var firstErr error
	for _, number := range numbers {
		if err := s.placeCall(ctx, provider, number, message); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// placeCall issues one gateway call request.
// Params: context, provider credentials, called number, and announcement text.
// Returns: transport or HTTP error.
func (s *VoiceSender) placeCall(ctx context.Context, provider domain.Provider, number, message string) error {
	payload := struct {
		CalledNumber string `json:"called_number"`
		ShowNumber   string `json:"show_number,omitempty"`
		TemplateCode string `json:"template_code,omitempty"`
		Text         string `json:"text"`
	}{
		CalledNumber: number,
		ShowNumber:   provider.ShowNumber,
		TemplateCode: provider.TemplateCode,
		Text:         message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode voice payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build voice request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if provider.GatewayUser != "" {
		request.SetBasicAuth(provider.GatewayUser, provider.GatewayPassword)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("%w: voice call %s: %v", ErrProviderDelivery, number, err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return unexpectedStatusError("voice", response)
	}
	return nil
}
