package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"alertmanager/internal/clock"
	"alertmanager/internal/domain"
)

// DingTalkSender posts text messages to a DingTalk group robot webhook.
// When the provider carries a secret the request is signed with the
// timestamp+secret HMAC scheme required by secured robots.
type DingTalkSender struct {
	client *http.Client
	clk    clock.Clock
}

// NewDingTalkSender creates the DingTalk webhook sender.
// Params: shared HTTP client and clock for signature timestamps.
// Returns: initialized sender.
func NewDingTalkSender(client *http.Client, clk clock.Clock) *DingTalkSender {
	return &DingTalkSender{client: client, clk: clk}
}

// Type returns the provider type served by this sender.
// Params: none.
// Returns: dingtalk provider type.
func (s *DingTalkSender) Type() domain.ProviderType {
	return domain.ProviderDingTalk
}

// Send posts one text message to the robot webhook.
// Params: context, provider credentials, channel addressing, and message text.
// Returns: transport, HTTP, or robot API error.
func (s *DingTalkSender) Send(ctx context.Context, provider domain.Provider, channel domain.Channel, message string) error {
	endpoint := strings.TrimSpace(provider.WebhookURL)
	if endpoint == "" {
		return fmt.Errorf("%w: dingtalk webhook_url is required", ErrProviderDelivery)
	}
	if secret := strings.TrimSpace(provider.Secret); secret != "" {
		signed, err := signWebhookURL(endpoint, secret, s.clk.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("%w: dingtalk sign: %v", ErrProviderDelivery, err)
		}
		endpoint = signed
	}

	payload := struct {
		MsgType string `json:"msgtype"`
		Text    struct {
			Content string `json:"content"`
		} `json:"text"`
		At struct {
			AtMobiles []string `json:"atMobiles,omitempty"`
		} `json:"at"`
	}{MsgType: "text"}
	payload.Text.Content = message
	payload.At.AtMobiles = channel.Phones

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode dingtalk payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build dingtalk request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("%w: dingtalk send: %v", ErrProviderDelivery, err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return unexpectedStatusError("dingtalk", response)
	}

	var decoded struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode dingtalk response: %w", err)
	}
	if decoded.ErrCode != 0 {
		return fmt.Errorf("%w: dingtalk errcode=%d errmsg=%s", ErrProviderDelivery, decoded.ErrCode, decoded.ErrMsg)
	}
	return nil
}

// signWebhookURL appends the timestamp/sign query pair to a webhook URL.
// Params: webhook URL, robot secret, and signing timestamp in unix ms.
// Returns: signed URL; the signature is base64(HMAC-SHA256("<ts>\n<secret>")).
func signWebhookURL(endpoint, secret string, timestampMS int64) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errors.New("webhook url is not absolute")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestampMS, 10) + "\n" + secret))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	query := parsed.Query()
	query.Set("timestamp", strconv.FormatInt(timestampMS, 10))
	query.Set("sign", signature)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
