package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"alertmanager/internal/clock"
	"alertmanager/internal/domain"
)

// WeChatSender delivers text messages through the WeChat Work application
// API. Access tokens are cached per corp/agent pair until shortly before
// their advertised expiry.
type WeChatSender struct {
	client *http.Client
	clk    clock.Clock

	mu     sync.Mutex
	tokens map[string]wechatToken
}

type wechatToken struct {
	value   string
	expires time.Time
}

// NewWeChatSender creates the WeChat Work sender.
// Params: shared HTTP client and clock for token expiry.
// Returns: initialized sender.
func NewWeChatSender(client *http.Client, clk clock.Clock) *WeChatSender {
	return &WeChatSender{client: client, clk: clk, tokens: make(map[string]wechatToken)}
}

// Type returns the provider type served by this sender.
// Params: none.
// Returns: wechat provider type.
func (s *WeChatSender) Type() domain.ProviderType {
	return domain.ProviderWeChat
}

// Send pushes one text message to the application's receivers.
// Params: context, provider credentials, channel addressing, and message text.
// Returns: transport, HTTP, or WeChat API error.
func (s *WeChatSender) Send(ctx context.Context, provider domain.Provider, channel domain.Channel, message string) error {
	token, err := s.accessToken(ctx, provider)
	if err != nil {
		return err
	}

	toUser := strings.Join(channel.Receivers, "|")
	if toUser == "" {
		toUser = provider.ToUser
	}
	if toUser == "" {
		toUser = "@all"
	}

	payload := struct {
		ToUser  string `json:"touser"`
		MsgType string `json:"msgtype"`
		AgentID string `json:"agentid"`
		Text    struct {
			Content string `json:"content"`
		} `json:"text"`
	}{ToUser: toUser, MsgType: "text", AgentID: provider.AgentID}
	payload.Text.Content = message

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode wechat payload: %w", err)
	}

	endpoint := strings.TrimRight(provider.APIBase, "/") + "/cgi-bin/message/send?access_token=" + url.QueryEscape(token)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build wechat request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("%w: wechat send: %v", ErrProviderDelivery, err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return unexpectedStatusError("wechat", response)
	}

	var decoded struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode wechat response: %w", err)
	}
	if decoded.ErrCode != 0 {
		// Token may have been revoked server-side; drop the cache entry so
		// the next attempt fetches a fresh one.
		if decoded.ErrCode == 40014 || decoded.ErrCode == 42001 {
			s.forgetToken(provider)
		}
		return fmt.Errorf("%w: wechat errcode=%d errmsg=%s", ErrProviderDelivery, decoded.ErrCode, decoded.ErrMsg)
	}
	return nil
}

// accessToken returns a cached or freshly fetched application token.
// Params: context and provider credentials.
// Returns: token value or fetch error.
func (s *WeChatSender) accessToken(ctx context.Context, provider domain.Provider) (string, error) {
	cacheKey := provider.CorpID + "/" + provider.AgentID
	now := s.clk.Now()

	s.mu.Lock()
	cached, ok := s.tokens[cacheKey]
	s.mu.Unlock()
	if ok && now.Before(cached.expires) {
		return cached.value, nil
	}

	endpoint := strings.TrimRight(provider.APIBase, "/") + "/cgi-bin/gettoken?corpid=" +
		url.QueryEscape(provider.CorpID) + "&corpsecret=" + url.QueryEscape(provider.CorpSecret)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build wechat token request: %w", err)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("%w: wechat token fetch: %v", ErrProviderDelivery, err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", unexpectedStatusError("wechat token", response)
	}

	var decoded struct {
		ErrCode     int    `json:"errcode"`
		ErrMsg      string `json:"errmsg"`
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode wechat token response: %w", err)
	}
	if decoded.ErrCode != 0 || decoded.AccessToken == "" {
		return "", fmt.Errorf("%w: wechat token errcode=%d errmsg=%s", ErrProviderDelivery, decoded.ErrCode, decoded.ErrMsg)
	}

	ttl := time.Duration(decoded.ExpiresIn) * time.Second
	if ttl > time.Minute {
		ttl -= time.Minute
	}
	s.mu.Lock()
	s.tokens[cacheKey] = wechatToken{value: decoded.AccessToken, expires: now.Add(ttl)}
	s.mu.Unlock()
	return decoded.AccessToken, nil
}

// forgetToken drops the cached token of one provider.
// Params: provider credentials.
// Returns: nothing.
func (s *WeChatSender) forgetToken(provider domain.Provider) {
	s.mu.Lock()
	delete(s.tokens, provider.CorpID+"/"+provider.AgentID)
	s.mu.Unlock()
}
