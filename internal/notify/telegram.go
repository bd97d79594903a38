package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbot "github.com/go-telegram/bot"

	"alertmanager/internal/domain"
)

// TelegramSender sends messages through the Telegram Bot API. Bot clients
// are cached per token so repeated sends reuse one HTTP client.
type TelegramSender struct {
	mu      sync.Mutex
	clients map[string]*tgbot.Bot
}

// NewTelegramSender creates the Telegram sender.
// Params: none.
// Returns: initialized sender.
func NewTelegramSender() *TelegramSender {
	return &TelegramSender{clients: make(map[string]*tgbot.Bot)}
}

// Type returns the provider type served by this sender.
// Params: none.
// Returns: telegram provider type.
func (s *TelegramSender) Type() domain.ProviderType {
	return domain.ProviderTelegram
}

// Send posts one message to the provider's chat.
// Params: context, provider credentials, channel addressing, and message text.
// Returns: transport or Bot API error.
func (s *TelegramSender) Send(ctx context.Context, provider domain.Provider, channel domain.Channel, message string) error {
	client, err := s.botClient(provider)
	if err != nil {
		return err
	}

	chatID := normalizeChatID(provider.ChatID)
	if len(channel.Receivers) > 0 {
		chatID = normalizeChatID(channel.Receivers[0])
	}

	sent, err := client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   message,
	})
	if err != nil {
		return fmt.Errorf("%w: telegram send: %v", ErrProviderDelivery, err)
	}
	if sent == nil || sent.ID <= 0 {
		return fmt.Errorf("%w: telegram send returned empty message id", ErrProviderDelivery)
	}
	return nil
}

// botClient returns a cached bot client for a provider token.
// Params: provider credentials.
// Returns: bot client or init error.
func (s *TelegramSender) botClient(provider domain.Provider) (*tgbot.Bot, error) {
	token := strings.TrimSpace(provider.BotToken)
	if token == "" {
		return nil, errors.New("telegram bot_token is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if client, ok := s.clients[token]; ok {
		return client, nil
	}

	options := []tgbot.Option{tgbot.WithSkipGetMe()}
	if base := strings.TrimSpace(provider.APIBase); base != "" {
		options = append(options, tgbot.WithServerURL(strings.TrimRight(base, "/")))
	}
	client, err := tgbot.New(token, options...)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	s.clients[token] = client
	return client, nil
}

// normalizeChatID converts numeric chat IDs to int64 and keeps the rest as string.
// Params: configured chat ID value.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}
