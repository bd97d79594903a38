package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"

	"alertmanager/internal/domain"
)

// EmailSender sends plain-text mail over SMTP with optional AUTH.
type EmailSender struct{}

// NewEmailSender creates the SMTP sender.
// Params: none.
// Returns: initialized sender.
func NewEmailSender() *EmailSender {
	return &EmailSender{}
}

// Type returns the provider type served by this sender.
// Params: none.
// Returns: email provider type.
func (s *EmailSender) Type() domain.ProviderType {
	return domain.ProviderEmail
}

// Send mails the message to the channel receivers (falling back to the
// provider's default recipients).
// Params: context, provider credentials, channel addressing, and message text.
// Returns: SMTP error; context cancellation is honored between dial attempts
// only, matching the blocking nature of net/smtp.
func (s *EmailSender) Send(ctx context.Context, provider domain.Provider, channel domain.Channel, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(provider.SMTPHost) == "" {
		return fmt.Errorf("%w: email smtp_host is required", ErrProviderDelivery)
	}

	recipients := channel.Receivers
	if len(recipients) == 0 {
		recipients = provider.MailTo
	}
	if len(recipients) == 0 {
		return errors.New("email has no recipients")
	}

	body := buildMailBody(provider.MailFrom, recipients, mailSubject(message), message)

	addr := provider.SMTPHost + ":" + strconv.Itoa(smtpPort(provider.SMTPPort))
	var auth smtp.Auth
	if provider.SMTPUsername != "" {
		auth = smtp.PlainAuth("", provider.SMTPUsername, provider.SMTPPassword, provider.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, provider.MailFrom, recipients, body); err != nil {
		return fmt.Errorf("%w: email send: %v", ErrProviderDelivery, err)
	}
	return nil
}

// mailSubject derives the subject from the first message line, clipped to
// 120 characters on rune boundaries.
// Params: rendered message text.
// Returns: subject header value.
func mailSubject(message string) string {
	subject := strings.SplitN(message, "\n", 2)[0]
	if runes := []rune(subject); len(runes) > 120 {
		subject = string(runes[:120])
	}
	return subject
}

// buildMailBody assembles RFC 5322 headers and the text body.
// Params: sender, recipients, subject, and message text.
// Returns: wire-ready mail bytes.
func buildMailBody(from string, to []string, subject, message string) []byte {
	var builder strings.Builder
	builder.WriteString("From: " + from + "\r\n")
	builder.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	builder.WriteString("Subject: " + subject + "\r\n")
	builder.WriteString("MIME-Version: 1.0\r\n")
	builder.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	builder.WriteString("\r\n")
	builder.WriteString(strings.ReplaceAll(message, "\n", "\r\n"))
	return []byte(builder.String())
}

// smtpPort applies the default submission port.
// Params: configured port.
// Returns: configured port or 25.
func smtpPort(port int) int {
	if port <= 0 {
		return 25
	}
	return port
}
