package notify

import (
	"net/url"
	"testing"
)

func TestSignWebhookURLAppendsSignature(t *testing.T) {
	t.Parallel()

	signed, err := signWebhookURL("https://oapi.dingtalk.com/robot/send?access_token=abc", "secret", 1726135200000)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	parsed, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parse signed url: %v", err)
	}
	query := parsed.Query()
	if query.Get("access_token") != "abc" {
		t.Fatalf("original query lost: %q", signed)
	}
	if query.Get("timestamp") != "1726135200000" {
		t.Fatalf("timestamp missing: %q", signed)
	}
	if query.Get("sign") == "" {
		t.Fatalf("signature missing: %q", signed)
	}
}

func TestSignWebhookURLDeterministic(t *testing.T) {
	t.Parallel()

	first, err := signWebhookURL("https://oapi.dingtalk.com/robot/send", "secret", 1726135200000)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	second, _ := signWebhookURL("https://oapi.dingtalk.com/robot/send", "secret", 1726135200000)
	if first != second {
		t.Fatalf("same inputs must sign identically")
	}
	changed, _ := signWebhookURL("https://oapi.dingtalk.com/robot/send", "other", 1726135200000)
	if first == changed {
		t.Fatalf("different secrets must sign differently")
	}
}

func TestSignWebhookURLRejectsRelative(t *testing.T) {
	t.Parallel()

	if _, err := signWebhookURL("/robot/send", "secret", 1); err == nil {
		t.Fatalf("expected error for relative url")
	}
}
