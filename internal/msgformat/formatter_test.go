package msgformat

import (
	"strings"
	"testing"
	"time"

	"alertmanager/internal/clock"
	"alertmanager/internal/domain"
)

var renderNow = time.Date(2024, 9, 12, 12, 30, 0, 0, time.UTC)

func renderAlert() domain.Alert {
	alertAt := time.Date(2024, 9, 12, 10, 0, 0, 0, time.UTC)
	return domain.Alert{
		EventID:   "E1",
		Project:   "TJH",
		AlertCode: "BUSI000",
		Hostname:  "host01",
		HostIP:    "10.0.0.5",
		Level:     "CRIT",
		Message:   "disk full",
		AlertTime: &alertAt,
		Others:    map[string]any{"region": "cn-east", "retries": float64(3)},
	}
}

func TestRenderCoreFields(t *testing.T) {
	t.Parallel()

	formatter := NewFormatter(clock.FixedClock{At: renderNow})
	format := "{PROJECT}/{ALERT_CODE} {HOST_NAME} {HOST_IP} {ALERT_LEVEL} {EVENT_ID}: {ALERT_MSG}"
	got := formatter.Render(format, renderAlert())
	want := "TJH/BUSI000 host01 10.0.0.5 CRIT E1: disk full"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRenderTimes(t *testing.T) {
	t.Parallel()

	formatter := NewFormatter(clock.FixedClock{At: renderNow})
	got := formatter.Render("{ALERT_TIME}|{RECOVER_TIME}|{NOW}", renderAlert())
	if got != "2024.09.12 10:00:00||2024.09.12 12:30:00" {
		t.Fatalf("unexpected render %q", got)
	}
}

func TestRenderStatus(t *testing.T) {
	t.Parallel()

	formatter := NewFormatter(clock.FixedClock{At: renderNow})
	alert := renderAlert()
	if got := formatter.Render("{STATU}", alert); got != "PROBLEM" {
		t.Fatalf("expected PROBLEM, got %q", got)
	}
	recovered := renderNow
	alert.RecoverTime = &recovered
	if got := formatter.Render("{STATU}", alert); got != "RECOVER" {
		t.Fatalf("expected RECOVER, got %q", got)
	}
}

func TestRenderOthersLookup(t *testing.T) {
	t.Parallel()

	formatter := NewFormatter(clock.FixedClock{At: renderNow})
	got := formatter.Render("{OTHERS.region}/{OTHERS.retries}/{OTHERS.missing}", renderAlert())
	if got != "cn-east/3/" {
		t.Fatalf("unexpected render %q", got)
	}
}

func TestRenderUnknownPlaceholderEmpty(t *testing.T) {
	t.Parallel()

	formatter := NewFormatter(clock.FixedClock{At: renderNow})
	if got := formatter.Render("a{NOPE}b", renderAlert()); got != "ab" {
		t.Fatalf("unexpected render %q", got)
	}
}

func TestRenderDefaultFormatUsedWhenEmpty(t *testing.T) {
	t.Parallel()

	formatter := NewFormatter(clock.FixedClock{At: renderNow})
	got := formatter.Render("", renderAlert())
	if !strings.Contains(got, "disk full") || !strings.Contains(got, "TJH") {
		t.Fatalf("default format missing fields: %q", got)
	}
}

func TestTitlePrecedence(t *testing.T) {
	t.Parallel()

	alert := renderAlert()
	alert.Others["subject"] = "disk alarm"
	if got := Title(alert); got != "disk alarm" {
		t.Fatalf("expected subject to win, got %q", got)
	}

	delete(alert.Others, "subject")
	alert.Message = "first line\nsecond line"
	if got := Title(alert); got != "first line" {
		t.Fatalf("expected first message line, got %q", got)
	}

	alert.Message = strings.Repeat("x", 200)
	if got := Title(alert); len(got) != 120 {
		t.Fatalf("expected clip to 120, got %d", len(got))
	}

	alert.Message = ""
	if got := Title(alert); got != "BUSI000" {
		t.Fatalf("expected alert code fallback, got %q", got)
	}
}

func TestRenderJSONMessages(t *testing.T) {
	t.Parallel()

	formatter := NewFormatter(clock.FixedClock{At: renderNow})
	alert := renderAlert()
	alert.MsgInfo = map[string]any{"message": "disk full"}
	got := formatter.Render("{JSON_MESSGES}", alert)
	if got != `{"message":"disk full"}` {
		t.Fatalf("unexpected render %q", got)
	}

	alert.MsgInfo = nil
	if got := formatter.Render("{JSON_MESSGES}", alert); got != "disk full" {
		t.Fatalf("expected plain message fallback, got %q", got)
	}
}
