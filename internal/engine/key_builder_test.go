package engine

import (
	"strings"
	"testing"
	"time"

	"alertmanager/internal/domain"
)

func baseAlert() domain.Alert {
	at := time.Date(2024, 9, 12, 10, 0, 0, 0, time.UTC)
	return domain.Alert{
		EventID:   "E1",
		Project:   "TJH",
		AlertCode: "BUSI000",
		Hostname:  "host01",
		HostIP:    "10.0.0.5",
		EventType: "DOWN",
		Level:     "CRIT",
		Message:   "disk full",
		AlertTime: &at,
	}
}

func TestBuildDedupeKeyStableAcrossNoise(t *testing.T) {
	t.Parallel()

	first := baseAlert()
	second := baseAlert()
	second.Message = "disk almost full"
	second.Level = "WARN"
	other := time.Date(2024, 9, 12, 11, 30, 0, 0, time.UTC)
	second.AlertTime = &other
	second.EventID = "E2"

	if BuildDedupeKey(first) != BuildDedupeKey(second) {
		t.Fatalf("expected identical keys for identity-equal alerts")
	}
}

func TestBuildDedupeKeyDiffersOnIdentityFields(t *testing.T) {
	t.Parallel()

	first := baseAlert()
	second := baseAlert()
	second.Hostname = "host02"
	if BuildDedupeKey(first) == BuildDedupeKey(second) {
		t.Fatalf("expected different keys for different hostnames")
	}

	third := baseAlert()
	third.EventType = "RECOVERY"
	if BuildDedupeKey(first) == BuildDedupeKey(third) {
		t.Fatalf("expected different keys for different event types")
	}
}

func TestBuildDedupeKeyPathShape(t *testing.T) {
	t.Parallel()

	alert := baseAlert()
	alert.Project = "My Project!"
	key := BuildDedupeKey(alert)
	if !strings.HasPrefix(key, "alert/my_project/busi000/") {
		t.Fatalf("unexpected key shape %q", key)
	}
	if strings.ContainsAny(strings.TrimPrefix(key, "alert/"), " !") {
		t.Fatalf("key contains unsanitized characters: %q", key)
	}
}

func TestBuildDedupeKeyCaseInsensitive(t *testing.T) {
	t.Parallel()

	first := baseAlert()
	second := baseAlert()
	second.Hostname = "HOST01"
	second.Project = "tjh"
	if BuildDedupeKey(first) != BuildDedupeKey(second) {
		t.Fatalf("expected case-insensitive identity")
	}
}
