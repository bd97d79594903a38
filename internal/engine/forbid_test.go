package engine

import (
	"testing"
	"time"

	"alertmanager/internal/domain"
)

var (
	windowBegin = time.Date(2024, 9, 12, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2024, 9, 13, 0, 0, 0, 0, time.UTC)
	inWindow    = time.Date(2024, 9, 12, 10, 0, 0, 0, time.UTC)
)

func forbidAlert() domain.Alert {
	return domain.Alert{
		Project:   "TJH",
		AlertCode: "BUSI000",
		Hostname:  "api-01.prod",
		HostIP:    "10.0.0.5",
	}
}

func TestEvaluateForbidInsideWindow(t *testing.T) {
	t.Parallel()

	forbids := []domain.ForbidRule{{
		ID:         "f1",
		Begin:      windowBegin,
		End:        windowEnd,
		Type:       domain.ForbidNotSend,
		Projects:   []string{"TJH"},
		AlertCodes: []string{domain.ForbidMatchAny},
		HostIPs:    []string{domain.ForbidMatchAny},
	}}
	decision := EvaluateForbid(forbids, forbidAlert(), inWindow)
	if !decision.Forbidden || !decision.BlocksAlert() {
		t.Fatalf("expected alert-wide forbid")
	}
	if decision.RuleID != "f1" || decision.Type != domain.ForbidNotSend {
		t.Fatalf("unexpected decision %+v", decision)
	}
}

func TestEvaluateForbidOutsideWindow(t *testing.T) {
	t.Parallel()

	forbids := []domain.ForbidRule{{
		ID:         "f1",
		Begin:      windowBegin,
		End:        windowEnd,
		Projects:   []string{domain.ForbidMatchAny},
		AlertCodes: []string{domain.ForbidMatchAny},
		HostIPs:    []string{domain.ForbidMatchAny},
	}}
	after := windowEnd.Add(time.Minute)
	if decision := EvaluateForbid(forbids, forbidAlert(), after); decision.Forbidden {
		t.Fatalf("expected no forbid outside the window")
	}
}

func TestEvaluateForbidNullMatchesAny(t *testing.T) {
	t.Parallel()

	forbids := []domain.ForbidRule{{
		ID:         "f1",
		Begin:      windowBegin,
		End:        windowEnd,
		Projects:   []string{domain.ForbidMatchAny},
		AlertCodes: []string{domain.ForbidMatchAny},
		HostIPs:    []string{domain.ForbidMatchAny},
	}}
	if decision := EvaluateForbid(forbids, forbidAlert(), inWindow); !decision.Forbidden {
		t.Fatalf("expected NULL sets to match any alert")
	}
}

func TestEvaluateForbidEmptySetMatchesNothing(t *testing.T) {
	t.Parallel()

	forbids := []domain.ForbidRule{{
		ID:       "f1",
		Begin:    windowBegin,
		End:      windowEnd,
		Projects: []string{"TJH"},
	}}
	if decision := EvaluateForbid(forbids, forbidAlert(), inWindow); decision.Forbidden {
		t.Fatalf("an empty alert-code set must match nothing, got %+v", decision)
	}

	forbids[0].AlertCodes = []string{domain.ForbidMatchAny}
	if decision := EvaluateForbid(forbids, forbidAlert(), inWindow); decision.Forbidden {
		t.Fatalf("an empty host-ip set must match nothing, got %+v", decision)
	}

	forbids[0].HostIPs = []string{domain.ForbidMatchAny}
	if decision := EvaluateForbid(forbids, forbidAlert(), inWindow); !decision.Forbidden {
		t.Fatalf("expected a match once every set names NULL")
	}
}

func TestEvaluateForbidMismatchedSet(t *testing.T) {
	t.Parallel()

	forbids := []domain.ForbidRule{{
		ID:         "f1",
		Begin:      windowBegin,
		End:        windowEnd,
		Projects:   []string{domain.ForbidMatchAny},
		AlertCodes: []string{"JVM001"},
		HostIPs:    []string{domain.ForbidMatchAny},
	}}
	if decision := EvaluateForbid(forbids, forbidAlert(), inWindow); decision.Forbidden {
		t.Fatalf("expected code mismatch to pass the alert through")
	}
}

func TestEvaluateForbidHostSubstring(t *testing.T) {
	t.Parallel()

	forbids := []domain.ForbidRule{{
		ID:           "f1",
		Begin:        windowBegin,
		End:          windowEnd,
		Projects:     []string{domain.ForbidMatchAny},
		AlertCodes:   []string{domain.ForbidMatchAny},
		HostIPs:      []string{domain.ForbidMatchAny},
		HostContains: []string{".prod"},
	}}
	if decision := EvaluateForbid(forbids, forbidAlert(), inWindow); !decision.Forbidden {
		t.Fatalf("expected substring match on hostname")
	}

	forbids[0].HostContains = []string{".staging"}
	if decision := EvaluateForbid(forbids, forbidAlert(), inWindow); decision.Forbidden {
		t.Fatalf("expected substring mismatch to pass the alert through")
	}
}

func TestEvaluateForbidChannelScoped(t *testing.T) {
	t.Parallel()

	forbids := []domain.ForbidRule{{
		ID:         "f1",
		Begin:      windowBegin,
		End:        windowEnd,
		Projects:   []string{domain.ForbidMatchAny},
		AlertCodes: []string{domain.ForbidMatchAny},
		HostIPs:    []string{domain.ForbidMatchAny},
		ChannelIDs: []string{"sms-ops"},
	}}
	decision := EvaluateForbid(forbids, forbidAlert(), inWindow)
	if !decision.Forbidden || decision.BlocksAlert() {
		t.Fatalf("expected channel-scoped forbid, got %+v", decision)
	}
	if !decision.ChannelForbidden("sms-ops") {
		t.Fatalf("expected sms-ops to be forbidden")
	}
	if decision.ChannelForbidden("mail-ops") {
		t.Fatalf("expected mail-ops to stay allowed")
	}
}

func TestEvaluateForbidAlertWideOverridesChannelScope(t *testing.T) {
	t.Parallel()

	anySet := []string{domain.ForbidMatchAny}
	forbids := []domain.ForbidRule{
		{ID: "scoped", Begin: windowBegin, End: windowEnd,
			Projects: anySet, AlertCodes: anySet, HostIPs: anySet, ChannelIDs: []string{"sms-ops"}},
		{ID: "global", Begin: windowBegin, End: windowEnd,
			Projects: anySet, AlertCodes: anySet, HostIPs: anySet, Type: domain.ForbidNotShowAndSend},
	}
	decision := EvaluateForbid(forbids, forbidAlert(), inWindow)
	if !decision.BlocksAlert() {
		t.Fatalf("expected alert-wide forbid to win")
	}
	if decision.RuleID != "global" || decision.Type != domain.ForbidNotShowAndSend {
		t.Fatalf("unexpected winning rule %+v", decision)
	}
}
