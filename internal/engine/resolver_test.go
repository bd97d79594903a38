package engine

import (
	"testing"

	"alertmanager/internal/domain"
)

func resolveAlert() domain.Alert {
	return domain.Alert{
		Project:    "TJH",
		AlertCode:  "BUSI000",
		SourceType: domain.SourceZabbix,
		Hostname:   "api-01",
	}
}

func TestResolveOrdersByPriorityDescending(t *testing.T) {
	t.Parallel()

	rules := []domain.Rule{
		{ID: "low", Priority: 1},
		{ID: "high", Priority: 10},
		{ID: "mid", Priority: 5},
	}
	matched := NewResolver().Resolve(rules, resolveAlert())
	if len(matched) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matched))
	}
	if matched[0].ID != "high" || matched[1].ID != "mid" || matched[2].ID != "low" {
		t.Fatalf("unexpected order: %s %s %s", matched[0].ID, matched[1].ID, matched[2].ID)
	}
}

func TestResolveStableForEqualPriority(t *testing.T) {
	t.Parallel()

	rules := []domain.Rule{
		{ID: "first", Priority: 5},
		{ID: "second", Priority: 5},
	}
	matched := NewResolver().Resolve(rules, resolveAlert())
	if matched[0].ID != "first" || matched[1].ID != "second" {
		t.Fatalf("expected definition order for ties, got %s %s", matched[0].ID, matched[1].ID)
	}
}

func TestResolveStopOnMatchCutsSequence(t *testing.T) {
	t.Parallel()

	rules := []domain.Rule{
		{ID: "low", Priority: 1},
		{ID: "exclusive", Priority: 10, StopOnMatch: true},
	}
	matched := NewResolver().Resolve(rules, resolveAlert())
	if len(matched) != 1 || matched[0].ID != "exclusive" {
		t.Fatalf("expected only the exclusive rule, got %d matches", len(matched))
	}
}

func TestResolvePredicates(t *testing.T) {
	t.Parallel()

	rules := []domain.Rule{
		{ID: "project", Projects: []string{"OTHER"}},
		{ID: "code", AlertCodes: []string{"busi000"}},
		{ID: "source", SourceTypes: []domain.SourceType{domain.SourcePrometheus}},
		{ID: "host", HostPatterns: []string{"api-*"}},
		{ID: "hostmiss", HostPatterns: []string{"db-*"}},
	}
	matched := NewResolver().Resolve(rules, resolveAlert())

	ids := make(map[string]bool, len(matched))
	for _, rule := range matched {
		ids[rule.ID] = true
	}
	if ids["project"] || ids["source"] || ids["hostmiss"] {
		t.Fatalf("unexpected matches: %v", ids)
	}
	if !ids["code"] || !ids["host"] {
		t.Fatalf("expected code and host rules to match: %v", ids)
	}
}

func TestResolveEmptySetsMatchAny(t *testing.T) {
	t.Parallel()

	matched := NewResolver().Resolve([]domain.Rule{{ID: "open"}}, resolveAlert())
	if len(matched) != 1 {
		t.Fatalf("expected open rule to match, got %d", len(matched))
	}
}

func TestResolveNoMatchIsEmptyNotError(t *testing.T) {
	t.Parallel()

	matched := NewResolver().Resolve([]domain.Rule{{ID: "other", Projects: []string{"X"}}}, resolveAlert())
	if len(matched) != 0 {
		t.Fatalf("expected no matches, got %d", len(matched))
	}
}
