package repo

import (
	"context"
	"errors"
	"time"

	"alertmanager/internal/domain"
)

var (
	// ErrNotFound indicates an absent entity or occurrence record.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable indicates the backing store cannot be reached.
	ErrUnavailable = errors.New("repository unavailable")
)

// Repository provides policy lookup and dedupe-history persistence.
// Policy reads return point-in-time snapshots; history operations are
// atomic per dedupe key so concurrent duplicates collapse to one send.
type Repository interface {
	FindRules(ctx context.Context) ([]domain.Rule, error)
	FindForbidRules(ctx context.Context) ([]domain.ForbidRule, error)
	ListChannels(ctx context.Context, ids []string) ([]domain.Channel, error)
	ResolveProvider(ctx context.Context, id string) (domain.Provider, error)

	GetLastOccurrence(ctx context.Context, key, ruleID string) (time.Time, error)
	RecordOccurrence(ctx context.Context, key, ruleID string, at time.Time) error

	// CheckAndRecord reports whether an alert is fresh for one rule and, when
	// fresh, records the occurrence in the same atomic step.
	CheckAndRecord(ctx context.Context, key, ruleID string, at time.Time, window time.Duration) (bool, error)
}

// HistoryStore is the dedupe-occurrence persistence behind a Repository.
// Implementations guarantee per-key atomicity of CheckAndRecord.
type HistoryStore interface {
	GetLastOccurrence(ctx context.Context, key, ruleID string) (time.Time, error)
	RecordOccurrence(ctx context.Context, key, ruleID string, at time.Time) error
	CheckAndRecord(ctx context.Context, key, ruleID string, at time.Time, window time.Duration) (bool, error)
	Close() error
}
