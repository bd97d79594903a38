package repo

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"alertmanager/internal/clock"
)

const historyStripes = 64

// MemoryHistory keeps dedupe occurrences in striped in-process maps.
// Each dedupe key maps deterministically to one stripe, so CheckAndRecord is
// atomic per key while unrelated keys never contend on one lock.
type MemoryHistory struct {
	clk     clock.Clock
	stripes [historyStripes]historyStripe
}

type historyStripe struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemoryHistory builds an empty in-process history store.
// Params: clock used for expiry sweeps.
// Returns: ready history store.
func NewMemoryHistory(clk clock.Clock) *MemoryHistory {
	history := &MemoryHistory{clk: clk}
	for index := range history.stripes {
		history.stripes[index].entries = make(map[string]time.Time)
	}
	return history
}

// GetLastOccurrence reads the last recorded instant for a key/rule pair.
// Params: request context, dedupe key, and rule ID.
// Returns: recorded instant or ErrNotFound.
func (h *MemoryHistory) GetLastOccurrence(_ context.Context, key, ruleID string) (time.Time, error) {
	stripe := h.stripe(key)
	stripe.mu.Lock()
	defer stripe.mu.Unlock()
	at, ok := stripe.entries[historyEntryKey(key, ruleID)]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return at, nil
}

// RecordOccurrence unconditionally stores the occurrence instant.
// Params: request context, dedupe key, rule ID, and instant.
// Returns: nil; the memory backend cannot fail.
func (h *MemoryHistory) RecordOccurrence(_ context.Context, key, ruleID string, at time.Time) error {
	stripe := h.stripe(key)
	stripe.mu.Lock()
	defer stripe.mu.Unlock()
	stripe.entries[historyEntryKey(key, ruleID)] = at
	return nil
}

// CheckAndRecord tests freshness and records the occurrence in one step.
// Params: request context, dedupe key, rule ID, instant, and rule window.
// Returns: true when no occurrence exists inside the window; in that case the
// new instant is recorded under the same stripe lock.
func (h *MemoryHistory) CheckAndRecord(_ context.Context, key, ruleID string, at time.Time, window time.Duration) (bool, error) {
	stripe := h.stripe(key)
	stripe.mu.Lock()
	defer stripe.mu.Unlock()

	entryKey := historyEntryKey(key, ruleID)
	if last, ok := stripe.entries[entryKey]; ok && window > 0 && at.Sub(last) < window {
		return false, nil
	}
	stripe.entries[entryKey] = at
	return true, nil
}

// Sweep drops entries older than the retention horizon.
// Params: retention duration; entries last seen before now-retention go away.
// Returns: number of dropped entries.
func (h *MemoryHistory) Sweep(retention time.Duration) int {
	horizon := h.clk.Now().Add(-retention)
	dropped := 0
	for index := range h.stripes {
		stripe := &h.stripes[index]
		stripe.mu.Lock()
		for entryKey, at := range stripe.entries {
			if at.Before(horizon) {
				delete(stripe.entries, entryKey)
				dropped++
			}
		}
		stripe.mu.Unlock()
	}
	return dropped
}

// Close releases the store.
// Params: none.
// Returns: nil; nothing to release in process memory.
func (h *MemoryHistory) Close() error {
	return nil
}

// stripe maps a dedupe key onto its lock stripe.
// Params: dedupe key.
// Returns: owning stripe.
func (h *MemoryHistory) stripe(key string) *historyStripe {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(key))
	return &h.stripes[hasher.Sum32()%historyStripes]
}

// historyEntryKey namespaces a dedupe key by rule.
// Params: dedupe key and rule ID.
// Returns: composite map key; windows of different rules never interact.
func historyEntryKey(key, ruleID string) string {
	return key + "/" + ruleID
}
