package notify

import (
	"sync"
	"time"
)

// Throttle enforces per-channel send rates over a sliding one-minute window.
// A channel with a non-positive limit is never throttled.
type Throttle struct {
	mu      sync.Mutex
	history map[string][]time.Time
}

// NewThrottle builds an empty throttle.
// Params: none.
// Returns: ready throttle.
func NewThrottle() *Throttle {
	return &Throttle{history: make(map[string][]time.Time)}
}

// Allow reports whether one more send fits the channel's rate and, when it
// does, counts the send against the window.
// Params: channel ID, per-minute limit, and the current instant.
// Returns: false when the window already holds limit sends.
func (t *Throttle) Allow(channelID string, limit int, now time.Time) bool {
	if limit <= 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	horizon := now.Add(-time.Minute)
	recent := t.history[channelID][:0]
	for _, at := range t.history[channelID] {
		if at.After(horizon) {
			recent = append(recent, at)
		}
	}
	if len(recent) >= limit {
		t.history[channelID] = recent
		return false
	}
	t.history[channelID] = append(recent, now)
	return true
}
