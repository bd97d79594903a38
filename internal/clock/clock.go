package clock

import "time"

// Clock provides current time abstraction for deterministic window tests.
// Params: none.
// Returns: current wall-clock time.
type Clock interface {
	Now() time.Time
}

// RealClock reads current UTC time from system clock.
// Params: none.
// Returns: current UTC timestamp.
type RealClock struct{}

// Now returns current UTC time.
// Params: none.
// Returns: current UTC timestamp.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock returns a preset time, advanced manually by tests.
// Params: At is the instant Now reports.
// Returns: deterministic clock for dedupe/forbid window tests.
type FixedClock struct {
	At time.Time
}

// Now returns the preset instant.
// Params: none.
// Returns: configured timestamp.
func (c FixedClock) Now() time.Time {
	return c.At
}
