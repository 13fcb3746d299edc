package inventory

import "time"

// =============================================================================
// CLOCK - Injectable time source
// =============================================================================

// Clock is the single now() source for all timestamping. Injecting it keeps
// expiry checks and lifecycle timestamps deterministic in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. For tests.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }
