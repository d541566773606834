package loan

import "time"

// =============================================================================
// CLOCK - Injected time capability
// =============================================================================

// Clock supplies the current time. Schedule status and queue timestamps
// depend on "now", so callers inject a Clock instead of reading the wall
// clock directly; tests substitute a FixedClock for determinism.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Advance moves it.
type FixedClock struct {
	T time.Time
}

func NewFixedClock(t time.Time) *FixedClock { return &FixedClock{T: t} }

func (c *FixedClock) Now() time.Time { return c.T }

func (c *FixedClock) Advance(d time.Duration) { c.T = c.T.Add(d) }
