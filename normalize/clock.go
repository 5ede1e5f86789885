// Package normalize turns raw provider records into canonical instance
// records: age computation, owner-tag resolution, disk-size aggregation,
// and stop-time detection with fallback estimation. Providers supply
// field extraction; the rules live here.
package normalize

import "time"

// RunClock is the single "now" of a run. Capturing it once keeps age
// counts stable if reports are re-rendered mid-run.
type RunClock struct {
	now time.Time
}

// NewRunClock captures the current UTC time.
func NewRunClock() RunClock {
	return RunClock{now: time.Now().UTC()}
}

// ClockAt builds a clock pinned to a fixed instant.
func ClockAt(t time.Time) RunClock {
	return RunClock{now: t.UTC()}
}

// Now returns the captured instant.
func (c RunClock) Now() time.Time {
	return c.now
}

// DaysSince returns the whole days elapsed from t to the captured now,
// clamped to zero. Negative results from clock skew become 0.
func (c RunClock) DaysSince(t time.Time) int {
	days := int(c.now.Sub(t.UTC()).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
