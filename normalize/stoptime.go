package normalize

import (
	"context"
	"time"
)

// DefaultEstimatedStoppedDays is the stand-in stop age when no
// authoritative stop event is retrievable. It deliberately signals
// "old but unverified" without claiming precision; override it via
// configuration rather than editing this constant.
const DefaultEstimatedStoppedDays = 95

// Stop-time sources, recorded so reports and the event cache can tell
// an observed timestamp from an estimate.
const (
	StopSourceRecord   = "record"
	StopSourceEvents   = "events"
	StopSourceEstimate = "estimate"
)

// StopResolution is the outcome of the tiered stop-time lookup.
// Exactly one of an exact timestamp or the default estimate is
// recorded, never a blend.
type StopResolution struct {
	StoppedAt *time.Time
	DaysAgo   int
	Exact     bool
	Source    string
}

// EventLookup queries a provider's activity/event log for the most
// recent successful stop or deallocate action on the instance. A nil
// time with nil error means no event was found in the lookback window.
type EventLookup func(ctx context.Context, instanceID string) (*time.Time, error)

// StopTimeResolver walks the stop-time tiers: an explicit timestamp on
// the raw record, then the activity-log lookup, then the fixed default
// estimate. Lookup failures are not errors; they fall through.
type StopTimeResolver struct {
	Clock         RunClock
	FastMode      bool
	EstimatedDays int
	Lookup        EventLookup
}

// Resolve determines when the instance stopped. The explicit argument
// carries a stop timestamp surfaced directly by the raw record, when
// the provider has one.
func (r StopTimeResolver) Resolve(ctx context.Context, instanceID string, explicit *time.Time) StopResolution {
	if explicit != nil {
		t := explicit.UTC()
		return StopResolution{
			StoppedAt: &t,
			DaysAgo:   r.Clock.DaysSince(t),
			Exact:     true,
			Source:    StopSourceRecord,
		}
	}

	if !r.FastMode && r.Lookup != nil {
		if t, err := r.Lookup(ctx, instanceID); err == nil && t != nil {
			stopped := t.UTC()
			return StopResolution{
				StoppedAt: &stopped,
				DaysAgo:   r.Clock.DaysSince(stopped),
				Exact:     true,
				Source:    StopSourceEvents,
			}
		}
	}

	return StopResolution{
		DaysAgo: r.estimatedDays(),
		Exact:   false,
		Source:  StopSourceEstimate,
	}
}

func (r StopTimeResolver) estimatedDays() int {
	if r.EstimatedDays > 0 {
		return r.EstimatedDays
	}
	return DefaultEstimatedStoppedDays
}
