// Package scanner fans discovery work out across scan scopes under a
// bounded concurrency limit and merges results at a single point.
package scanner

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/horros/telemetry"
	"github.com/yairfalse/horros/types"
)

// ListFunc queries one scope for normalized records. Implementations
// own their retries and timeouts; the scheduler never retries.
type ListFunc func(ctx context.Context, scope types.ScanScope) ([]types.InstanceRecord, error)

// ScopeOutcome reports how one scope's query went.
type ScopeOutcome struct {
	Scope   types.ScanScope
	Found   int
	Err     error
	Elapsed time.Duration
}

// FanOut dispatches one discovery task per scope, keeping at most
// Concurrency queries in flight. As soon as one finishes the next
// queued scope starts; a failed scope contributes zero records and a
// warning, never an aborted run.
type FanOut struct {
	concurrency int
	logger      *telemetry.Logger
}

// NewFanOut builds a scheduler with the given concurrency bound.
// Bounds below 1 are raised to 1.
func NewFanOut(concurrency int) *FanOut {
	if concurrency < 1 {
		concurrency = 1
	}
	return &FanOut{
		concurrency: concurrency,
		logger:      telemetry.NewLogger("scanner"),
	}
}

// Run executes list over every scope and returns the merged records
// plus per-scope outcomes. Merged order is unspecified. An empty scope
// list yields an empty result, not an error.
func (f *FanOut) Run(ctx context.Context, scopes []types.ScanScope, list ListFunc) ([]types.InstanceRecord, []ScopeOutcome) {
	var (
		mu       sync.Mutex
		merged   []types.InstanceRecord
		outcomes = make([]ScopeOutcome, 0, len(scopes))
	)

	var g errgroup.Group
	g.SetLimit(f.concurrency)

	for _, scope := range scopes {
		g.Go(func() error {
			scopeCtx, span := telemetry.StartScope(ctx, telemetry.Tracer, scope)

			start := time.Now()
			records, err := list(scopeCtx, scope)
			elapsed := time.Since(start)

			telemetry.EndScope(span, len(records), err)

			outcome := ScopeOutcome{Scope: scope, Found: len(records), Err: err, Elapsed: elapsed}
			if err != nil {
				outcome.Found = 0
				f.logger.LogScopeFailure(scopeCtx, scope, err)
			} else {
				f.logger.LogScopeDone(scopeCtx, scope, len(records), float64(elapsed.Milliseconds()))
			}

			mu.Lock()
			if err == nil {
				merged = append(merged, records...)
			}
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			return nil
		})
	}

	// Workers never return errors; failures live in outcomes.
	_ = g.Wait()

	return merged, outcomes
}

// FoldOutcomes merges per-scope outcomes into run counters.
func FoldOutcomes(stats *types.RunStats, outcomes []ScopeOutcome) {
	stats.ScopesPlanned = len(outcomes)
	for _, o := range outcomes {
		if o.Err != nil {
			stats.ScopesFailed++
			continue
		}
		stats.Found += o.Found
	}
}
