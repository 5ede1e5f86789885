package providers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/yairfalse/horros/config"
	"github.com/yairfalse/horros/types"
)

// InstanceSource is the per-cloud discovery boundary. Implementations
// wrap an authenticated SDK and return records already normalized into
// the canonical form. All auth context is established out of band and
// treated as read-only by concurrent scope queries.
type InstanceSource interface {
	// ListScopes enumerates the units of parallel work for this cloud.
	ListScopes(ctx context.Context) ([]types.ScanScope, error)

	// ListStoppedInstances discovers and normalizes stopped instances
	// in one scope. Malformed records are dropped with a warning, not
	// returned as errors.
	ListStoppedInstances(ctx context.Context, scope types.ScanScope) ([]types.InstanceRecord, error)

	// CheckAuth verifies credentials before any discovery begins.
	// Failure is fatal for the run.
	CheckAuth(ctx context.Context) error

	// Provider info
	Name() string
	AgeBasis() types.AgeBasis
}

// APICallCounter is implemented by sources that track how many cloud
// API calls a run made.
type APICallCounter interface {
	APICalls() int64
}

// SkipCounter is implemented by sources that track how many malformed
// records they dropped during normalization.
type SkipCounter interface {
	SkippedRecords() int64
}

// Options carry the run-scoped settings every provider needs.
type Options struct {
	Config        *config.Config
	FastMode      bool
	LookbackDays  int
	EstimatedDays int
	Cache         StopEventCache
}

// StopEventCache memoizes tier-2 stop-event lookups across runs.
// A nil cache disables memoization.
type StopEventCache interface {
	Get(provider, instanceID string) (stoppedAt time.Time, found bool)
	Put(provider, instanceID string, stoppedAt time.Time) error
}

// Factory creates a provider instance
type Factory func(ctx context.Context, opts Options) (InstanceSource, error)

// Registry of available providers
var registry = make(map[string]Factory)

// Register registers a new provider factory
func Register(name string, factory Factory) {
	registry[name] = factory
}

// Get creates a provider instance by name
func Get(ctx context.Context, name string, opts Options) (InstanceSource, error) {
	factory, exists := registry[name]
	if !exists {
		return nil, fmt.Errorf("provider %s not found (have %v)", name, List())
	}
	return factory(ctx, opts)
}

// List returns available provider names, sorted.
func List() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
