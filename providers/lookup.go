package providers

import (
	"context"
	"time"

	"github.com/yairfalse/horros/normalize"
)

// CachedLookup wraps an event lookup with the stop-event cache. Cache
// hits skip the provider's activity-log API entirely; successful
// lookups are written back. A nil cache or nil lookup passes through.
func CachedLookup(cache StopEventCache, provider string, lookup normalize.EventLookup) normalize.EventLookup {
	if lookup == nil {
		return nil
	}
	if cache == nil {
		return lookup
	}
	return func(ctx context.Context, instanceID string) (*time.Time, error) {
		if t, ok := cache.Get(provider, instanceID); ok {
			return &t, nil
		}
		t, err := lookup(ctx, instanceID)
		if err != nil || t == nil {
			return t, err
		}
		// Best effort; a full cache never blocks resolution.
		_ = cache.Put(provider, instanceID, *t)
		return t, nil
	}
}
