package stopcache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/yairfalse/horros/providers"
)

func openTestCache(t *testing.T, ttlDays int) *Cache {
	t.Helper()

	cache, err := Open(filepath.Join(t.TempDir(), "events.db"), ttlDays)
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestCachePutGet(t *testing.T) {
	cache := openTestCache(t, 7)

	stopped := time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)
	if err := cache.Put("aws", "i-123456", stopped); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok := cache.Get("aws", "i-123456")
	if !ok {
		t.Fatal("Expected cache hit")
	}
	if !got.Equal(stopped) {
		t.Errorf("Get = %v, want %v", got, stopped)
	}
}

func TestCacheMiss(t *testing.T) {
	cache := openTestCache(t, 7)

	if _, ok := cache.Get("aws", "i-unknown"); ok {
		t.Error("Expected cache miss for unknown instance")
	}

	// Same instance ID under a different provider is a separate entry.
	if err := cache.Put("gcp", "i-123456", time.Now()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, ok := cache.Get("aws", "i-123456"); ok {
		t.Error("Expected miss, provider should partition keys")
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := openTestCache(t, 7)

	if err := cache.Put("aws", "i-old", time.Now().AddDate(0, 0, -30)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Back-date the entry past the TTL.
	entry, ok := cache.index.Get(&cachedEvent{Key: eventKey("aws", "i-old")})
	if !ok {
		t.Fatal("Entry missing from index")
	}
	entry.CachedAt = time.Now().AddDate(0, 0, -8)

	if _, ok := cache.Get("aws", "i-old"); ok {
		t.Error("Expected expired entry to miss")
	}
}

func TestCacheEvict(t *testing.T) {
	cache := openTestCache(t, 7)

	if err := cache.Put("aws", "i-old", time.Now()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := cache.Put("aws", "i-fresh", time.Now()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	entry, ok := cache.index.Get(&cachedEvent{Key: eventKey("aws", "i-old")})
	if !ok {
		t.Fatal("Entry missing from index")
	}
	entry.CachedAt = time.Now().AddDate(0, 0, -10)

	dropped, err := cache.Evict()
	if err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	if dropped != 1 {
		t.Errorf("Evict dropped %d entries, want 1", dropped)
	}
	if cache.Len() != 1 {
		t.Errorf("Len = %d, want 1", cache.Len())
	}
	if _, ok := cache.Get("aws", "i-fresh"); !ok {
		t.Error("Fresh entry should survive eviction")
	}
}

func TestCachePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	cache, err := Open(path, 7)
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}

	stopped := time.Date(2026, 1, 20, 14, 0, 0, 0, time.UTC)
	if err := cache.Put("azure", "vm-42", stopped); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path, 7)
	if err != nil {
		t.Fatalf("Failed to reopen cache: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, ok := reopened.Get("azure", "vm-42")
	if !ok {
		t.Fatal("Expected hit after reopen")
	}
	if !got.Equal(stopped) {
		t.Errorf("Get = %v, want %v", got, stopped)
	}
}

func TestCacheImplementsStopEventCache(t *testing.T) {
	var _ providers.StopEventCache = (*Cache)(nil)
}
