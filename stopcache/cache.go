// Package stopcache persists resolved stop events between runs so
// repeat scans skip the slow activity-log lookups. Only event
// timestamps are stored, never full instance records.
package stopcache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"
)

// Bucket names in bbolt
var (
	bucketEvents = []byte("stop_events")
	bucketMeta   = []byte("meta")
)

// DefaultTTLDays bounds how long a cached stop event stays authoritative.
const DefaultTTLDays = 7

// Cache is a bbolt-backed stop-event cache with an in-memory btree
// index. Lookups are served from the index; bbolt is the durable copy
// rebuilt into the index on open.
type Cache struct {
	mu sync.RWMutex

	index *btree.BTreeG[*cachedEvent]
	db    *bbolt.DB
	ttl   time.Duration
	path  string
}

// cachedEvent is one stop event in the index and on disk.
type cachedEvent struct {
	Key       string    `json:"-"`
	StoppedAt time.Time `json:"stopped_at"`
	CachedAt  time.Time `json:"cached_at"`
}

// Open opens or creates the cache at path. ttlDays <= 0 uses the
// default.
func Open(path string, ttlDays int) (*Cache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open stop-event cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketEvents, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if ttlDays <= 0 {
		ttlDays = DefaultTTLDays
	}

	c := &Cache{
		index: btree.NewG[*cachedEvent](32, func(a, b *cachedEvent) bool {
			return a.Key < b.Key
		}),
		db:   db,
		ttl:  time.Duration(ttlDays) * 24 * time.Hour,
		path: path,
	}

	if err := c.rebuildIndex(); err != nil {
		db.Close()
		return nil, err
	}

	return c, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Path returns where the cache lives on disk.
func (c *Cache) Path() string {
	return c.path
}

// Get returns the cached stop time for an instance. Entries past their
// TTL are misses.
func (c *Cache) Get(provider, instanceID string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	found, ok := c.index.Get(&cachedEvent{Key: eventKey(provider, instanceID)})
	if !ok {
		return time.Time{}, false
	}
	if time.Since(found.CachedAt) > c.ttl {
		return time.Time{}, false
	}
	return found.StoppedAt, true
}

// Put records a resolved stop event for an instance.
func (c *Cache) Put(provider, instanceID string, stoppedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	event := &cachedEvent{
		Key:       eventKey(provider, instanceID),
		StoppedAt: stoppedAt.UTC(),
		CachedAt:  time.Now().UTC(),
	}

	err := c.db.Update(func(tx *bbolt.Tx) error {
		value, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEvents).Put([]byte(event.Key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to store stop event: %w", err)
	}

	c.index.ReplaceOrInsert(event)
	return nil
}

// Len returns how many events are indexed, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Len()
}

// Evict removes entries past their TTL from disk and index, returning
// how many were dropped.
func (c *Cache) Evict() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.ttl)

	var expired []*cachedEvent
	c.index.Ascend(func(event *cachedEvent) bool {
		if event.CachedAt.Before(cutoff) {
			expired = append(expired, event)
		}
		return true
	})

	if len(expired) == 0 {
		return 0, nil
	}

	err := c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEvents)
		for _, event := range expired {
			if err := bucket.Delete([]byte(event.Key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to evict expired events: %w", err)
	}

	for _, event := range expired {
		c.index.Delete(event)
	}
	return len(expired), nil
}

// rebuildIndex loads every stored event into the btree.
func (c *Cache) rebuildIndex() error {
	return c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEvents).ForEach(func(k, v []byte) error {
			event := &cachedEvent{Key: string(k)}
			if err := json.Unmarshal(v, event); err != nil {
				// Unreadable entries are dropped at next eviction.
				return nil
			}
			c.index.ReplaceOrInsert(event)
			return nil
		})
	})
}

func eventKey(provider, instanceID string) string {
	return provider + "/" + instanceID
}
