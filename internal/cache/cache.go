// Package cache memoizes ranking pages. A missing key means "unknown",
// never "no students".
package cache

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/courserank/ranking-engine/internal/model"
)

// Cache stores ranking pages by key with a TTL.
type Cache interface {
	// Get returns the cached page and true, or false on a miss.
	Get(ctx context.Context, key string) (model.Ranking, bool, error)
	Set(ctx context.Context, key string, r model.Ranking, ttl time.Duration) error
	// DeleteMany removes keys. Missing keys are ignored.
	DeleteMany(ctx context.Context, keys ...string) error
	// DeleteMatching removes every key matching a glob pattern.
	DeleteMatching(ctx context.Context, pattern string) error
}

type memoryEntry struct {
	value     model.Ranking
	expiresAt time.Time
}

// MemoryCache implements Cache in process memory. Used for testing and
// single-instance development.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source used for expiry.
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *MemoryCache) Get(_ context.Context, key string) (model.Ranking, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return model.Ranking{}, false, nil
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return model.Ranking{}, false, nil
	}
	return cloneRanking(e.value), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, r model.Ranking, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := memoryEntry{value: cloneRanking(r)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

func (c *MemoryCache) DeleteMany(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *MemoryCache) DeleteMatching(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.entries {
		ok, err := path.Match(pattern, k)
		if err != nil {
			return err
		}
		if ok {
			delete(c.entries, k)
		}
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func cloneRanking(r model.Ranking) model.Ranking {
	rows := make([]model.RankedRow, len(r.Rows))
	copy(rows, r.Rows)
	r.Rows = rows
	return r
}
