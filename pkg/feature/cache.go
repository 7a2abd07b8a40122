package feature

import (
	"context"
	"sync"
	"time"
)

// Cache is a TTL-bounded read cache over flag definitions and value rows.
// It is an in-process, best-effort accelerator, never a source of truth:
// replicas each keep an independent cache, so cross-replica staleness is
// bounded only by the TTL.
type Cache interface {
	// Get retrieves a cached entry by key.
	Get(ctx context.Context, key string) (any, bool)

	// Set stores an entry with the given TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration)

	// Delete removes a single entry.
	Delete(ctx context.Context, key string)

	// DeleteFunc removes every entry whose key matches the predicate.
	DeleteFunc(ctx context.Context, match func(key string) bool)

	// Clear removes all entries.
	Clear(ctx context.Context)

	// Close releases any resources held by the cache.
	Close() error
}

// DefaultCacheTTL bounds how long a cached flag or value row may be served
// before falling through to storage again.
const DefaultCacheTTL = 5 * time.Minute

type memoryCacheEntry struct {
	value     any
	expiresAt time.Time
}

// memoryCache is the default in-memory cache implementation.
type memoryCache struct {
	mu     sync.RWMutex
	items  map[string]memoryCacheEntry
	now    func() time.Time
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

// CacheOption configures the in-memory cache.
type CacheOption func(*memoryCache)

// WithClock injects the time source used for expiry checks. Tests use this
// to advance time without sleeping.
func WithClock(now func() time.Time) CacheOption {
	return func(c *memoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryCache creates an in-memory TTL cache with a background sweeper for
// expired entries.
func NewMemoryCache(opts ...CacheOption) Cache {
	cache := &memoryCache{
		items: make(map[string]memoryCacheEntry),
		now:   time.Now,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(cache)
	}

	go cache.sweep()

	return cache
}

func (c *memoryCache) Get(ctx context.Context, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.items[key]
	if !exists {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.items, key)
		return nil, false
	}
	return entry.value, true
}

func (c *memoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = memoryCacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
}

func (c *memoryCache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

func (c *memoryCache) DeleteFunc(ctx context.Context, match func(key string) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.items {
		if match(key) {
			delete(c.items, key)
		}
	}
}

func (c *memoryCache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]memoryCacheEntry)
}

// sweep periodically drops expired entries so a quiet cache doesn't retain
// stale rows indefinitely.
func (c *memoryCache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	defer close(c.done)

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *memoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.items {
		if now.After(entry.expiresAt) {
			delete(c.items, key)
		}
	}
}

func (c *memoryCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stop)
	<-c.done
	return nil
}

// noopCache disables caching entirely; every lookup falls through to storage.
// Useful in tests and for callers that want strict read-after-write.
type noopCache struct{}

// NewNoopCache creates a cache that doesn't cache.
func NewNoopCache() Cache {
	return noopCache{}
}

func (noopCache) Get(ctx context.Context, key string) (any, bool) { return nil, false }

func (noopCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {}

func (noopCache) Delete(ctx context.Context, key string) {}

func (noopCache) DeleteFunc(ctx context.Context, match func(key string) bool) {}

func (noopCache) Clear(ctx context.Context) {}

func (noopCache) Close() error { return nil }
