package cache

// Package cache provides an in-memory TTL cache for telemetry query results.
//
// Responsibilities:
//   - Cache tool call results (avoid redundant gateway queries)
//   - Manage entry lifetime and eviction
//   - Monitor cache hit/miss rates
//
// Cache Key Strategy:
//   - Tool name + serialized parameters → one key per distinct query
//
// Memory Management:
//   - Oldest-entry eviction when the cache exceeds max entries
//   - Background sweep of expired entries

import (
	"context"
	"sync"
	"time"

	"github.com/faultline/faultline-ai/internal/metrics"
)

// Cache defines the interface for caching operations.
type Cache interface {
	// Get retrieves a cached value by key.
	Get(ctx context.Context, key string) (string, bool)

	// Set stores a value with the given key and TTL. A non-positive TTL
	// falls back to the cache default.
	Set(ctx context.Context, key, value string, ttl time.Duration)

	// Delete removes a key from the cache.
	Delete(ctx context.Context, key string)

	// Clear removes all entries.
	Clear(ctx context.Context)

	// Stats returns hit/miss/entry counters.
	Stats(ctx context.Context) Stats

	// Close stops the background sweeper.
	Close()
}

// Stats holds cache counters.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// Options tunes the cache.
type Options struct {
	// DefaultTTL applies when Set receives a non-positive TTL. Zero means
	// 30 seconds.
	DefaultTTL time.Duration
	// MaxEntries caps the cache size. Zero means 4096.
	MaxEntries int
	// SweepInterval is the expired-entry sweep period. Zero means 1 minute.
	SweepInterval time.Duration
}

type entry struct {
	value     string
	expiresAt time.Time
	storedAt  time.Time
}

type memoryCache struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL time.Duration
	maxEntries int
	hits       int64
	misses     int64
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// New creates an in-memory TTL cache and starts its background sweeper.
func New(opts Options) Cache {
	defaultTTL := opts.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = time.Minute
	}

	c := &memoryCache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		stopCh:     make(chan struct{}),
	}
	go c.sweeper(sweep)
	return c
}

func (c *memoryCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		if ok {
			delete(c.entries, key)
		}
		c.misses++
		metrics.CacheEvents.WithLabelValues("miss").Inc()
		return "", false
	}
	c.hits++
	metrics.CacheEvents.WithLabelValues("hit").Inc()
	return e.value, true
}

func (c *memoryCache) Set(_ context.Context, key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = entry{value: value, expiresAt: now.Add(ttl), storedAt: now}
}

// evictOldestLocked drops the entry stored longest ago. Caller holds the lock.
func (c *memoryCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.storedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.storedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		metrics.CacheEvents.WithLabelValues("evict").Inc()
	}
}

func (c *memoryCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *memoryCache) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

func (c *memoryCache) Stats(_ context.Context) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}

func (c *memoryCache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *memoryCache) sweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}
