// Package cache holds collaborator responses for a bounded time.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	cachedAt  time.Time
	expiresAt time.Time
}

// TTL is a size-bounded cache whose entries expire after a fixed duration.
// When full, the oldest entry is evicted.
type TTL[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	ttl     time.Duration
	maxSize int
	hits    int64
	misses  int64
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// New creates a cache and starts its janitor. Call Stop to release it.
func New[V any](ttl time.Duration, maxSize int) *TTL[V] {
	c := &TTL[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go c.janitor(janitorInterval(ttl))
	return c
}

func janitorInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > 5*time.Minute {
		return 5 * time.Minute
	}
	return ttl
}

// Get returns the cached value for key if present and not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiresAt) {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key. A cache with maxSize <= 0 stores nothing.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize <= 0 {
		return
	}
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	now := c.now()
	c.entries[key] = entry[V]{value: value, cachedAt: now, expiresAt: now.Add(c.ttl)}
}

// Invalidate removes key.
func (c *TTL[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Stats is a snapshot of cache usage.
type Stats struct {
	Entries  int     `json:"entries"`
	MaxSize  int     `json:"max_size"`
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRatio float64 `json:"hit_ratio"`
}

func (c *TTL[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Entries: len(c.entries), MaxSize: c.maxSize, Hits: c.hits, Misses: c.misses}
	if total := c.hits + c.misses; total > 0 {
		s.HitRatio = float64(c.hits) / float64(total)
	}
	return s
}

// Stop ends the janitor goroutine. It is safe to call more than once.
func (c *TTL[V]) Stop() {
	c.once.Do(func() { close(c.stop) })
}

func (c *TTL[V]) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.cachedAt.Before(oldest) {
			oldestKey, oldest = k, e.cachedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *TTL[V]) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

func (c *TTL[V]) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.stop:
			return
		}
	}
}
