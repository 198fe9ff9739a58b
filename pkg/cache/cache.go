// Package cache provides a generic, thread-safe TTL cache used to front
// the per-tenant rule and trigger stores. Statistics are always collected
// so the engine can report cache effectiveness.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cache is the generic cache interface, parameterized by value type V.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the zero value and false on miss.
	Get(key string) (V, bool)

	// Set stores a value under key, replacing any existing entry.
	Set(key string, value V)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) bool

	// Clear removes all entries.
	Clear()

	// Size returns the current number of live entries.
	Size() int

	// Stats returns cache statistics.
	Stats() *Statistics

	// Close releases background resources.
	Close()
}

// Statistics tracks cache effectiveness with atomic counters.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// Hits returns the number of successful lookups.
func (s *Statistics) Hits() int64 { return s.hits.Load() }

// Misses returns the number of failed lookups.
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// Evictions returns the number of expired or displaced entries.
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }

// HitRate returns hits/(hits+misses)*100, or 0 with no lookups.
func (s *Statistics) HitRate() float64 {
	hits := s.hits.Load()
	total := hits + s.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// TTLCache evicts entries after a fixed time-to-live. A background sweeper
// removes expired entries so memory stays bounded between reads.
type TTLCache[V any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[V]
	ttl     time.Duration
	stats   Statistics
	done    chan struct{}
	once    sync.Once
}

// NewTTL creates a TTL cache. A non-positive ttl disables expiry.
func NewTTL[V any](ttl time.Duration) *TTLCache[V] {
	c := &TTLCache[V]{
		entries: make(map[string]*entry[V]),
		ttl:     ttl,
		done:    make(chan struct{}),
	}

	if ttl > 0 {
		go c.sweep()
	}

	return c
}

// Get retrieves a value by key, treating expired entries as misses.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || e.expired(time.Now()) {
		c.stats.misses.Add(1)
		var zero V
		return zero, false
	}

	c.stats.hits.Add(1)
	return e.value, true
}

// Set stores a value under key.
func (c *TTLCache[V]) Set(key string, value V) {
	e := &entry[V]{value: value}
	if c.ttl > 0 {
		e.expiresAt = time.Now().Add(c.ttl)
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// Delete removes an entry by key.
func (c *TTLCache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Clear removes all entries.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry[V])
	c.mu.Unlock()
}

// Size returns the number of live (unexpired) entries.
func (c *TTLCache[V]) Size() int {
	now := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, e := range c.entries {
		if !e.expired(now) {
			count++
		}
	}
	return count
}

// Stats returns cache statistics.
func (c *TTLCache[V]) Stats() *Statistics {
	return &c.stats
}

// Close stops the background sweeper.
func (c *TTLCache[V]) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *TTLCache[V]) sweep() {
	interval := c.ttl
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, e := range c.entries {
				if e.expired(now) {
					delete(c.entries, key)
					c.stats.evictions.Add(1)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Noop is a cache that stores nothing. Used when caching is disabled.
type Noop[V any] struct {
	stats Statistics
}

// NewNoop creates a cache that never stores values.
func NewNoop[V any]() *Noop[V] { return &Noop[V]{} }

// Get always misses.
func (n *Noop[V]) Get(string) (V, bool) {
	n.stats.misses.Add(1)
	var zero V
	return zero, false
}

// Set discards the value.
func (n *Noop[V]) Set(string, V) {}

// Delete reports no entry.
func (n *Noop[V]) Delete(string) bool { return false }

// Clear does nothing.
func (n *Noop[V]) Clear() {}

// Size is always zero.
func (n *Noop[V]) Size() int { return 0 }

// Stats returns miss-only statistics.
func (n *Noop[V]) Stats() *Statistics { return &n.stats }

// Close does nothing.
func (n *Noop[V]) Close() {}
