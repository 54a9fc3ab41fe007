package cache

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

type entry struct {
	value   string
	written time.Time
	seq     uint64
}

// Opts holds configuration options for the memory cache.
type Opts struct {
	TTL     time.Duration
	MaxSize int
	Now     func() time.Time
}

// Option defines a configuration option for the memory cache.
type Option func(*Opts)

// WithTTL sets how long entries stay valid.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// WithMaxSize sets the entry count above which the oldest half is evicted.
func WithMaxSize(n int) Option {
	return func(o *Opts) { o.MaxSize = n }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Memory is an in-process TTL cache guarded by a mutex.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	seq     uint64
	hits    int64
	misses  int64
}

// NewMemory creates a memory cache, applying any provided options.
func NewMemory(opts ...Option) *Memory {
	cfg := Opts{TTL: DefaultTTL, MaxSize: DefaultMaxSize, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Memory{
		entries: make(map[string]entry),
		ttl:     cfg.TTL,
		maxSize: cfg.MaxSize,
		now:     cfg.Now,
	}
}

// Get returns the cached value for the pair, evicting it if it has expired.
func (c *Memory) Get(message, userID string) (string, bool) {
	key := Fingerprint(message, userID)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return "", false
	}
	if c.now().Sub(e.written) >= c.ttl {
		delete(c.entries, key)
		c.misses++
		return "", false
	}
	c.hits++
	return e.value, true
}

// Set stores value for the pair, overwriting any prior entry, and evicts when
// the cache grows past its maximum size.
func (c *Memory) Set(message, userID, value string) {
	key := Fingerprint(message, userID)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.entries[key] = entry{value: value, written: c.now(), seq: c.seq}
	if len(c.entries) > c.maxSize {
		c.cleanupLocked()
	}
}

// Cleanup discards the oldest half of the cache (max size / 2 entries, or
// enough to get back under the limit).
func (c *Memory) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanupLocked()
}

func (c *Memory) cleanupLocked() int {
	ordered := make([]struct {
		key string
		e   entry
	}, 0, len(c.entries))
	for k, e := range c.entries {
		ordered = append(ordered, struct {
			key string
			e   entry
		}{k, e})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].e.written.Equal(ordered[j].e.written) {
			return ordered[i].e.written.Before(ordered[j].e.written)
		}
		return ordered[i].e.seq < ordered[j].e.seq
	})

	evict := c.maxSize / 2
	if over := len(c.entries) - c.maxSize; over > evict {
		evict = over
	}
	if evict > len(ordered) {
		evict = len(ordered)
	}
	for _, item := range ordered[:evict] {
		delete(c.entries, item.key)
	}
	slog.Debug("Memory cache cleanup evicted entries", "evicted", evict, "remaining", len(c.entries))
	return evict
}

// CleanupExpired removes every entry older than the TTL.
func (c *Memory) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.written) >= c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("Memory cache removed expired entries", "removed", removed)
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache state.
func (c *Memory) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Backend:    "memory",
		Size:       len(c.entries),
		MaxSize:    c.maxSize,
		TTLSeconds: c.ttl.Seconds(),
		Hits:       c.hits,
		Misses:     c.misses,
		HitRate:    hitRate(c.hits, c.misses),
	}
}
