package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisPrefix namespaces cache keys in a shared Redis database.
	DefaultRedisPrefix = "replypipe:cache:"
	// DefaultRedisTimeout bounds every Redis round trip so a slow server degrades to a miss.
	DefaultRedisTimeout = 200 * time.Millisecond

	statsScanTimeout = time.Second
	statsScanBatch   = 500
)

// Redis is a cache backend shared between ReplyPipe instances. Expiry is delegated
// to Redis key TTLs.
type Redis struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewRedis creates a Redis cache from a redis:// URL. The connection is verified
// with a ping; callers usually fall back to the memory cache when this fails.
func NewRedis(url, prefix string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	r := NewRedisWithClient(redis.NewClient(opts), prefix, ttl)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		_ = r.client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Debug("Redis cache connected", "addr", opts.Addr, "db", opts.DB)
	return r, nil
}

// NewRedisWithClient wraps an existing client without verifying connectivity.
func NewRedisWithClient(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, timeout: DefaultRedisTimeout}
}

func (r *Redis) key(message, userID string) string {
	return r.prefix + Fingerprint(message, userID)
}

// Get returns the cached value, treating any Redis error as a miss.
func (r *Redis) Get(message, userID string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	val, err := r.client.Get(ctx, r.key(message, userID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("Redis cache get failed, treating as miss", "error", err)
		}
		r.misses.Add(1)
		return "", false
	}
	r.hits.Add(1)
	return val, true
}

// Set stores the value with the configured TTL; failures are logged and dropped.
func (r *Redis) Set(message, userID, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.client.Set(ctx, r.key(message, userID), value, r.ttl).Err(); err != nil {
		slog.Warn("Redis cache set failed", "error", err)
	}
}

// CleanupExpired is a no-op: Redis expires keys itself.
func (r *Redis) CleanupExpired() int { return 0 }

// Stats returns counters and the number of keys under this cache's prefix. Keys
// of caches nested under a longer prefix are not counted. Size is 0 when Redis
// is unreachable.
func (r *Redis) Stats() Stats {
	size, err := r.countKeys()
	if err != nil {
		slog.Debug("Redis.Stats: key scan failed", "error", err, "prefix", r.prefix)
		size = 0
	}
	hits, misses := r.hits.Load(), r.misses.Load()
	return Stats{
		Backend:    "redis",
		Size:       size,
		TTLSeconds: r.ttl.Seconds(),
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate(hits, misses),
	}
}

func (r *Redis) countKeys() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), statsScanTimeout)
	defer cancel()

	n := 0
	iter := r.client.Scan(ctx, 0, escapeGlob(r.prefix)+"*", statsScanBatch).Iterator()
	for iter.Next(ctx) {
		if ownKey(r.prefix, iter.Val()) {
			n++
		}
	}
	return n, iter.Err()
}

// ownKey reports whether key is an entry of the cache using prefix. Fingerprints
// never contain ':', so keys of a nested prefix such as "<prefix>leadscore:" are excluded.
func ownKey(prefix, key string) bool {
	rest, ok := strings.CutPrefix(key, prefix)
	return ok && rest != "" && !strings.Contains(rest, ":")
}

// escapeGlob quotes the SCAN MATCH metacharacters in s.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
