// Package cache provides best-effort response caching for ReplyPipe.
//
// Entries are keyed by a fingerprint of the normalized message and the user id.
// Two backends are available: an in-process Memory cache and a shared Redis cache.
// Neither backend ever returns an error to the caller; an unavailable backend
// degrades to always-miss.
package cache

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Defaults for cache configuration
const (
	// DefaultTTL is how long an entry stays valid after it is written.
	DefaultTTL = 5 * time.Minute
	// DefaultMaxSize is the entry count above which the memory cache evicts.
	DefaultMaxSize = 1000
)

// Cache is the behavior shared by all cache backends.
type Cache interface {
	// Get returns the cached value for message and userID, or false on miss or expiry.
	Get(message, userID string) (string, bool)
	// Set stores value under the fingerprint of message and userID.
	Set(message, userID, value string)
	// CleanupExpired removes expired entries and returns how many were removed.
	CleanupExpired() int
	// Stats returns a snapshot of the cache state.
	Stats() Stats
}

// Stats reports cache size and effectiveness.
type Stats struct {
	Backend    string  `json:"backend"`
	Size       int     `json:"size"`
	MaxSize    int     `json:"max_size"`
	TTLSeconds float64 `json:"ttl_seconds"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    string  `json:"hit_rate"`
}

// Fingerprint returns the cache key for a message/user pair. The message is
// lower-cased and trimmed so that case and surrounding whitespace do not matter.
func Fingerprint(message, userID string) string {
	normalized := strings.ToLower(strings.TrimSpace(message))
	return strconv.FormatUint(xxhash.Sum64String(normalized+"\x00"+userID), 16)
}

// hitRate formats hits/(hits+misses) as a percentage, reporting 0% with no traffic.
func hitRate(hits, misses int64) string {
	total := hits + misses
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(hits)/float64(total)*100)
}
