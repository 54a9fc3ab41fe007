package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemorySetThenGet(t *testing.T) {
	c := NewMemory()
	c.Set("Quanto custa?", "u1", "R$35")

	got, ok := c.Get("Quanto custa?", "u1")
	if !ok || got != "R$35" {
		t.Fatalf("expected hit with R$35, got %q (hit=%v)", got, ok)
	}
	again, ok2 := c.Get("Quanto custa?", "u1")
	if ok2 != ok || again != got {
		t.Errorf("second get differs: %q/%v vs %q/%v", again, ok2, got, ok)
	}
}

func TestMemoryNormalization(t *testing.T) {
	c := NewMemory()
	c.Set("oi", "u1", "Olá!")

	for _, msg := range []string{"Oi", "oi", "  OI  ", "\toi\n"} {
		if got, ok := c.Get(msg, "u1"); !ok || got != "Olá!" {
			t.Errorf("Get(%q) = %q/%v, want hit", msg, got, ok)
		}
	}
	if _, ok := c.Get("oi", "u2"); ok {
		t.Error("different user must not share an entry")
	}
}

func TestMemoryOverwrite(t *testing.T) {
	c := NewMemory()
	c.Set("oi", "u1", "first")
	c.Set("oi", "u1", "second")
	if got, _ := c.Get("oi", "u1"); got != "second" {
		t.Errorf("expected overwrite, got %q", got)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}
}

func TestMemoryExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
	c := NewMemory(WithTTL(5*time.Minute), WithClock(clock.Now))
	c.Set("oi", "u1", "Olá!")

	if _, ok := c.Get("oi", "u1"); !ok {
		t.Fatal("expected hit immediately after set")
	}
	clock.Advance(5*time.Minute + time.Second)
	if _, ok := c.Get("oi", "u1"); ok {
		t.Fatal("expected miss after ttl")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be evicted on read, len=%d", c.Len())
	}
}

func TestMemoryZeroTTLAlwaysMisses(t *testing.T) {
	c := NewMemory(WithTTL(0))
	c.Set("oi", "u1", "Olá!")
	if _, ok := c.Get("oi", "u1"); ok {
		t.Error("zero ttl entries must never be served")
	}
}

func TestMemoryEvictionKeepsNewest(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
	c := NewMemory(WithMaxSize(10), WithClock(clock.Now))

	for i := 0; i < 11; i++ {
		c.Set(fmt.Sprintf("msg-%d", i), "u1", fmt.Sprintf("resp-%d", i))
		clock.Advance(time.Second)
	}

	if c.Len() > 10 {
		t.Fatalf("expected size <= 10 after cleanup, got %d", c.Len())
	}
	if _, ok := c.Get("msg-10", "u1"); !ok {
		t.Error("most recent entry should survive eviction")
	}
	if _, ok := c.Get("msg-0", "u1"); ok {
		t.Error("oldest entry should be evicted")
	}
}

func TestMemoryEvictionWithIdenticalTimestamps(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
	c := NewMemory(WithMaxSize(4), WithClock(clock.Now))
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("msg-%d", i), "u1", "x")
	}
	if c.Len() > 4 {
		t.Fatalf("expected size <= 4, got %d", c.Len())
	}
	if _, ok := c.Get("msg-4", "u1"); !ok {
		t.Error("latest insert should survive when timestamps tie")
	}
}

func TestMemoryCleanupExpired(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
	c := NewMemory(WithTTL(time.Minute), WithClock(clock.Now))
	c.Set("a", "u1", "1")
	c.Set("b", "u1", "2")
	clock.Advance(2 * time.Minute)
	c.Set("c", "u1", "3")

	if removed := c.CleanupExpired(); removed != 2 {
		t.Errorf("expected 2 expired entries removed, got %d", removed)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry left, got %d", c.Len())
	}
}

func TestMemoryStats(t *testing.T) {
	c := NewMemory(WithMaxSize(50))
	if s := c.Stats(); s.HitRate != "0.0%" {
		t.Errorf("expected 0.0%% with no traffic, got %s", s.HitRate)
	}
	c.Set("oi", "u1", "Olá!")
	c.Get("oi", "u1")
	c.Get("tchau", "u1")

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 {
		t.Errorf("expected 1 hit/1 miss, got %d/%d", s.Hits, s.Misses)
	}
	if s.HitRate != "50.0%" {
		t.Errorf("expected 50.0%%, got %s", s.HitRate)
	}
	if s.Size != 1 || s.MaxSize != 50 || s.Backend != "memory" {
		t.Errorf("unexpected stats: %+v", s)
	}
	if s.TTLSeconds != DefaultTTL.Seconds() {
		t.Errorf("expected default ttl, got %v", s.TTLSeconds)
	}
}

func TestFingerprintStable(t *testing.T) {
	if Fingerprint("Oi ", "u1") != Fingerprint("oi", "u1") {
		t.Error("fingerprint must ignore case and surrounding whitespace")
	}
	if Fingerprint("oi", "u1") == Fingerprint("oi", "u2") {
		t.Error("fingerprint must include the user id")
	}
}

func TestRedisUnavailableDegradesToMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	r := NewRedisWithClient(client, "", time.Minute)
	defer r.Close()

	r.Set("oi", "u1", "Olá!")
	if _, ok := r.Get("oi", "u1"); ok {
		t.Fatal("unreachable redis must report a miss")
	}
	s := r.Stats()
	if s.Misses != 1 || s.Size != 0 || s.Backend != "redis" {
		t.Errorf("unexpected stats: %+v", s)
	}
	if r.CleanupExpired() != 0 {
		t.Error("redis cleanup should be a no-op")
	}
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	if _, err := NewRedis("not-a-url://", "", time.Minute); err == nil {
		t.Error("expected error for invalid url")
	}
}

func TestRedisOwnKey(t *testing.T) {
	prefix := DefaultRedisPrefix
	fp := Fingerprint("oi", "u1")
	cases := []struct {
		key  string
		want bool
	}{
		{prefix + fp, true},
		{prefix + "leadscore:" + fp, false},
		{prefix, false},
		{"othertenant:" + fp, false},
	}
	for _, c := range cases {
		if got := ownKey(prefix, c.key); got != c.want {
			t.Errorf("ownKey(%q) = %v, want %v", c.key, got, c.want)
		}
	}
}

func TestRedisEscapeGlob(t *testing.T) {
	if got := escapeGlob("replypipe:cache:"); got != "replypipe:cache:" {
		t.Errorf("plain prefix changed: %q", got)
	}
	if got := escapeGlob(`a*b?[c]\`); got != `a\*b\?\[c\]\\` {
		t.Errorf("unexpected escape %q", got)
	}
}
