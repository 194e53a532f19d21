package majordomo

import (
	"strings"
	"testing"
	"time"
)

func newTestCache(cfg CacheConfig) (*Cache, *time.Time) {
	c := NewCache(cfg)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCacheGetSet(t *testing.T) {
	c, _ := newTestCache(CacheConfig{Enabled: true, TTLSeconds: 60, MaxSize: 10})

	if _, ok := c.Get("k1"); ok {
		t.Fatal("empty cache returned a hit")
	}
	c.Set("k1", "v1")
	got, ok := c.Get("k1")
	if !ok || got != "v1" {
		t.Fatalf("Get = %q, %t", got, ok)
	}

	c.Set("k1", "v2")
	if got, _ := c.Get("k1"); got != "v2" {
		t.Errorf("overwrite: Get = %q", got)
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c, _ := newTestCache(CacheConfig{Enabled: true, TTLSeconds: 0, MaxSize: 3})

	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("c", "3")

	// Touch "a" so "b" is now least recently used.
	c.Get("a")
	c.Set("d", "4")

	if _, ok := c.Get("b"); ok {
		t.Error("LRU entry survived eviction")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("entry %q evicted unexpectedly", k)
		}
	}
	if s := c.Stats(); s.Evictions != 1 || s.Size != 3 {
		t.Errorf("stats = %+v", s)
	}
}

func TestCacheMaxSizeOne(t *testing.T) {
	c, _ := newTestCache(CacheConfig{Enabled: true, TTLSeconds: 0, MaxSize: 1})

	c.Set("a", "1")
	c.Set("b", "2")
	if _, ok := c.Get("a"); ok {
		t.Error("first entry survived in a size-1 cache")
	}
	if got, ok := c.Get("b"); !ok || got != "2" {
		t.Errorf("Get b = %q, %t", got, ok)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c, now := newTestCache(CacheConfig{Enabled: true, TTLSeconds: 60, MaxSize: 10})

	c.Set("k", "v")
	*now = now.Add(59 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry expired before its TTL")
	}

	*now = now.Add(2 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry survived past its TTL")
	}
	s := c.Stats()
	if s.Expirations != 1 || s.Size != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestCacheTTLZeroNeverExpires(t *testing.T) {
	c, now := newTestCache(CacheConfig{Enabled: true, TTLSeconds: 0, MaxSize: 10})

	c.Set("k", "v")
	*now = now.Add(1000 * time.Hour)
	if _, ok := c.Get("k"); !ok {
		t.Error("TTL 0 entry expired")
	}
	if n := c.Sweep(); n != 0 {
		t.Errorf("Sweep removed %d entries with TTL 0", n)
	}
}

func TestCacheSweep(t *testing.T) {
	c, now := newTestCache(CacheConfig{Enabled: true, TTLSeconds: 30, MaxSize: 10})

	c.Set("old1", "v")
	c.Set("old2", "v")
	*now = now.Add(time.Minute)
	c.Set("fresh", "v")

	if n := c.Sweep(); n != 2 {
		t.Errorf("Sweep = %d, want 2", n)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("fresh entry swept")
	}
}

func TestCacheStatsHitRate(t *testing.T) {
	c, _ := newTestCache(CacheConfig{Enabled: true, TTLSeconds: 0, MaxSize: 10})

	if s := c.Stats(); s.HitRate != "0.00%" {
		t.Errorf("empty hit rate = %q", s.HitRate)
	}

	c.Set("k", "v")
	c.Get("k")
	c.Get("k")
	c.Get("missing")
	c.Delete("k")

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 || s.Sets != 1 || s.Deletes != 1 {
		t.Errorf("stats = %+v", s)
	}
	if s.HitRate != "66.67%" {
		t.Errorf("hit rate = %q", s.HitRate)
	}
}

func TestCacheConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  CacheConfig
		ok   bool
	}{
		{"valid", CacheConfig{Enabled: true, TTLSeconds: 3600, MaxSize: 500}, true},
		{"zero ttl", CacheConfig{TTLSeconds: 0, MaxSize: 1}, true},
		{"negative ttl", CacheConfig{TTLSeconds: -1, MaxSize: 10}, false},
		{"zero size", CacheConfig{TTLSeconds: 60, MaxSize: 0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err == nil) != tc.ok {
				t.Errorf("Validate() = %v, want ok=%t", err, tc.ok)
			}
		})
	}
}

func TestCacheKeyNormalization(t *testing.T) {
	a := CacheKey("anthropic", "What  Is\nGo?", ClassSimple)
	b := CacheKey("anthropic", "what is go?", ClassSimple)
	if a != b {
		t.Error("case and whitespace should not change the key")
	}

	if CacheKey("anthropic", "q", ClassSimple) == CacheKey("openai", "q", ClassSimple) {
		t.Error("provider must be part of the key")
	}
	if CacheKey("anthropic", "q", ClassSimple) == CacheKey("anthropic", "q", ClassCoding) {
		t.Error("class must be part of the key")
	}

	// Only the first 200 normalized characters count.
	long := strings.Repeat("x", 200)
	if CacheKey("p", long+"tail", ClassSimple) != CacheKey("p", long+"different", ClassSimple) {
		t.Error("tail past 200 chars changed the key")
	}
}
