package majordomo

import (
	"container/list"
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// CacheConfig controls the router's response cache.
// TTLSeconds of 0 means entries never expire.
type CacheConfig struct {
	Enabled    bool
	TTLSeconds int
	MaxSize    int
}

// Validate fails fast on configurations the cache cannot run with.
func (c CacheConfig) Validate() error {
	if c.TTLSeconds < 0 {
		return fmt.Errorf("cache: ttl_seconds must be >= 0, got %d", c.TTLSeconds)
	}
	if c.MaxSize <= 0 {
		return fmt.Errorf("cache: max_size must be > 0, got %d", c.MaxSize)
	}
	return nil
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Hits        int64  `json:"hits"`
	Misses      int64  `json:"misses"`
	Evictions   int64  `json:"evictions"`
	Expirations int64  `json:"expirations"`
	Sets        int64  `json:"sets"`
	Deletes     int64  `json:"deletes"`
	Size        int    `json:"size"`
	MaxSize     int    `json:"max_size"`
	HitRate     string `json:"hit_rate"`
}

type cacheEntry struct {
	key       string
	value     string
	expiresAt time.Time // zero = never expires
}

// Cache is an LRU cache with per-entry TTL. A map holds list elements and a
// doubly-linked list tracks recency: hits move the element to the front,
// eviction removes from the back. All operations are O(1) except Sweep.
//
// A single mutex guards entries and stats counters alike; at the expected
// scale (a few hundred entries) contention is negligible.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	items   map[string]*list.Element
	order   *list.List // front = MRU, back = LRU

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
	sets        int64
	deletes     int64

	logger *slog.Logger
	now    func() time.Time
}

// NewCache creates a Cache from a validated config. Callers should run
// cfg.Validate first; NewCache trusts its input.
func NewCache(cfg CacheConfig) *Cache {
	return &Cache{
		ttl:     time.Duration(cfg.TTLSeconds) * time.Second,
		maxSize: cfg.MaxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		logger:  nopLogger,
		now:     time.Now,
	}
}

// Get returns the cached value for key. Entries past their expiry are
// deleted on read and count as misses.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return "", false
	}
	entry := el.Value.(*cacheEntry)
	if !entry.expiresAt.IsZero() && !entry.expiresAt.After(c.now()) {
		c.removeLocked(el)
		c.expirations++
		c.misses++
		return "", false
	}
	c.order.MoveToFront(el)
	c.hits++
	return entry.value, true
}

// Set inserts or replaces the value for key. When the cache is full the
// least recently used entry is evicted first.
func (c *Cache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(el)
		c.sets++
		return
	}

	if c.order.Len() >= c.maxSize {
		if back := c.order.Back(); back != nil {
			c.removeLocked(back)
			c.evictions++
		}
	}

	el := c.order.PushFront(&cacheEntry{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = el
	c.sets++
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
		c.deletes++
	}
}

// Sweep removes all expired entries. O(n) over entries scanned; called by
// the background sweeper. A no-op when TTL is 0.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl <= 0 {
		return 0
	}
	now := c.now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*cacheEntry)
		if !entry.expiresAt.IsZero() && !entry.expiresAt.After(now) {
			c.removeLocked(el)
			c.expirations++
			removed++
		}
		el = prev
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("cache: swept expired entries", "removed", n)
			}
		}
	}
}

// Stats returns a snapshot of the counters. O(1).
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	rate := "0.00%"
	if total := c.hits + c.misses; total > 0 {
		rate = fmt.Sprintf("%.2f%%", float64(c.hits)/float64(total)*100)
	}
	return CacheStats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Sets:        c.sets,
		Deletes:     c.deletes,
		Size:        c.order.Len(),
		MaxSize:     c.maxSize,
		HitRate:     rate,
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	c.order.Remove(el)
	delete(c.items, entry.key)
}

// CacheKey builds the stable lookup key for a routed query: the provider
// name, the first 200 characters of the normalized query (lower-cased,
// whitespace collapsed), and the task class, FNV-1a hashed.
func CacheKey(provider, query string, class TaskClass) string {
	norm := strings.ToLower(strings.Join(strings.Fields(query), " "))
	if len(norm) > 200 {
		norm = norm[:200]
	}
	h := fnv.New64a()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(norm))
	h.Write([]byte{0})
	h.Write([]byte(class))
	return fmt.Sprintf("%016x", h.Sum64())
}
