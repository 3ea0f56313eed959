// Package cache memoizes query results keyed by query kind and normalized
// query text.
//
// Entries expire lazily: an entry older than its TTL is treated as absent
// on the next lookup and dropped then. Cleanup purges expired entries in
// one pass. The cache never observes the store; callers invalidate it
// after writes.
package cache

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// Defaults used when a Config leaves a field at zero.
const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 1000
)

// Config controls caching behaviour.
type Config struct {
	Enabled bool
	// TTL applies to entries stored after it is set.
	TTL time.Duration
	// MaxEntries bounds the cache; the least recently used entry is
	// evicted first.
	MaxEntries int
}

// DefaultConfig returns an enabled cache configuration.
func DefaultConfig() Config {
	return Config{Enabled: true, TTL: DefaultTTL, MaxEntries: DefaultMaxEntries}
}

func (c Config) normalized() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	return c
}

// Stats is a snapshot of cache counters. HitRate is a percentage.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Total   uint64  `json:"total"`
	HitRate float64 `json:"hit_rate"`
	Size    int     `json:"size"`
	Enabled bool    `json:"enabled"`
}

type entry struct {
	value     any
	createdAt time.Time
	ttl       time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

type key struct {
	kind       string
	normalized string
}

// QueryCache is safe for concurrent use.
type QueryCache struct {
	mu      sync.Mutex
	config  Config
	entries *lru.Cache
	hits    uint64
	misses  uint64
	now     func() time.Time
}

// NewQueryCache creates a cache with config.
func NewQueryCache(config Config) *QueryCache {
	config = config.normalized()
	return &QueryCache{
		config:  config,
		entries: lru.New(config.MaxEntries),
		now:     time.Now,
	}
}

// Get returns the value stored for (kind, normalized). Every call counts
// as a hit or a miss, including calls made while caching is disabled.
func (c *QueryCache) Get(kind, normalized string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.config.Enabled {
		c.misses++
		return nil, false
	}

	k := key{kind: kind, normalized: normalized}
	raw, ok := c.entries.Get(k)
	if !ok {
		c.misses++
		return nil, false
	}
	e := raw.(*entry)
	if e.expired(c.now()) {
		c.entries.Remove(k)
		c.misses++
		return nil, false
	}

	c.hits++
	return e.value, true
}

// RecordMiss counts a lookup that never reached Get, such as a query that
// failed to parse.
func (c *QueryCache) RecordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

// Put stores value under (kind, normalized) with the current TTL. It does
// nothing while caching is disabled.
func (c *QueryCache) Put(kind, normalized string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.config.Enabled {
		return
	}
	c.entries.Add(key{kind: kind, normalized: normalized}, &entry{
		value:     value,
		createdAt: c.now(),
		ttl:       c.config.TTL,
	})
}

// Invalidate drops every entry. Counters are kept.
func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	c.entries.Clear()
	c.mu.Unlock()
}

// Config returns the active configuration.
func (c *QueryCache) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// UpdateConfig replaces the configuration. Disabling the cache drops all
// entries; a TTL change applies to entries stored afterwards; a smaller
// MaxEntries evicts least recently used entries down to the new bound.
func (c *QueryCache) UpdateConfig(config Config) {
	config = config.normalized()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !config.Enabled {
		c.entries.Clear()
	}
	if config.MaxEntries != c.config.MaxEntries {
		c.entries.MaxEntries = config.MaxEntries
		for c.entries.Len() > config.MaxEntries {
			c.entries.RemoveOldest()
		}
	}
	c.config = config
}

// Cleanup removes expired entries and returns how many were removed.
func (c *QueryCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	// lru.Cache has no iterator, so drain it oldest first and re-add the
	// live entries in the same order to keep their recency.
	type item struct {
		k lru.Key
		e *entry
	}
	var drained []item
	c.entries.OnEvicted = func(k lru.Key, value any) {
		drained = append(drained, item{k: k, e: value.(*entry)})
	}
	for c.entries.Len() > 0 {
		c.entries.RemoveOldest()
	}
	c.entries.OnEvicted = nil

	now := c.now()
	removed := 0
	for _, it := range drained {
		if it.e.expired(now) {
			removed++
			continue
		}
		c.entries.Add(it.k, it.e)
	}
	return removed
}

// Stats returns the current counters.
func (c *QueryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100
	}
	return Stats{
		Hits:    c.hits,
		Misses:  c.misses,
		Total:   total,
		HitRate: hitRate,
		Size:    c.entries.Len(),
		Enabled: c.config.Enabled,
	}
}
