package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, config Config) (*QueryCache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewQueryCache(config)
	c.now = clock.Now
	return c, clock
}

func TestQueryCache_GetPut(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())

	_, ok := c.Get("SELECT", "q1")
	assert.False(t, ok)

	c.Put("SELECT", "q1", "result")
	value, ok := c.Get("SELECT", "q1")
	require.True(t, ok)
	assert.Equal(t, "result", value)

	_, ok = c.Get("CONSTRUCT", "q1")
	assert.False(t, ok, "kind is part of the key")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.Equal(t, uint64(3), stats.Total)
	assert.InDelta(t, 33.33, stats.HitRate, 0.01)
	assert.Equal(t, 1, stats.Size)
}

func TestQueryCache_Expiry(t *testing.T) {
	c, clock := newTestCache(t, Config{Enabled: true, TTL: time.Minute, MaxEntries: 10})

	c.Put("SELECT", "q", 1)
	clock.Advance(59 * time.Second)
	_, ok := c.Get("SELECT", "q")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("SELECT", "q")
	assert.False(t, ok, "entry expires once its TTL has elapsed")
	assert.Equal(t, 0, c.Stats().Size, "expired entry is dropped on lookup")
}

func TestQueryCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())
	c.Put("SELECT", "a", 1)
	c.Put("SELECT", "b", 2)
	_, _ = c.Get("SELECT", "a")

	c.Invalidate()

	_, ok := c.Get("SELECT", "a")
	assert.False(t, ok)
	stats := c.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, uint64(1), stats.Hits, "counters survive invalidation")
}

func TestQueryCache_Disabled(t *testing.T) {
	c, _ := newTestCache(t, Config{Enabled: false})

	c.Put("SELECT", "q", 1)
	_, ok := c.Get("SELECT", "q")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.False(t, stats.Enabled)
}

func TestQueryCache_UpdateConfig(t *testing.T) {
	t.Run("disabling clears entries", func(t *testing.T) {
		c, _ := newTestCache(t, DefaultConfig())
		c.Put("SELECT", "q", 1)

		c.UpdateConfig(Config{Enabled: false})
		assert.Equal(t, 0, c.Stats().Size)

		c.UpdateConfig(DefaultConfig())
		_, ok := c.Get("SELECT", "q")
		assert.False(t, ok)
	})

	t.Run("ttl applies to new entries", func(t *testing.T) {
		c, clock := newTestCache(t, Config{Enabled: true, TTL: time.Hour, MaxEntries: 10})
		c.Put("SELECT", "old", 1)

		c.UpdateConfig(Config{Enabled: true, TTL: time.Minute, MaxEntries: 10})
		c.Put("SELECT", "new", 2)

		clock.Advance(2 * time.Minute)
		_, ok := c.Get("SELECT", "old")
		assert.True(t, ok, "existing entry keeps the TTL it was stored with")
		_, ok = c.Get("SELECT", "new")
		assert.False(t, ok)
	})

	t.Run("shrinking evicts least recently used", func(t *testing.T) {
		c, _ := newTestCache(t, Config{Enabled: true, TTL: time.Hour, MaxEntries: 10})
		for i := 0; i < 5; i++ {
			c.Put("SELECT", fmt.Sprintf("q%d", i), i)
		}
		_, _ = c.Get("SELECT", "q0")

		c.UpdateConfig(Config{Enabled: true, TTL: time.Hour, MaxEntries: 2})

		assert.Equal(t, 2, c.Stats().Size)
		_, ok := c.Get("SELECT", "q0")
		assert.True(t, ok)
		_, ok = c.Get("SELECT", "q4")
		assert.True(t, ok)
		_, ok = c.Get("SELECT", "q1")
		assert.False(t, ok)
	})

	t.Run("zero values fall back to defaults", func(t *testing.T) {
		c, _ := newTestCache(t, Config{Enabled: true})
		config := c.Config()
		assert.Equal(t, DefaultTTL, config.TTL)
		assert.Equal(t, DefaultMaxEntries, config.MaxEntries)
	})
}

func TestQueryCache_MaxEntries(t *testing.T) {
	c, _ := newTestCache(t, Config{Enabled: true, TTL: time.Hour, MaxEntries: 2})
	c.Put("SELECT", "a", 1)
	c.Put("SELECT", "b", 2)
	c.Put("SELECT", "c", 3)

	_, ok := c.Get("SELECT", "a")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Stats().Size)
}

func TestQueryCache_Cleanup(t *testing.T) {
	c, clock := newTestCache(t, Config{Enabled: true, TTL: time.Minute, MaxEntries: 10})
	c.Put("SELECT", "a", 1)
	c.Put("SELECT", "b", 2)
	clock.Advance(30 * time.Second)
	c.UpdateConfig(Config{Enabled: true, TTL: time.Hour, MaxEntries: 10})
	c.Put("SELECT", "c", 3)
	clock.Advance(31 * time.Second)

	assert.Equal(t, 2, c.Cleanup())
	assert.Equal(t, 1, c.Stats().Size)

	value, ok := c.Get("SELECT", "c")
	require.True(t, ok)
	assert.Equal(t, 3, value)

	assert.Equal(t, 0, c.Cleanup())
}

func TestQueryCache_RecordMiss(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())
	c.RecordMiss()
	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, float64(0), stats.HitRate)
}

func TestQueryCache_Concurrent(t *testing.T) {
	c := NewQueryCache(DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("q%d", j%10)
				if _, ok := c.Get("SELECT", key); !ok {
					c.Put("SELECT", key, worker)
				}
				if j%25 == 0 {
					c.Cleanup()
				}
			}
		}(i)
	}
	wg.Wait()

	stats := c.Stats()
	assert.Equal(t, uint64(800), stats.Total)
	assert.LessOrEqual(t, stats.Size, 10)
}
