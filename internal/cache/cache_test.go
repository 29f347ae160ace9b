package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestCache(size int, ttl time.Duration) (*LRUCache[string], *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[string](size, ttl)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestLRUCacheGetSet(t *testing.T) {
	c, _ := newTestCache(2, time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", "1")
	c.Set("b", "2")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	// "b" is now least recently used.
	c.Set("c", "3")
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Size())

	c.Set("a", "updated")
	v, _ = c.Get("a")
	assert.Equal(t, "updated", v)

	hits, misses := c.Stats()
	assert.EqualValues(t, 2, hits)
	assert.EqualValues(t, 2, misses)
}

func TestLRUCacheExpiry(t *testing.T) {
	c, now := newTestCache(10, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	*now = now.Add(30 * time.Second)
	c.Set("b", "refreshed")

	*now = now.Add(30 * time.Second)
	_, ok := c.Get("a")
	assert.False(t, ok, "entry expires exactly at its TTL")

	assert.Equal(t, 0, c.CleanExpired())
	*now = now.Add(time.Minute)
	assert.Equal(t, 1, c.CleanExpired())
	assert.Equal(t, 0, c.Size())
}

func TestLRUCacheDeletePrefix(t *testing.T) {
	c, _ := newTestCache(10, time.Minute)
	c.Set(Key("s1", "bills"), "x")
	c.Set(Key("s1", "stats"), "y")
	c.Set(Key("s10", "bills"), "z")

	assert.Equal(t, 2, c.DeletePrefix(SessionPrefix("s1")))
	_, ok := c.Get(Key("s10", "bills"))
	assert.True(t, ok)

	c.Delete(Key("s10", "bills"))
	assert.Equal(t, 0, c.Size())
}

func TestManager(t *testing.T) {
	c, now := newTestCache(10, time.Second)
	c.Set("a", "1")

	m := NewManager(nil)
	m.Register(c)
	*now = now.Add(2 * time.Second)
	assert.Equal(t, 1, m.CleanNow())

	m.StartCleanup(time.Millisecond)
	m.StartCleanup(time.Millisecond)
	m.Stop()
	m.Stop()

	idle := NewManager(nil)
	idle.Stop()
}
