package memory

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
)

// Cache is a thread-safe LRU cache with per-entry expiry. Expiry is checked
// against the injected clock on read, so tests can drive it with a fake clock.
type Cache struct {
	clock   clockwork.Clock
	entries *lru.Cache[string, entry]
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// NewCache creates a cache holding at most maxEntries values.
func NewCache(maxEntries int, clock clockwork.Clock) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	entries, err := lru.New[string, entry](maxEntries)
	if err != nil {
		// lru.New only fails for a non-positive size, excluded above.
		panic(err)
	}
	return &Cache{clock: clock, entries: entries}
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := c.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !c.clock.Now().Before(e.expiresAt) {
		c.entries.Remove(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key. A non-positive ttl never expires.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = c.clock.Now().Add(ttl)
	}
	c.entries.Add(key, e)
	return nil
}

// Len reports the number of entries, including expired ones not yet read.
func (c *Cache) Len() int { return c.entries.Len() }

func (c *Cache) Ping(context.Context) error { return nil }

func (c *Cache) Close() error { return nil }
