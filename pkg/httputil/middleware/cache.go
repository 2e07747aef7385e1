package middleware

import (
	"sync"
	"time"
)

// Cache maps string keys to values that expire after a fixed TTL. Expired
// entries are dropped on lookup and swept from Set at most once per TTL.
type Cache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	items   map[string]entry[V]
	swept   time.Time
	nowFunc func() time.Time
}

type entry[V any] struct {
	value   V
	expires time.Time
}

// NewCache returns an empty cache whose entries live for ttl.
func NewCache[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{ttl: ttl, items: make(map[string]entry[V]), nowFunc: time.Now}
}

func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFunc()
	if now.Sub(c.swept) >= c.ttl {
		c.sweep(now)
	}
	c.items[key] = entry[V]{value: value, expires: now.Add(c.ttl)}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.nowFunc().Before(e.expires) {
		delete(c.items, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Len reports the number of entries held, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache[V]) sweep(now time.Time) {
	for k, e := range c.items {
		if !now.Before(e.expires) {
			delete(c.items, k)
		}
	}
	c.swept = now
}
