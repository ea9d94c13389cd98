package steam

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// ttlCache is an LRU cache whose entries expire after a fixed TTL.
// Expired entries are dropped lazily on read.
type ttlCache struct {
	mu  sync.Mutex
	lru *lru.Cache
	ttl time.Duration
	now func() time.Time
}

type ttlEntry struct {
	value    any
	storedAt time.Time
}

func newTTLCache(size int, ttl time.Duration) *ttlCache {
	c, err := lru.New(size)
	if err != nil {
		panic(err) // only fails for size <= 0
	}
	return &ttlCache{lru: c, ttl: ttl, now: time.Now}
}

func (c *ttlCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(ttlEntry)
	if c.now().Sub(e.storedAt) > c.ttl {
		c.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

func (c *ttlCache) add(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, ttlEntry{value: value, storedAt: c.now()})
}

func (c *ttlCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *ttlCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
