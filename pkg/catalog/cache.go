package catalog

import (
	"container/list"
	"sync"
)

// valueCache is an LRU cache of decoded values keyed by key text
type valueCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	lru      *list.List

	hits   int64
	misses int64
}

type cachedValue struct {
	key   string
	value string
}

func newValueCache(capacity int) *valueCache {
	return &valueCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// get returns the cached value and marks it most recently used
func (c *valueCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		c.hits++
		return elem.Value.(*cachedValue).value, true
	}

	c.misses++
	return "", false
}

func (c *valueCache) put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cachedValue).value = value
		return
	}

	c.entries[key] = c.lru.PushFront(&cachedValue{key: key, value: value})
	for c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cachedValue).key)
	}
}

// invalidate drops key so the next lookup reads the newest value
func (c *valueCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.lru.Remove(elem)
		delete(c.entries, key)
	}
}

func (c *valueCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *valueCache) stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
