package durationcache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"Cradle-storage/internal/book"
	"Cradle-storage/internal/metrics"
)

// Key identifies the test events of one scope within one page.
type Key struct {
	Book  string
	Page  string
	Scope string
}

// Cache remembers the longest test event batch seen per key. Values only
// grow; entries leave on LRU eviction or when their page is removed.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache
}

// New creates a cache holding at most size keys.
func New(size int) (*Cache, error) {
	l, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Get returns the cached maximum duration for key.
func (c *Cache) Get(key Key) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(key)
	if !ok {
		return 0, false
	}
	return v.(time.Duration), true
}

// Update stores d unless a larger duration is already cached. It reports
// whether the cached value changed.
func (c *Cache) Update(key Key, d time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.lru.Get(key); ok && v.(time.Duration) >= d {
		return false
	}
	c.lru.Add(key, d)
	metrics.DurationCacheEntries.Set(float64(c.lru.Len()))
	return true
}

// RemovePage drops every key of the given page.
func (c *Cache) RemovePage(page book.PageID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, k := range c.lru.Keys() {
		key := k.(Key)
		if key.Book == page.Book && key.Page == page.Name {
			c.lru.Remove(key)
			removed++
		}
	}
	metrics.DurationCacheEntries.Set(float64(c.lru.Len()))
	return removed
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}
