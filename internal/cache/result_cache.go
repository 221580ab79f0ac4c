// Package cache provides the worker-local result cache.
package cache

import (
	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/nowusman/DocGuard/internal/domain"
)

// ResultCache is a strict LRU of processing results keyed by content
// fingerprint. It is owned by a single worker and is not safe for
// concurrent use.
type ResultCache struct {
	lru       *simplelru.LRU[string, domain.ProcessingResult]
	capacity  int
	hits      int
	misses    int
	evictions int
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Capacity  int `json:"capacity"`
	Len       int `json:"len"`
	Hits      int `json:"hits"`
	Misses    int `json:"misses"`
	Evictions int `json:"evictions"`
}

// New creates a cache holding at most capacity results. A capacity of zero
// or less disables caching: Get always misses and Put is a no-op.
func New(capacity int) *ResultCache {
	c := &ResultCache{capacity: capacity}
	if capacity <= 0 {
		c.capacity = 0
		return c
	}
	lru, err := simplelru.NewLRU[string, domain.ProcessingResult](capacity, func(string, domain.ProcessingResult) {
		c.evictions++
	})
	if err != nil {
		c.capacity = 0
		return c
	}
	c.lru = lru
	return c
}

// Get returns the result for key and marks it most recently used.
func (c *ResultCache) Get(key string) (domain.ProcessingResult, bool) {
	if c.lru == nil || key == "" {
		c.misses++
		return domain.ProcessingResult{}, false
	}
	r, ok := c.lru.Get(key)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return r, ok
}

// Put stores result under key, evicting the least recently used entry when
// the cache is full.
func (c *ResultCache) Put(key string, result domain.ProcessingResult) {
	if c.lru == nil || key == "" {
		return
	}
	c.lru.Add(key, result)
}

// Len returns the number of cached results.
func (c *ResultCache) Len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// Stats returns the current counters.
func (c *ResultCache) Stats() Stats {
	return Stats{
		Capacity:  c.capacity,
		Len:       c.Len(),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
