// Package regioncache memoizes basin-code lookups in front of a RegionResolver.
package regioncache

import (
	"context"
	"strings"
	"sync"

	"github.com/couchcryptid/storm-data-tracks/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// CachedRegions wraps a RegionResolver with an in-memory LRU cache.
type CachedRegions struct {
	inner  domain.RegionResolver
	cache  *lruCache
	lookup *prometheus.CounterVec // labels: result={hit,miss}
}

// New creates a cache decorator around a region resolver. lookups may be nil.
func New(inner domain.RegionResolver, maxEntries int, lookups *prometheus.CounterVec) *CachedRegions {
	return &CachedRegions{
		inner:  inner,
		cache:  newLRUCache(maxEntries),
		lookup: lookups,
	}
}

// RegionByCode returns the cached region for code, asking the inner
// resolver on a miss. Failed lookups are not cached so a region added later
// is picked up.
func (c *CachedRegions) RegionByCode(ctx context.Context, code string) (domain.Region, error) {
	key := strings.ToUpper(strings.TrimSpace(code))
	if r, ok := c.cache.get(key); ok {
		c.count("hit")
		return r, nil
	}
	c.count("miss")

	r, err := c.inner.RegionByCode(ctx, key)
	if err != nil {
		return domain.Region{}, err
	}
	c.cache.put(key, r)
	return r, nil
}

func (c *CachedRegions) count(result string) {
	if c.lookup != nil {
		c.lookup.WithLabelValues(result).Inc()
	}
}

// lruCache is a small thread-safe LRU cache of regions keyed by basin code.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value domain.Region
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (domain.Region, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return domain.Region{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value domain.Region) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.pushFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictOldest()
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

func (c *lruCache) pushFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictOldest() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlink(c.tail)
}
