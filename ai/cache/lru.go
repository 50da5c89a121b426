// Package cache provides a small in-process LRU cache with per-entry TTL.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRUCache is a size-bounded cache that evicts the least recently used entry and
// drops entries whose TTL has passed.
type LRUCache[K comparable, V any] struct {
	mu         sync.Mutex
	items      map[K]*list.Element
	order      *list.List
	capacity   int
	defaultTTL time.Duration
	now        func() time.Time
}

type item[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// NewLRUCache creates a cache. Non-positive arguments fall back to 1000 entries and 5 minutes.
func NewLRUCache[K comparable, V any](capacity int, defaultTTL time.Duration) *LRUCache[K, V] {
	if capacity <= 0 {
		capacity = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &LRUCache[K, V]{
		items:      make(map[K]*list.Element),
		order:      list.New(),
		capacity:   capacity,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns the value for key and marks it recently used.
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	it := el.Value.(*item[K, V])
	if c.now().After(it.expiresAt) {
		c.remove(el)
		return zero, false
	}
	c.order.MoveToFront(el)
	return it.value, true
}

// Set stores value under key. A non-positive ttl uses the default TTL.
func (c *LRUCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if el, ok := c.items[key]; ok {
		it := el.Value.(*item[K, V])
		it.value = value
		it.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}

	for len(c.items) >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.remove(oldest)
	}

	c.items[key] = c.order.PushFront(&item[K, V]{key: key, value: value, expiresAt: expiresAt})
}

// Remove deletes key and reports whether it was present.
func (c *LRUCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if ok {
		c.remove(el)
	}
	return ok
}

// Len returns the number of stored entries, expired ones included until touched.
func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge removes every entry.
func (c *LRUCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element)
	c.order.Init()
}

// must be called with c.mu held
func (c *LRUCache[K, V]) remove(el *list.Element) {
	it := c.order.Remove(el).(*item[K, V])
	delete(c.items, it.key)
}
