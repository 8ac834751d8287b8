package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a TTL cache with a bounded entry count. When full, the entry
// with the oldest insertion is evicted; a lookup that finds an expired
// entry evicts it and reports a miss. Safe for concurrent use.
type Cache[V any] struct {
	mu       sync.Mutex
	ttl      time.Duration
	maxItems int
	items    map[string]*entry[V]
	order    *list.List // keys, oldest insertion at front

	now func() time.Time // overridable in tests
}

type entry[V any] struct {
	val     V
	expires time.Time
	elem    *list.Element
}

// New creates a cache holding at most maxItems entries, each valid for ttl.
func New[V any](ttl time.Duration, maxItems int) *Cache[V] {
	if maxItems < 1 {
		maxItems = 1
	}
	return &Cache[V]{
		ttl:      ttl,
		maxItems: maxItems,
		items:    make(map[string]*entry[V]),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the cached value for key, if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}

	if c.now().After(e.expires) {
		c.remove(key, e)
		var zero V
		return zero, false
	}

	return e.val, true
}

// Set inserts or replaces the value for key. A replaced entry counts as a
// fresh insertion for eviction ordering.
func (c *Cache[V]) Set(key string, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.val = val
		e.expires = c.now().Add(c.ttl)
		c.order.MoveToBack(e.elem)
		return
	}

	if len(c.items) >= c.maxItems {
		if front := c.order.Front(); front != nil {
			k := front.Value.(string)
			c.remove(k, c.items[k])
		}
	}

	c.items[key] = &entry[V]{
		val:     val,
		expires: c.now().Add(c.ttl),
		elem:    c.order.PushBack(key),
	}
}

// Len returns the number of stored entries, expired ones included until
// they are touched.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache[V]) remove(key string, e *entry[V]) {
	c.order.Remove(e.elem)
	delete(c.items, key)
}
