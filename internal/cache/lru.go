// internal/cache/lru.go
//
// Tiny mutex-guarded LRU with per-entry TTL, used by the resolver to
// cache host → tenant lookups.  No external deps; good for a few
// thousand entries.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a least-recently-used cache whose entries expire after a fixed
// TTL.  Keys must be comparable; values can be any.  Safe for
// concurrent use.
type LRU struct {
	cap int
	ttl time.Duration

	mu   sync.Mutex
	ll   *list.List
	dict map[any]*list.Element
}

type entry struct {
	key     any
	val     any
	expires time.Time
}

// New returns an LRU with the given capacity and TTL.  Panics on
// cap < 1.  A zero TTL disables expiry.
func New(capacity int, ttl time.Duration) *LRU {
	if capacity < 1 {
		panic("cache: capacity must be ≥1")
	}
	return &LRU{
		cap:  capacity,
		ttl:  ttl,
		ll:   list.New(),
		dict: make(map[any]*list.Element, capacity),
	}
}

// Get retrieves a live value and marks it MRU.  Expired entries are
// dropped on access.
func (c *LRU) Get(key any) (val any, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ele, hit := c.dict[key]
	if !hit {
		return nil, false
	}
	e := ele.Value.(entry)
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		c.ll.Remove(ele)
		delete(c.dict, key)
		return nil, false
	}
	c.ll.MoveToFront(ele)
	return e.val, true
}

// Add inserts or updates a value, restarting its TTL.
func (c *LRU) Add(key, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if c.ttl > 0 {
		expires = time.Now().Add(c.ttl)
	}
	if ele, hit := c.dict[key]; hit {
		ele.Value = entry{key, val, expires}
		c.ll.MoveToFront(ele)
		return
	}
	ele := c.ll.PushFront(entry{key, val, expires})
	c.dict[key] = ele
	if c.ll.Len() > c.cap {
		last := c.ll.Back()
		c.ll.Remove(last)
		delete(c.dict, last.Value.(entry).key)
	}
}

// Remove drops key if present.
func (c *LRU) Remove(key any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, hit := c.dict[key]; hit {
		c.ll.Remove(ele)
		delete(c.dict, key)
	}
}

// Len reports current size, expired entries included.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
