// Package lrucache implements a size bounded map that evicts the least
// recently updated entry when full.
package lrucache

import "container/list"

type node[K comparable, V any] struct {
	k K
	v V
}

// Cache maps keys to values. Lookups do not refresh an entry's position,
// only [Cache.Push] does. The zero value is not ready for use, see [New].
type Cache[K comparable, V any] struct {
	order   *list.List // front is the most recently updated entry.
	index   map[K]*list.Element
	maxSize int
}

// New returns a cache holding at most maxSize entries. A maxSize of zero
// returns a cache that never evicts.
func New[K comparable, V any](maxSize int) *Cache[K, V] {
	if maxSize < 0 {
		panic("lrucache max size must be >= 0")
	}
	return &Cache[K, V]{
		order:   list.New(),
		index:   make(map[K]*list.Element),
		maxSize: maxSize,
	}
}

// Get returns the value stored for k.
func (c *Cache[K, V]) Get(k K) (v V, ok bool) {
	e, ok := c.index[k]
	if !ok {
		return v, false
	}
	return e.Value.(*node[K, V]).v, true
}

// Push inserts or overwrites the value for k and marks it most recently updated.
// If the insertion exceeds the cache size the least recently updated entry is
// removed and returned.
func (c *Cache[K, V]) Push(k K, v V) (evicted K, didEvict bool) {
	if e, ok := c.index[k]; ok {
		e.Value.(*node[K, V]).v = v
		c.order.MoveToFront(e)
		return evicted, false
	}
	c.index[k] = c.order.PushFront(&node[K, V]{k: k, v: v})
	if c.maxSize > 0 && c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		n := c.order.Remove(oldest).(*node[K, V])
		delete(c.index, n.k)
		return n.k, true
	}
	return evicted, false
}

// Delete removes k from the cache and reports whether it was present.
func (c *Cache[K, V]) Delete(k K) bool {
	e, ok := c.index[k]
	if !ok {
		return false
	}
	c.order.Remove(e)
	delete(c.index, k)
	return true
}

// Len returns the number of entries in the cache.
func (c *Cache[K, V]) Len() int { return c.order.Len() }

// Range calls fn for every entry from least to most recently updated until fn returns false.
// fn must not modify the cache.
func (c *Cache[K, V]) Range(fn func(k K, v V) bool) {
	for e := c.order.Back(); e != nil; e = e.Prev() {
		n := e.Value.(*node[K, V])
		if !fn(n.k, n.v) {
			return
		}
	}
}
