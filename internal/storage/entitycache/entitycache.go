// Package entitycache wraps hashicorp/golang-lru/v2 with type-prefixed
// keys and invalidation helpers, so a repository can cache entities of
// one type without colliding with another repository sharing the same
// process-local cache instance.
//
// Grounded in shape on jra3-linear-fuse/internal/cache/cache.go's generic
// Cache[T] (mutex-guarded map, Get/Set/Delete/Clear/DeleteByPrefix), with
// TTL-based eviction swapped for strict LRU-by-access-order, since
// spec.md §4.4 sizes the cache by entry count (`maxSize`), not by age.
package entitycache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a bounded LRU cache of entities of type T, keyed by a
// type-prefixed id.
type Cache[T any] struct {
	entityType string
	inner      *lru.Cache[string, T]
}

// New creates a Cache holding up to maxSize entries of entityType.
func New[T any](entityType string, maxSize int) (*Cache[T], error) {
	inner, err := lru.New[string, T](maxSize)
	if err != nil {
		return nil, fmt.Errorf("creating %s cache: %w", entityType, err)
	}
	return &Cache[T]{entityType: entityType, inner: inner}, nil
}

func (c *Cache[T]) key(id string) string {
	return c.entityType + ":" + id
}

// Get returns the cached value for id, if present, refreshing its
// recency.
func (c *Cache[T]) Get(id string) (T, bool) {
	return c.inner.Get(c.key(id))
}

// Set caches value under id, evicting the least-recently-used entry if
// the cache is at capacity and id is new.
func (c *Cache[T]) Set(id string, value T) {
	c.inner.Add(c.key(id), value)
}

// Invalidate removes id from the cache. A no-op if absent.
func (c *Cache[T]) Invalidate(id string) {
	c.inner.Remove(c.key(id))
}

// Clear empties the cache.
func (c *Cache[T]) Clear() {
	c.inner.Purge()
}

// Len returns the number of cached entries.
func (c *Cache[T]) Len() int {
	return c.inner.Len()
}
