package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type classTTLCache[T any] struct {
	cache   *ttlcache.Cache[string, T]
	classes ClassTable
}

func (c *classTTLCache[T]) Get(key string) (T, bool) {
	item := c.cache.Get(key)
	if item == nil || item.IsExpired() {
		var empty T
		return empty, false
	}
	return item.Value(), true
}

func (c *classTTLCache[T]) Set(key string, value T) {
	c.cache.Set(key, value, c.classes.TTLFor(key))
}

func (c *classTTLCache[T]) SetWithTTL(key string, value T, ttl time.Duration) {
	c.cache.Set(key, value, ttl)
}

func (c *classTTLCache[T]) Invalidate(key string) {
	c.cache.Delete(key)
}

func (c *classTTLCache[T]) InvalidateAll() {
	c.cache.DeleteAll()
}

// NewClassTTLCache creates a TTL cache whose per-entry TTLs are resolved from
// the key's class. The ttlcache janitor evicts expired entries in the
// background; Get never returns them either way.
func NewClassTTLCache[T any](classes ClassTable) Cache[T] {
	ttlCache := ttlcache.New[string, T](
		ttlcache.WithTTL[string, T](classes.Fallback()),
		ttlcache.WithDisableTouchOnHit[string, T](),
	)
	go ttlCache.Start()
	return &classTTLCache[T]{cache: ttlCache, classes: classes}
}
