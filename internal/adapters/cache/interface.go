package cache

import "time"

// Cache is a TTL key/value store with an open-ended key space. An expired
// entry behaves exactly like a missing one.
type Cache[T any] interface {
	Get(key string) (T, bool)
	// Set stores value with the TTL of the key's class.
	Set(key string, value T)
	// SetWithTTL stores value with an explicit TTL, bypassing class resolution.
	SetWithTTL(key string, value T, ttl time.Duration)
	Invalidate(key string)
	InvalidateAll()
}
