// Package cache provides the gateway's hot-path caches: TTL+capacity bounded
// key/value stores and the per-device byte-rate limiters.
package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Store is a string-keyed TTL cache with a capacity bound. Entries expire a
// fixed interval after insertion (reads do not extend lifetime); once the
// capacity is reached, inserting a new key evicts the least recently used
// entry.
type Store[V any] struct {
	inner *ttlcache.Cache[string, V]
}

// NewStore builds a running Store. Call Stop when the store is no longer
// needed to release the expiration goroutine.
func NewStore[V any](capacity uint64, ttl time.Duration) *Store[V] {
	inner := ttlcache.New[string, V](
		ttlcache.WithTTL[string, V](ttl),
		ttlcache.WithCapacity[string, V](capacity),
		ttlcache.WithDisableTouchOnHit[string, V](),
	)
	go inner.Start()
	return &Store[V]{inner: inner}
}

// Get returns the cached value and whether it was present and unexpired.
func (s *Store[V]) Get(key string) (V, bool) {
	item := s.inner.Get(key)
	if item == nil {
		var zero V
		return zero, false
	}
	return item.Value(), true
}

// Set inserts or replaces a value. Re-inserting a key restarts its TTL.
func (s *Store[V]) Set(key string, value V) {
	s.inner.Set(key, value, ttlcache.DefaultTTL)
}

// Remove drops a key if present.
func (s *Store[V]) Remove(key string) {
	s.inner.Delete(key)
}

// Len returns the number of live entries.
func (s *Store[V]) Len() int {
	return s.inner.Len()
}

// Stop terminates the background expiration loop.
func (s *Store[V]) Stop() {
	s.inner.Stop()
}
