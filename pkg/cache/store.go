package cache

import (
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Store is a typed in-memory key/value store with optional expiry.
// Values are kept as-is; callers that share mutable values must copy them.
type Store[V any] struct {
	c *gocache.Cache
}

// NewStore creates a store. ttl <= 0 keeps entries until invalidated.
func NewStore[V any](ttl, cleanupInterval time.Duration) *Store[V] {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Minute
	}
	return &Store[V]{c: gocache.New(ttl, cleanupInterval)}
}

// Get returns the value for key.
func (s *Store[V]) Get(key string) (V, bool) {
	var zero V
	raw, ok := s.c.Get(key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return v, true
}

// GetWithAge returns the value and how long until it expires (0 = never).
func (s *Store[V]) GetWithAge(key string) (V, time.Duration, bool) {
	var zero V
	raw, exp, ok := s.c.GetWithExpiration(key)
	if !ok {
		return zero, 0, false
	}
	v, ok := raw.(V)
	if !ok {
		return zero, 0, false
	}
	if exp.IsZero() {
		return v, 0, true
	}
	return v, time.Until(exp), true
}

// Put stores value under key with the default expiry.
func (s *Store[V]) Put(key string, value V) {
	s.c.SetDefault(key, value)
}

// Invalidate removes key.
func (s *Store[V]) Invalidate(key string) {
	s.c.Delete(key)
}

// Keys returns every live key, sorted.
func (s *Store[V]) Keys() []string {
	items := s.c.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns every live value ordered by key.
func (s *Store[V]) Values() []V {
	items := s.c.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		if v, ok := items[k].Object.(V); ok {
			out = append(out, v)
		}
	}
	return out
}

// Len returns the number of items, expired ones included until cleanup.
func (s *Store[V]) Len() int {
	return s.c.ItemCount()
}

// Flush drops every entry.
func (s *Store[V]) Flush() {
	s.c.Flush()
}

// CacheStats provides cache statistics.
type CacheStats struct {
	TotalItems int `json:"total_items"`
}

// Stats returns cache statistics.
func (s *Store[V]) Stats() CacheStats {
	return CacheStats{TotalItems: s.c.ItemCount()}
}
