// Package cache provides bounded, expiring caches that front the persistence layer.
//
// Call sites depend only on the Cache interface; the eviction policy behind it
// is chosen at construction time.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a bounded key/value cache. A Get after eviction or expiry misses.
type Cache[K comparable, V any] interface {
	// Get returns the cached value and whether it was present.
	Get(key K) (V, bool)

	// PutIfAbsent stores value unless key is already cached. It reports
	// whether the value was stored.
	PutIfAbsent(key K, value V) bool

	// Evict drops key.
	Evict(key K)

	// EvictAll drops every entry.
	EvictAll()

	// Len returns the number of live entries.
	Len() int
}

// Settings sizes one cache.
type Settings struct {
	// InitialCapacity is a sizing hint; policies that cannot preallocate ignore it
	InitialCapacity int `mapstructure:"initial_capacity"`

	// MaximumSize bounds the number of entries
	MaximumSize int `mapstructure:"maximum_size"`

	// ExpireAfterAccess is the idle time after which an entry expires
	ExpireAfterAccess time.Duration `mapstructure:"expire_after_access"`
}

// ExpiringLRU evicts the least recently used entry beyond MaximumSize and
// expires entries that were not accessed for ExpireAfterAccess.
type ExpiringLRU[K comparable, V any] struct {
	// mu makes PutIfAbsent atomic; the underlying LRU locks each call on its own
	mu  sync.Mutex
	lru *expirable.LRU[K, V]
}

// NewExpiringLRU creates the default cache policy.
func NewExpiringLRU[K comparable, V any](s Settings) *ExpiringLRU[K, V] {
	return &ExpiringLRU[K, V]{
		lru: expirable.NewLRU[K, V](s.MaximumSize, nil, s.ExpireAfterAccess),
	}
}

// Get returns the value and refreshes its expiry.
func (c *ExpiringLRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.lru.Get(key)
	if ok {
		// Re-adding restarts the TTL, turning write expiry into access expiry.
		c.lru.Add(key, value)
	}
	return value, ok
}

func (c *ExpiringLRU[K, V]) PutIfAbsent(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lru.Get(key); ok {
		return false
	}
	c.lru.Add(key, value)
	return true
}

func (c *ExpiringLRU[K, V]) Evict(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

func (c *ExpiringLRU[K, V]) EvictAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

func (c *ExpiringLRU[K, V]) Len() int {
	return c.lru.Len()
}
