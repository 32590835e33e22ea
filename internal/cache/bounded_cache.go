// Package cache provides BoundedCache, the concurrent, TTL'd, eviction-
// bounded cache that holds the cohort scanner's fetched wallet data, and
// FIFOSet, the monitor's transaction-hash dedup set (§3, §5). Grounded on
// the teacher's internal/data.Store cache map, generalized to a generic,
// independently-evictable type and given an optional write-through remote
// tier (franky69420-crypto-oracle's go-redis usage) for cross-restart
// survivability of cached wallet data.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// entry is one cached value plus its bookkeeping.
type entry[V any] struct {
	value     V
	expiresAt time.Time
	element   *list.Element
}

// RemoteTier is an optional write-through backing store for a BoundedCache,
// satisfied by a thin redis wrapper in production and left nil in tests.
type RemoteTier[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool, error)
	Set(ctx context.Context, key K, value V, ttl time.Duration) error
}

// Config bounds a BoundedCache's footprint per §5's "Memory safety" rule:
// every cache enforces a maximum entry count and (optionally) a soft
// ceiling measured by the caller-supplied Size function.
type Config struct {
	MaxEntries   int
	DefaultTTL   time.Duration
	SoftByteCeiling int64 // 0 disables the byte-ceiling check
}

// BoundedCache is a concurrent, TTL-expiring, FIFO/LRU-hybrid cache: Get
// looks an entry up under the read lock, then takes the write lock to
// promote a hit in the LRU order or drop an expired entry; writes and
// evictions also take the write lock.
type BoundedCache[K comparable, V any] struct {
	mu      sync.RWMutex
	cfg     Config
	items   map[K]*entry[V]
	order   *list.List // front = most recently used
	sizeFn  func(V) int64
	curSize int64
	remote  RemoteTier[K, V]
}

// New creates a BoundedCache. sizeFn is used only when cfg.SoftByteCeiling
// is non-zero; pass nil to skip byte-ceiling accounting.
func New[K comparable, V any](cfg Config, sizeFn func(V) int64) *BoundedCache[K, V] {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	return &BoundedCache[K, V]{
		cfg:    cfg,
		items:  make(map[K]*entry[V]),
		order:  list.New(),
		sizeFn: sizeFn,
	}
}

// WithRemote attaches an optional write-through remote tier and returns the
// same cache for chaining.
func (c *BoundedCache[K, V]) WithRemote(r RemoteTier[K, V]) *BoundedCache[K, V] {
	c.remote = r
	return c
}

// Get returns the cached value for key if present and unexpired. When the
// local tier misses and a remote tier is configured, Get falls back to it
// and repopulates the local tier — the graceful-degradation path §4.8/§7
// expect from supporting caches.
func (c *BoundedCache[K, V]) Get(ctx context.Context, key K) (V, bool) {
	var zero V
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if ok {
		if time.Now().After(e.expiresAt) {
			c.mu.Lock()
			c.removeLocked(key)
			c.mu.Unlock()
		} else {
			c.mu.Lock()
			c.order.MoveToFront(e.element)
			c.mu.Unlock()
			return e.value, true
		}
	}

	if c.remote == nil {
		return zero, false
	}
	v, found, err := c.remote.Get(ctx, key)
	if err != nil || !found {
		return zero, false
	}
	c.Set(ctx, key, v, c.cfg.DefaultTTL)
	return v, true
}

// Set inserts or replaces key's value with the given TTL (0 uses the
// cache's DefaultTTL), evicting the least-recently-used entry if the cache
// is at capacity or over its soft byte ceiling, and writing through to the
// remote tier if configured.
func (c *BoundedCache[K, V]) Set(ctx context.Context, key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	c.mu.Lock()
	if existing, ok := c.items[key]; ok {
		c.removeLocked(key)
		_ = existing
	}
	el := c.order.PushFront(key)
	e := &entry[V]{value: value, expiresAt: time.Now().Add(ttl), element: el}
	c.items[key] = e
	if c.sizeFn != nil {
		c.curSize += c.sizeFn(value)
	}
	c.evictLocked()
	c.mu.Unlock()

	if c.remote != nil {
		_ = c.remote.Set(ctx, key, value, ttl)
	}
}

// evictLocked must be called with c.mu held for writing. It evicts
// least-recently-used entries until the cache is within both its entry
// count and soft byte ceiling.
func (c *BoundedCache[K, V]) evictLocked() {
	for len(c.items) > c.cfg.MaxEntries || c.overSoftCeilingLocked() {
		back := c.order.Back()
		if back == nil {
			return
		}
		key := back.Value.(K)
		c.removeLocked(key)
	}
}

func (c *BoundedCache[K, V]) overSoftCeilingLocked() bool {
	return c.cfg.SoftByteCeiling > 0 && c.curSize > c.cfg.SoftByteCeiling
}

// removeLocked must be called with c.mu held for writing.
func (c *BoundedCache[K, V]) removeLocked(key K) {
	e, ok := c.items[key]
	if !ok {
		return
	}
	if c.sizeFn != nil {
		c.curSize -= c.sizeFn(e.value)
	}
	c.order.Remove(e.element)
	delete(c.items, key)
}

// Delete removes key from the local tier, if present.
func (c *BoundedCache[K, V]) Delete(key K) {
	c.mu.Lock()
	c.removeLocked(key)
	c.mu.Unlock()
}

// Len returns the current number of unexpired-or-not entries held locally.
func (c *BoundedCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// CleanupExpired evicts all locally expired entries; the orchestrator's
// periodic maintenance task (§4.9 step 6) calls this on every cache it owns.
func (c *BoundedCache[K, V]) CleanupExpired() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.items {
		if now.After(e.expiresAt) {
			c.removeLocked(key)
			removed++
		}
	}
	return removed
}
