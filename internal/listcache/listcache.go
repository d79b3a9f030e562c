// Package listcache provides a bounded TTL cache for per-pubkey lists
// fetched from upstream relays. Concurrent lookups of the same key
// share one fetch, and stale entries are served while a background
// refresh runs.
package listcache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultCapacity = 4096
	// Refresh failures are not retried more often than this.
	failureBackoff = 30 * time.Second
	// Entries older than staleFactor*TTL are discarded rather than
	// served.
	staleFactor = 6
)

// FetchFunc loads the authoritative value for a key.
type FetchFunc[V any] func(ctx context.Context, key string) (V, error)

type entry[V any] struct {
	key       string
	value     V
	fetchedAt time.Time
	lastTryAt time.Time
}

// Cache is a bounded LRU of values keyed by pubkey. Values are
// refreshed after TTL; a value past the hard staleness ceiling is
// dropped and fetched again before returning, so the caller gets the
// zero value only when that fetch fails.
type Cache[V any] struct {
	fetch    FetchFunc[V]
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List

	group singleflight.Group

	now func() time.Time
}

// New builds a cache over fetch with the given TTL. A capacity of zero
// selects the default bound.
func New[V any](fetch FetchFunc[V], ttl time.Duration, capacity int) *Cache[V] {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Cache[V]{
		fetch:    fetch,
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the cached value for key, fetching it when absent or too
// stale. A fresh or moderately stale value is returned immediately;
// stale values trigger a background refresh. When no usable value
// exists and the fetch fails, the zero value is returned with the
// error.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, error) {
	now := c.now()

	c.mu.Lock()
	elem, ok := c.entries[key]
	if ok {
		e := elem.Value.(*entry[V])
		age := now.Sub(e.fetchedAt)
		if age > staleFactor*c.ttl {
			// Too stale to trust. Drop it and fetch anew.
			c.order.Remove(elem)
			delete(c.entries, key)
		} else {
			c.order.MoveToFront(elem)
			value := e.value
			needsRefresh := age > c.ttl && now.Sub(e.lastTryAt) > failureBackoff
			if needsRefresh {
				e.lastTryAt = now
			}
			c.mu.Unlock()
			if needsRefresh {
				c.refreshAsync(key)
			}
			return value, nil
		}
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		value, err := c.fetch(ctx, key)
		if err != nil {
			c.noteFailure(key)
			return nil, err
		}
		c.store(key, value)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Invalidate drops the cached value for key, if any.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache[V]) refreshAsync(key string) {
	ch := c.group.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		value, err := c.fetch(ctx, key)
		if err != nil {
			c.noteFailure(key)
			return nil, err
		}
		c.store(key, value)
		return value, nil
	})
	go func() { <-ch }()
}

func (c *Cache[V]) store(key string, value V) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		e := elem.Value.(*entry[V])
		e.value = value
		e.fetchedAt = now
		e.lastTryAt = now
		c.order.MoveToFront(elem)
		return
	}

	for c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry[V]).key)
	}
	c.entries[key] = c.order.PushFront(&entry[V]{
		key:       key,
		value:     value,
		fetchedAt: now,
		lastTryAt: now,
	})
}

func (c *Cache[V]) noteFailure(key string) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*entry[V]).lastTryAt = now
	}
}
