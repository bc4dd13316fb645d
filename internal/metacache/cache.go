// Package metacache deduplicates and caches Miniflux metadata lookups.
//
// Cache is an explicit keyed table of pending-or-complete calls:
//
//   - The first Get for a key installs a pending call and starts the fetch.
//   - Concurrent Gets for the same key wait on that call and share its result
//     (one upstream request, one value or one failure).
//   - A successful result stays cached for the process lifetime.
//   - A failed call is evicted by its own fetch goroutine, and only while the
//     table still points at that call, so the next Get retries and a newer
//     in-flight retry is never removed.
//
// Fetches run on a context detached from the caller: a caller that gives up
// stops waiting, but the fetch still completes and populates the table.
package metacache

import (
	"context"
	"fmt"
	"sync"

	"fluxhook/internal/metrics"
)

// FetchFunc loads the value for key.
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

type call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// Cache is safe for concurrent use.
type Cache[K comparable, V any] struct {
	name  string
	fetch FetchFunc[K, V]

	mu      sync.Mutex
	entries map[K]*call[V]
}

// New returns an empty cache; name labels metrics.
func New[K comparable, V any](name string, fetch FetchFunc[K, V]) *Cache[K, V] {
	return &Cache[K, V]{
		name:    name,
		fetch:   fetch,
		entries: make(map[K]*call[V]),
	}
}

// Get returns the cached value for key, fetching it at most once across all
// concurrent callers. It returns ctx.Err() if ctx ends before the result is
// available; the fetch itself keeps running.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	c.mu.Lock()
	cl, ok := c.entries[key]
	if !ok {
		cl = &call[V]{done: make(chan struct{})}
		c.entries[key] = cl
		c.mu.Unlock()
		metrics.CacheLookups.WithLabelValues(c.name, "miss").Inc()
		go c.run(context.WithoutCancel(ctx), key, cl)
	} else {
		c.mu.Unlock()
		select {
		case <-cl.done:
			metrics.CacheLookups.WithLabelValues(c.name, "hit").Inc()
		default:
			metrics.CacheLookups.WithLabelValues(c.name, "shared").Inc()
		}
	}

	select {
	case <-cl.done:
		return cl.val, cl.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (c *Cache[K, V]) run(ctx context.Context, key K, cl *call[V]) {
	var (
		val V
		err error
	)
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
		cl.val, cl.err = val, err
		if err != nil {
			c.mu.Lock()
			if c.entries[key] == cl {
				delete(c.entries, key)
				metrics.CacheEvictions.WithLabelValues(c.name).Inc()
			}
			c.mu.Unlock()
		}
		close(cl.done)
	}()
	val, err = c.fetch(ctx, key)
}

// Len returns the number of cached or in-flight keys.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("metacache: fetch panicked: %v", e.value) }
