// Package confcache caches tenant configuration documents with a fixed
// TTL in front of the config store, so the hot path almost never does I/O.
package confcache

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/foldset/foldset-go/internal/store"
)

// TTL bounds how long a cached document is served without re-fetching.
const TTL = 30 * time.Second

var cacheRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "foldset",
	Subsystem: "confcache",
	Name:      "refresh_total",
	Help:      "Configuration cache refreshes by document key.",
}, []string{"key"})

func init() {
	prometheus.MustRegister(cacheRefreshTotal)
}

// Cached holds one decoded configuration document. Absence in the store
// is a cacheable value: the fallback is stored and the entry marked
// fresh, so a missing key does not cause a fetch storm. Refresh is
// idempotent, so concurrent expiry races at worst duplicate a fetch.
type Cached[T any] struct {
	store    store.ConfigStore
	key      string
	fallback T
	decode   func([]byte) (T, error)

	mu        sync.Mutex
	value     T
	fetchedAt time.Time
}

// New creates a cache for one document key. decode runs on every raw
// fetch; its error propagates to Get callers, because malformed stored
// configuration must surface rather than be silently replaced.
func New[T any](cs store.ConfigStore, key string, fallback T, decode func([]byte) (T, error)) *Cached[T] {
	return &Cached[T]{store: cs, key: key, fallback: fallback, value: fallback, decode: decode}
}

// Get returns the cached value, fetching at most once per TTL window.
// Store and decode failures propagate without erasing the prior snapshot.
func (c *Cached[T]) Get(ctx context.Context) (T, error) {
	c.mu.Lock()
	if !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < TTL {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	raw, ok, err := c.store.Get(ctx, c.key)
	if err != nil {
		var zero T
		return zero, err
	}

	value := c.fallback
	if ok {
		value, err = c.decode([]byte(raw))
		if err != nil {
			var zero T
			return zero, err
		}
	}

	cacheRefreshTotal.WithLabelValues(c.key).Inc()

	c.mu.Lock()
	c.value = value
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return value, nil
}

// Invalidate resets the freshness marker without clearing the last-known
// value, so the next Get re-fetches but a transient failure does not
// erase the prior snapshot.
func (c *Cached[T]) Invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}
