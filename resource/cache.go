package resource

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader fetches the full resource list for a partition key.
type Loader[T any] func(ctx context.Context, key string) ([]T, error)

// Cache serves resource lists per partition key with bounded staleness.
//
// Concurrent fetches for a key share one load. When a previous result exists
// the caller gets the fresh result if it arrives within the staleness window
// and the previous one otherwise; the load keeps running and updates the
// cache when it completes. Loads run detached from callers' contexts.
type Cache[T any] struct {
	name         string
	load         Loader[T]
	staleness    time.Duration
	fetchTimeout time.Duration
	log          *slog.Logger

	flights singleflight.Group

	mu      sync.RWMutex
	current map[string][]T
}

// CacheOption configures a Cache.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	staleness    time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// WithStaleness sets how long a caller with a previous result waits for a
// fresh one. Default 500ms; non-positive values keep the default.
func WithStaleness(d time.Duration) CacheOption {
	return func(o *cacheOptions) {
		if d > 0 {
			o.staleness = d
		}
	}
}

// WithFetchTimeout bounds each load. Default 30s.
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(o *cacheOptions) {
		if d > 0 {
			o.fetchTimeout = d
		}
	}
}

// WithLogger sets the logger for load failures.
func WithLogger(l *slog.Logger) CacheOption {
	return func(o *cacheOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewCache creates a cache named for logging.
func NewCache[T any](name string, load Loader[T], opts ...CacheOption) *Cache[T] {
	o := cacheOptions{
		staleness:    500 * time.Millisecond,
		fetchTimeout: 30 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{
		name:         name,
		load:         load,
		staleness:    o.staleness,
		fetchTimeout: o.fetchTimeout,
		log:          o.logger.With("cache", name),
		current:      make(map[string][]T),
	}
}

// Fetch returns the resources for key. With no previous result it waits for
// the load and returns its error; otherwise it never fails except on ctx.
func (c *Cache[T]) Fetch(ctx context.Context, key string) ([]T, error) {
	stale, hasStale := c.Current(key)
	flight := c.flights.DoChan(key, func() (any, error) {
		return c.update(key)
	})

	if !hasStale {
		select {
		case r := <-flight:
			if r.Err != nil {
				return nil, r.Err
			}
			return r.Val.([]T), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	timer := time.NewTimer(c.staleness)
	defer timer.Stop()
	select {
	case r := <-flight:
		if r.Err != nil {
			return stale, nil
		}
		return r.Val.([]T), nil
	case <-timer.C:
		return stale, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Refresh starts a background load for key unless one is running.
func (c *Cache[T]) Refresh(key string) {
	c.flights.DoChan(key, func() (any, error) {
		return c.update(key)
	})
}

// Current returns the last successful result for key.
func (c *Cache[T]) Current(key string) ([]T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.current[key]
	return v, ok
}

func (c *Cache[T]) update(key string) ([]T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	defer cancel()

	start := time.Now()
	items, err := c.load(ctx, key)
	if err != nil {
		c.log.Warn("resource fetch failed", "key", key, "error", err)
		return nil, &FetchError{Key: key, Err: err}
	}
	if items == nil {
		items = []T{}
	}

	c.mu.Lock()
	c.current[key] = items
	c.mu.Unlock()
	c.log.Debug("resources updated", "key", key, "count", len(items), "elapsed", time.Since(start))
	return items, nil
}
