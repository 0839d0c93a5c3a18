// Package resultcache is an in-process key/value cache for asynchronously
// produced results. Entries carry a TTL, optionally capped by the producer's
// freshness metadata. Concurrent misses for one key share a single producer
// call, and the oldest-inserted entry is evicted once capacity is reached.
package resultcache

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/choropleth-cache/internal/core/observability"
)

const (
	DefaultTTL        = time.Hour
	DefaultMaxEntries = 50
)

// Entry is an immutable snapshot of a cached value.
type Entry[T any] struct {
	Data      T
	Timestamp time.Time
	ExpiresAt time.Time

	seq uint64
}

func (e Entry[T]) TTL() time.Duration { return e.ExpiresAt.Sub(e.Timestamp) }

// Response is what a producer hands back: the value plus the raw
// Cache-Control style freshness header of the response, if any.
type Response[T any] struct {
	Data      T
	Freshness string
}

type Producer[T any] func(ctx context.Context) (Response[T], error)

// Value adapts a producer that has no freshness metadata.
func Value[T any](fn func(ctx context.Context) (T, error)) Producer[T] {
	return func(ctx context.Context) (Response[T], error) {
		v, err := fn(ctx)
		return Response[T]{Data: v}, err
	}
}

type FetchOptions struct {
	// TTL overrides the cache default when positive.
	TTL time.Duration
	// RespectFreshness caps the TTL by a max-age directive. It never extends it.
	RespectFreshness bool
}

type Option func(*settings)

type settings struct {
	name       string
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

func WithName(name string) Option { return func(s *settings) { s.name = name } }

func WithMaxEntries(n int) Option { return func(s *settings) { s.maxEntries = n } }

func WithDefaultTTL(d time.Duration) Option { return func(s *settings) { s.defaultTTL = d } }

func WithClock(now func() time.Time) Option { return func(s *settings) { s.now = now } }

func WithLogger(l *slog.Logger) Option { return func(s *settings) { s.logger = l } }

type Cache[T any] struct {
	name       string
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[string]Entry[T]
	seq     uint64

	flight singleflight.Group
}

func New[T any](opts ...Option) *Cache[T] {
	s := settings{
		name:       "default",
		maxEntries: DefaultMaxEntries,
		defaultTTL: DefaultTTL,
		now:        time.Now,
	}
	for _, o := range opts {
		o(&s)
	}
	if s.maxEntries <= 0 {
		s.maxEntries = DefaultMaxEntries
	}
	if s.defaultTTL <= 0 {
		s.defaultTTL = DefaultTTL
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return &Cache[T]{
		name:       s.name,
		maxEntries: s.maxEntries,
		defaultTTL: s.defaultTTL,
		now:        s.now,
		logger:     s.logger,
		entries:    make(map[string]Entry[T]),
	}
}

// GetOrFetch returns the live entry for key, or runs producer once for every
// overlapping caller and caches a non-nil result. A caller whose ctx ends
// stops waiting, but the producer keeps running and its result is cached
// for the next caller. Producer errors are returned and never cached.
func (c *Cache[T]) GetOrFetch(ctx context.Context, key string, producer Producer[T], opts FetchOptions) (T, error) {
	if v, ok := c.Get(key); ok {
		observability.IncCacheHit(c.name)
		return v, nil
	}

	// led is written only by the flight this caller started, before its
	// result is delivered on ch.
	led := false
	ch := c.flight.DoChan(key, func() (any, error) {
		led = true
		// a flight that finished between our miss and DoChan already stored it
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		return c.produce(context.WithoutCancel(ctx), key, producer, opts)
	})

	select {
	case <-ctx.Done():
		observability.IncCacheMiss(c.name)
		var zero T
		return zero, fmt.Errorf("resultcache %s: wait for %q: %w", c.name, key, ctx.Err())
	case res := <-ch:
		if led {
			observability.IncCacheMiss(c.name)
		} else {
			observability.IncCacheCoalesced(c.name)
		}
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	}
}

func (c *Cache[T]) produce(ctx context.Context, key string, producer Producer[T], opts FetchOptions) (T, error) {
	start := time.Now()
	resp, err := producer(ctx)
	observability.ObserveProducer(c.name, err, time.Since(start).Seconds())
	if err != nil {
		var zero T
		return zero, err
	}
	if isNil(resp.Data) {
		c.logger.DebugContext(ctx, "producer returned no data; not caching", "cache", c.name, "key", key)
		return resp.Data, nil
	}

	ttl := c.resolveTTL(opts, resp.Freshness)
	if ttl > 0 {
		c.Set(key, resp.Data, ttl)
	}
	return resp.Data, nil
}

func (c *Cache[T]) resolveTTL(opts FetchOptions, freshness string) time.Duration {
	ttl := c.defaultTTL
	if opts.TTL > 0 {
		ttl = opts.TTL
	}
	if opts.RespectFreshness && freshness != "" {
		ttl = CapTTL(ttl, freshness)
	}
	return ttl
}

// Get returns a live entry's value. Expired entries are dropped on access.
func (c *Cache[T]) Get(key string) (T, bool) {
	e, ok := c.Entry(key)
	return e.Data, ok
}

func (c *Cache[T]) Entry(key string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry[T]{}, false
	}
	if !c.now().Before(e.ExpiresAt) {
		delete(c.entries, key)
		return Entry[T]{}, false
	}
	return e, true
}

// Set stores v under key, replacing any previous entry. A non-positive ttl
// means the cache default.
func (c *Cache[T]) Set(key string, v T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.seq++
	c.entries[key] = Entry[T]{Data: v, Timestamp: now, ExpiresAt: now.Add(ttl), seq: c.seq}
}

func (c *Cache[T]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

func (c *Cache[T]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Entry[T])
	c.mu.Unlock()
}

func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[T]) evictOldestLocked() {
	var (
		oldestKey string
		oldest    Entry[T]
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.Timestamp.Before(oldest.Timestamp) ||
			(e.Timestamp.Equal(oldest.Timestamp) && e.seq < oldest.seq) {
			oldestKey, oldest, found = k, e, true
		}
	}
	if !found {
		return
	}
	delete(c.entries, oldestKey)
	observability.IncCacheEviction(c.name)
	c.logger.Debug("evicted oldest entry", "cache", c.name, "key", oldestKey)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
