// Package cache keeps badge counts in a storage.Backend with a time-to-live.
// Anything that is not a fresh, well-formed entry reads
// as the caller's default. Writes are queued on a single writer goroutine so
// callers never wait on storage.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/storage"
)

// DefaultTTL is how long a written count stays fresh.
const DefaultTTL = 5 * time.Minute

var (
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_agent_cache_hits_total",
			Help: "Count reads served from a fresh cache entry.",
		},
		[]string{"key"},
	)
	cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_agent_cache_misses_total",
			Help: "Count reads that fell back to the default value.",
		},
		[]string{"key", "reason"},
	)
	cacheExpirations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_agent_cache_expirations_total",
			Help: "Entries evicted on read because they outlived the TTL.",
		},
		[]string{"key"},
	)
)

// Miss reasons.
const (
	reasonMissing  = "missing"
	reasonSentinel = "sentinel"
	reasonCorrupt  = "corrupt"
	reasonExpired  = "expired"
	reasonBackend  = "backend_error"
)

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

type opKind int

const (
	opSet opKind = iota
	opRemove
	opMarker
)

type op struct {
	kind  opKind
	key   string
	value string
	done  chan struct{}
}

// Cache is a TTL cache of counts over a storage backend.
type Cache struct {
	backend storage.Backend
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	queue   []op
	pending map[string]*string
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

// New creates a cache and starts its writer goroutine. Close must be called
// to stop it.
func New(backend storage.Backend, ttl time.Duration, logger *slog.Logger, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		backend: backend,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		pending: make(map[string]*string),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.run()
	return c
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached count for key or def when the entry is missing,
// a placeholder, unreadable or expired. Unreadable and expired entries are
// removed.
func (c *Cache) Get(ctx context.Context, key string, def domain.Count) domain.Count {
	raw, ok, err := c.read(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed, using default",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		cacheMisses.WithLabelValues(key, reasonBackend).Inc()
		return def
	}
	if !ok {
		cacheMisses.WithLabelValues(key, reasonMissing).Inc()
		return def
	}
	if domain.IsSentinel(raw) {
		cacheMisses.WithLabelValues(key, reasonSentinel).Inc()
		return def
	}

	// Bare numbers predate the timestamped format and never expire.
	if domain.IsLegacyNumber(raw) {
		n, _ := domain.DecodeStoredCount(raw)
		cacheHits.WithLabelValues(key).Inc()
		return n
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.logger.Debug("discarding unreadable cache entry",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		c.enqueue(op{kind: opRemove, key: key})
		cacheMisses.WithLabelValues(key, reasonCorrupt).Inc()
		return def
	}

	if entry.Expired(c.now(), c.ttl) {
		c.logger.Debug("cache entry expired",
			slog.String("key", key),
			slog.Time("written_at", entry.WrittenAt()),
		)
		c.enqueue(op{kind: opRemove, key: key})
		cacheExpirations.WithLabelValues(key).Inc()
		cacheMisses.WithLabelValues(key, reasonExpired).Inc()
		return def
	}

	cacheHits.WithLabelValues(key).Inc()
	return entry.Count()
}

// read prefers a queued write over the backend so a Get right after a Set
// sees the new value.
func (c *Cache) read(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	if v, queued := c.pending[key]; queued {
		c.mu.Unlock()
		if v == nil {
			return "", false, nil
		}
		return *v, true, nil
	}
	c.mu.Unlock()
	return c.backend.Get(ctx, key)
}

// Set queues a write of {value, timestamp: now}. Negative values are stored
// as 0. It never blocks on storage.
func (c *Cache) Set(key string, value domain.Count) {
	raw, err := json.Marshal(domain.NewCacheEntry(value, c.now()))
	if err != nil {
		c.logger.Error("encode cache entry", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	c.enqueue(op{kind: opSet, key: key, value: string(raw)})
}

// Remove deletes key after every previously queued write has been applied.
// Failures are logged, never returned.
func (c *Cache) Remove(ctx context.Context, key string) {
	c.enqueue(op{kind: opRemove, key: key})
	c.Flush(ctx)
}

// Flush waits until every write queued before the call has been applied or
// ctx is done.
func (c *Cache) Flush(ctx context.Context) {
	done := make(chan struct{})
	if !c.enqueue(op{kind: opMarker, done: done}) {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Close applies queued writes and stops the writer.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.stopped
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.signal()
	<-c.stopped
	return nil
}

func (c *Cache) enqueue(o op) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if o.kind != opMarker {
			c.logger.Warn("cache closed, dropping write", slog.String("key", o.key))
		}
		return false
	}
	c.queue = append(c.queue, o)
	switch o.kind {
	case opSet:
		v := o.value
		c.pending[o.key] = &v
	case opRemove:
		c.pending[o.key] = nil
	}
	c.mu.Unlock()
	c.signal()
	return true
}

func (c *Cache) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Cache) run() {
	defer close(c.stopped)
	for range c.wake {
		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				closed := c.closed
				c.mu.Unlock()
				if closed {
					return
				}
				break
			}
			next := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			c.apply(next)
		}
	}
}

func (c *Cache) apply(o op) {
	ctx := context.Background()
	var err error
	switch o.kind {
	case opMarker:
		close(o.done)
		return
	case opSet:
		err = c.backend.Set(ctx, o.key, o.value)
	case opRemove:
		err = c.backend.Remove(ctx, o.key)
	}
	if err != nil {
		c.logger.Warn("cache write failed",
			slog.String("key", o.key),
			slog.String("error", err.Error()),
		)
	}

	c.mu.Lock()
	c.clearPending(o)
	c.mu.Unlock()
}

// clearPending drops the read-through entry once the last queued write for
// the key has reached the backend. Callers hold c.mu.
func (c *Cache) clearPending(o op) {
	for _, q := range c.queue {
		if q.key == o.key && q.kind != opMarker {
			return
		}
	}
	delete(c.pending, o.key)
}
