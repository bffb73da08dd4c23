// Package counter owns the cart and wishlist badge counts of one page: it
// hydrates them from the cache, keeps them fresh from the storefront and
// funnels every change through paint and persist.
package counter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/storefront/internal/api"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/debounce"
)

// Defaults for Config.
const (
	DefaultInitialRefreshDelay = time.Second
	DefaultRefreshInterval     = 60 * time.Second
	DefaultRefreshDebounce     = 500 * time.Millisecond
)

var (
	badgeCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storefront_agent_badge_count",
			Help: "Current badge count by kind.",
		},
		[]string{"kind"},
	)
	refreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_agent_refreshes_total",
			Help: "Per-kind refresh results: fresh from the server or stale from the cache.",
		},
		[]string{"kind", "result"},
	)
)

// State is the lifecycle stage of a Store.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Cache persists counts between page loads.
type Cache interface {
	Get(ctx context.Context, key string, def domain.Count) domain.Count
	Set(key string, value domain.Count)
}

// Fetcher loads counts from the storefront.
type Fetcher interface {
	Fetch(ctx context.Context, kind domain.Kind) api.FetchResult
}

// Painter shows counts on the page.
type Painter interface {
	Update(kind domain.Kind, n domain.Count)
	Paint(kind domain.Kind, n domain.Count)
}

// RemoteTarget receives counts that changed somewhere else.
type RemoteTarget interface {
	ApplyRemote(kind domain.Kind, n domain.Count)
	SetCount(kind domain.Kind, n domain.Count)
}

// Syncer feeds changes from other tabs and in-page events into the store.
type Syncer interface {
	Start(ctx context.Context, target RemoteTarget) error
	Close() error
}

// Config holds refresh timing.
type Config struct {
	InitialRefreshDelay time.Duration
	RefreshInterval     time.Duration
	RefreshDebounce     time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitialRefreshDelay <= 0 {
		c.InitialRefreshDelay = DefaultInitialRefreshDelay
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.RefreshDebounce <= 0 {
		c.RefreshDebounce = DefaultRefreshDebounce
	}
	return c
}

// Option configures a Store.
type Option func(*Store)

// WithSyncer starts s during Init.
func WithSyncer(s Syncer) Option {
	return func(st *Store) { st.syncer = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(st *Store) { st.now = now }
}

// Store holds the badge counts. Setters normalize, paint and persist; they
// never re-broadcast, so a change arriving from another tab or from the bus
// cannot loop back.
type Store struct {
	cfg     Config
	cache   Cache
	fetcher Fetcher
	painter Painter
	syncer  Syncer
	logger  *slog.Logger
	now     func() time.Time

	refreshReq *debounce.Debouncer[struct{}]

	// pipes serialize state, paint and persist per kind so the badge and
	// the cache see changes in the order the state took them. Taken before mu.
	pipes map[domain.Kind]*sync.Mutex

	mu         sync.Mutex
	state      State
	counts     map[domain.Kind]domain.Count
	lastUpdate map[domain.Kind]time.Time
	runCtx     context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a store. Nothing runs until Init.
func New(cfg Config, cache Cache, fetcher Fetcher, painter Painter, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		cfg:        cfg.withDefaults(),
		cache:      cache,
		fetcher:    fetcher,
		painter:    painter,
		logger:     logger,
		now:        time.Now,
		counts:     make(map[domain.Kind]domain.Count, len(domain.Kinds)),
		lastUpdate: make(map[domain.Kind]time.Time, len(domain.Kinds)),
		runCtx:     context.Background(),
		pipes:      make(map[domain.Kind]*sync.Mutex, len(domain.Kinds)),
	}
	for _, k := range domain.Kinds {
		s.pipes[k] = &sync.Mutex{}
	}
	for _, opt := range opts {
		opt(s)
	}
	s.refreshReq = debounce.New(s.cfg.RefreshDebounce, func(struct{}) {
		s.Refresh(s.context())
	})
	return s
}

// Init hydrates counts from the cache, paints them, starts sync and
// schedules refreshes: one after InitialRefreshDelay, then one every
// RefreshInterval until ctx is done or Close is called. Only the first call
// does anything.
func (s *Store) Init(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return
	}
	s.state = StateInitializing
	s.runCtx, s.cancel = context.WithCancel(ctx)
	runCtx := s.runCtx
	s.mu.Unlock()

	for _, k := range domain.Kinds {
		n := domain.NormalizeCount(s.cache.Get(ctx, k.StorageKey(), 0))
		unlock := s.pipeline(k)
		s.mu.Lock()
		s.counts[k] = n
		s.mu.Unlock()
		badgeCount.WithLabelValues(string(k)).Set(float64(n))
		s.painter.Paint(k, n)
		unlock()
	}

	if s.syncer != nil {
		if err := s.syncer.Start(runCtx, s); err != nil {
			s.logger.WarnContext(ctx, "cross-tab sync unavailable", slog.String("error", err.Error()))
		}
	}

	s.wg.Add(1)
	go s.refreshLoop(runCtx)

	s.mu.Lock()
	if s.state == StateInitializing {
		s.state = StateReady
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "counter store initialized",
		slog.Int("cart", snap.Cart),
		slog.Int("wishlist", snap.Wishlist),
	)
}

func (s *Store) refreshLoop(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(s.cfg.InitialRefreshDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	s.Refresh(ctx)

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// State returns the lifecycle stage.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetCount sets the count for kind.
func (s *Store) SetCount(kind domain.Kind, n domain.Count) {
	s.change(kind, func(domain.Count) (domain.Count, bool) {
		return domain.NormalizeCount(n), true
	})
}

// Increment adds one to kind.
func (s *Store) Increment(kind domain.Kind) {
	s.change(kind, func(cur domain.Count) (domain.Count, bool) {
		return cur + 1, true
	})
}

// Decrement subtracts one from kind. It does nothing at zero.
func (s *Store) Decrement(kind domain.Kind) {
	s.change(kind, func(cur domain.Count) (domain.Count, bool) {
		if cur <= 0 {
			return cur, false
		}
		return cur - 1, true
	})
}

// pipeline locks the pipe of a valid kind and returns its unlock.
func (s *Store) pipeline(kind domain.Kind) (unlock func()) {
	mu := s.pipes[kind]
	mu.Lock()
	return mu.Unlock
}

// change computes the next count, paints and persists it in one step of the
// kind's pipeline.
func (s *Store) change(kind domain.Kind, next func(cur domain.Count) (domain.Count, bool)) {
	if !kind.Valid() {
		s.logger.Warn("ignoring change for unknown kind", slog.String("kind", string(kind)))
		return
	}
	defer s.pipeline(kind)()

	s.mu.Lock()
	n, ok := next(s.counts[kind])
	if ok {
		s.counts[kind] = n
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	badgeCount.WithLabelValues(string(kind)).Set(float64(n))
	s.painter.Update(kind, n)
	s.cache.Set(kind.StorageKey(), n)
}

// ApplyRemote takes a count written elsewhere: state and paint only, no
// persist, no fetch.
func (s *Store) ApplyRemote(kind domain.Kind, n domain.Count) {
	if !kind.Valid() {
		return
	}
	n = domain.NormalizeCount(n)
	defer s.pipeline(kind)()

	s.mu.Lock()
	s.counts[kind] = n
	s.mu.Unlock()

	badgeCount.WithLabelValues(string(kind)).Set(float64(n))
	s.painter.Update(kind, n)
}

// Refresh fetches both counts concurrently. Fresh counts are applied,
// persisted and stamped. When a fetch falls back to the cache the in-memory
// count is kept. Failures are logged by the fetcher and never returned.
func (s *Store) Refresh(ctx context.Context) {
	var g errgroup.Group
	for _, k := range domain.Kinds {
		kind := k
		g.Go(func() error {
			res := s.fetcher.Fetch(ctx, kind)
			if !res.Fresh {
				refreshes.WithLabelValues(string(kind), "stale").Inc()
				return nil
			}
			refreshes.WithLabelValues(string(kind), "fresh").Inc()
			s.applyFetched(kind, res.Count)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Store) applyFetched(kind domain.Kind, n domain.Count) {
	n = domain.NormalizeCount(n)
	defer s.pipeline(kind)()

	s.mu.Lock()
	changed := s.counts[kind] != n
	s.counts[kind] = n
	s.lastUpdate[kind] = s.now()
	s.mu.Unlock()

	badgeCount.WithLabelValues(string(kind)).Set(float64(n))
	if changed {
		s.painter.Update(kind, n)
	}
	s.cache.Set(kind.StorageKey(), n)
}

// RequestRefresh asks for a refresh. Requests within RefreshDebounce of each
// other collapse into one refresh after the last.
func (s *Store) RequestRefresh() {
	s.refreshReq.Call(struct{}{})
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() domain.Snapshot {
	return domain.Snapshot{
		Cart:               s.counts[domain.KindCart],
		Wishlist:           s.counts[domain.KindWishlist],
		LastCartUpdate:     s.lastUpdate[domain.KindCart],
		LastWishlistUpdate: s.lastUpdate[domain.KindWishlist],
	}
}

// Count returns the count for kind.
func (s *Store) Count(kind domain.Kind) domain.Count {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[kind]
}

func (s *Store) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

// Close stops the refresh loop, drops a pending refresh request and closes
// the syncer.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	cancel := s.cancel
	s.mu.Unlock()

	s.refreshReq.Stop()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	if s.syncer != nil {
		return s.syncer.Close()
	}
	return nil
}
