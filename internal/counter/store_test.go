package counter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/utafrali/storefront/internal/api"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCache struct {
	mu     sync.Mutex
	values map[string]domain.Count
	sets   []string
}

func newFakeCache(values map[string]domain.Count) *fakeCache {
	if values == nil {
		values = map[string]domain.Count{}
	}
	return &fakeCache{values: values}
}

func (c *fakeCache) Get(_ context.Context, key string, def domain.Count) domain.Count {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.values[key]; ok {
		return n
	}
	return def
}

func (c *fakeCache) Set(key string, value domain.Count) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	c.sets = append(c.sets, key)
}

func (c *fakeCache) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sets)
}

type fakeFetcher struct {
	mu      sync.Mutex
	results map[domain.Kind]api.FetchResult
	calls   int
}

func (f *fakeFetcher) Fetch(_ context.Context, kind domain.Kind) api.FetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.results[kind]
}

func (f *fakeFetcher) set(kind domain.Kind, r api.FetchResult) {
	f.mu.Lock()
	f.results[kind] = r
	f.mu.Unlock()
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type paint struct {
	kind      domain.Kind
	n         domain.Count
	immediate bool
}

type fakePainter struct {
	mu     sync.Mutex
	paints []paint
}

func (p *fakePainter) Update(kind domain.Kind, n domain.Count) {
	p.mu.Lock()
	p.paints = append(p.paints, paint{kind, n, false})
	p.mu.Unlock()
}

func (p *fakePainter) Paint(kind domain.Kind, n domain.Count) {
	p.mu.Lock()
	p.paints = append(p.paints, paint{kind, n, true})
	p.mu.Unlock()
}

func (p *fakePainter) all() []paint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]paint(nil), p.paints...)
}

type fakeSyncer struct {
	mu      sync.Mutex
	target  RemoteTarget
	err     error
	started int
	closed  int
}

func (s *fakeSyncer) Start(_ context.Context, target RemoteTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = target
	s.started++
	return s.err
}

func (s *fakeSyncer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// slowConfig keeps the background loop from firing during a test.
var slowConfig = Config{InitialRefreshDelay: time.Hour, RefreshInterval: time.Hour, RefreshDebounce: time.Hour}

func newTestStore(cfg Config, cache *fakeCache, opts ...Option) (*Store, *fakeFetcher, *fakePainter) {
	fetcher := &fakeFetcher{results: map[domain.Kind]api.FetchResult{}}
	painter := &fakePainter{}
	return New(cfg, cache, fetcher, painter, logger.Discard(), opts...), fetcher, painter
}

func TestStore_InitHydratesAndPaints(t *testing.T) {
	cache := newFakeCache(map[string]domain.Count{domain.KeyCartCount: 3, domain.KeyWishlistCount: -2})
	syncer := &fakeSyncer{}
	s, fetcher, painter := newTestStore(slowConfig, cache, WithSyncer(syncer))
	defer s.Close()

	assert.Equal(t, StateUninitialized, s.State())
	s.Init(context.Background())
	s.Init(context.Background())

	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, domain.Snapshot{Cart: 3, Wishlist: 0}, s.Snapshot())
	assert.Equal(t, []paint{
		{domain.KindCart, 3, true},
		{domain.KindWishlist, 0, true},
	}, painter.all())
	assert.Zero(t, fetcher.callCount())
	assert.Zero(t, cache.setCount())
	assert.Equal(t, 1, syncer.started)
	assert.Same(t, s, syncer.target)
}

func TestStore_InitSurvivesSyncFailure(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("watch failed")}
	s, _, _ := newTestStore(slowConfig, newFakeCache(nil), WithSyncer(syncer))
	s.Init(context.Background())
	assert.Equal(t, StateReady, s.State())

	require.NoError(t, s.Close())
	assert.Equal(t, 1, syncer.closed)
	assert.Equal(t, StateClosed, s.State())
}

func TestStore_SetCountNormalizesPaintsAndPersists(t *testing.T) {
	cache := newFakeCache(nil)
	s, fetcher, painter := newTestStore(slowConfig, cache)
	defer s.Close()

	s.SetCount(domain.KindCart, 5)
	s.SetCount(domain.KindWishlist, -1)

	assert.Equal(t, domain.Snapshot{Cart: 5, Wishlist: 0}, s.Snapshot())
	assert.Equal(t, 5, cache.Get(context.Background(), domain.KeyCartCount, -1))
	assert.Equal(t, 0, cache.Get(context.Background(), domain.KeyWishlistCount, -1))
	assert.Equal(t, []paint{
		{domain.KindCart, 5, false},
		{domain.KindWishlist, 0, false},
	}, painter.all())
	assert.Zero(t, fetcher.callCount())
}

func TestStore_IncrementDecrement(t *testing.T) {
	cache := newFakeCache(nil)
	s, _, _ := newTestStore(slowConfig, cache)
	defer s.Close()

	s.Decrement(domain.KindCart)
	assert.Equal(t, 0, s.Count(domain.KindCart))
	assert.Zero(t, cache.setCount())

	s.Increment(domain.KindCart)
	s.Increment(domain.KindCart)
	s.Decrement(domain.KindCart)
	s.Increment(domain.KindWishlist)

	assert.Equal(t, domain.Snapshot{Cart: 1, Wishlist: 1}, s.Snapshot())
	assert.Equal(t, 4, cache.setCount())
}

func TestStore_ConcurrentIncrements(t *testing.T) {
	s, _, _ := newTestStore(slowConfig, newFakeCache(nil))
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Increment(domain.KindWishlist)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, s.Count(domain.KindWishlist))
}

// gatedPainter holds the first Update until release is closed.
type gatedPainter struct {
	fakePainter
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (p *gatedPainter) Update(kind domain.Kind, n domain.Count) {
	p.once.Do(func() {
		close(p.entered)
		<-p.release
	})
	p.fakePainter.Update(kind, n)
}

func TestStore_ConcurrentSettersPersistInStateOrder(t *testing.T) {
	cache := newFakeCache(nil)
	painter := &gatedPainter{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(slowConfig, cache, &fakeFetcher{results: map[domain.Kind]api.FetchResult{}}, painter, logger.Discard())
	defer s.Close()

	first := make(chan struct{})
	go func() {
		defer close(first)
		s.Increment(domain.KindCart)
	}()
	<-painter.entered

	second := make(chan struct{})
	go func() {
		defer close(second)
		s.Increment(domain.KindCart)
	}()

	select {
	case <-second:
		t.Fatal("second increment finished while the first was still painting")
	case <-time.After(30 * time.Millisecond):
	}

	close(painter.release)
	<-first
	<-second

	assert.Equal(t, 2, s.Count(domain.KindCart))
	assert.Equal(t, 2, cache.Get(context.Background(), domain.KeyCartCount, -1))
	paints := painter.all()
	require.Len(t, paints, 2)
	assert.Equal(t, 1, paints[0].n)
	assert.Equal(t, 2, paints[1].n)
}

func TestStore_PipelinesAreIndependentPerKind(t *testing.T) {
	cache := newFakeCache(nil)
	painter := &gatedPainter{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(slowConfig, cache, &fakeFetcher{results: map[domain.Kind]api.FetchResult{}}, painter, logger.Discard())
	defer s.Close()

	cart := make(chan struct{})
	go func() {
		defer close(cart)
		s.Increment(domain.KindCart)
	}()
	<-painter.entered

	s.SetCount(domain.KindWishlist, 4)
	assert.Equal(t, 4, cache.Get(context.Background(), domain.KeyWishlistCount, -1))

	close(painter.release)
	<-cart
	assert.Equal(t, 1, s.Count(domain.KindCart))
}

func TestStore_UnknownKindIgnored(t *testing.T) {
	cache := newFakeCache(nil)
	s, _, painter := newTestStore(slowConfig, cache)
	defer s.Close()

	s.SetCount(domain.Kind("orders"), 3)
	s.ApplyRemote(domain.Kind("orders"), 3)
	assert.Empty(t, painter.all())
	assert.Zero(t, cache.setCount())
}

func TestStore_ApplyRemoteDoesNotPersist(t *testing.T) {
	cache := newFakeCache(nil)
	s, fetcher, painter := newTestStore(slowConfig, cache)
	defer s.Close()

	s.ApplyRemote(domain.KindCart, 7)

	assert.Equal(t, 7, s.Count(domain.KindCart))
	assert.Equal(t, []paint{{domain.KindCart, 7, false}}, painter.all())
	assert.Zero(t, cache.setCount())
	assert.Zero(t, fetcher.callCount())
}

func TestStore_RefreshAppliesFreshCounts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := newFakeCache(nil)
	s, fetcher, painter := newTestStore(slowConfig, cache, WithClock(func() time.Time { return now }))
	defer s.Close()

	fetcher.set(domain.KindCart, api.FetchResult{Count: 4, Fresh: true})
	fetcher.set(domain.KindWishlist, api.FetchResult{Count: 0, Fresh: true})
	s.Refresh(context.Background())

	snap := s.Snapshot()
	assert.Equal(t, 4, snap.Cart)
	assert.Equal(t, 0, snap.Wishlist)
	assert.Equal(t, now, snap.LastCartUpdate)
	assert.Equal(t, now, snap.LastWishlistUpdate)
	assert.Equal(t, 2, cache.setCount())
	assert.Equal(t, []paint{{domain.KindCart, 4, false}}, painter.all())
}

func TestStore_RefreshKeepsStateOnStaleResult(t *testing.T) {
	cache := newFakeCache(nil)
	s, fetcher, _ := newTestStore(slowConfig, cache)
	defer s.Close()

	s.SetCount(domain.KindCart, 6)
	fetcher.set(domain.KindCart, api.FetchResult{Count: 0})
	s.Refresh(context.Background())

	snap := s.Snapshot()
	assert.Equal(t, 6, snap.Cart)
	assert.True(t, snap.LastCartUpdate.IsZero())
	assert.Equal(t, 2, fetcher.callCount())
}

func TestStore_BackgroundRefresh(t *testing.T) {
	cfg := Config{InitialRefreshDelay: 10 * time.Millisecond, RefreshInterval: 15 * time.Millisecond, RefreshDebounce: time.Hour}
	s, fetcher, _ := newTestStore(cfg, newFakeCache(nil))
	fetcher.set(domain.KindCart, api.FetchResult{Count: 2, Fresh: true})

	s.Init(context.Background())
	require.Eventually(t, func() bool { return fetcher.callCount() >= 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, s.Count(domain.KindCart))

	require.NoError(t, s.Close())
	calls := fetcher.callCount()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, calls, fetcher.callCount())
}

func TestStore_BackgroundRefreshStopsWithContext(t *testing.T) {
	cfg := Config{InitialRefreshDelay: time.Hour, RefreshInterval: time.Hour}
	s, _, _ := newTestStore(cfg, newFakeCache(nil))

	ctx, cancel := context.WithCancel(context.Background())
	s.Init(ctx)
	cancel()
	s.wg.Wait()
	require.NoError(t, s.Close())
}

func TestStore_RequestRefreshIsDebounced(t *testing.T) {
	cfg := Config{InitialRefreshDelay: time.Hour, RefreshInterval: time.Hour, RefreshDebounce: 20 * time.Millisecond}
	s, fetcher, _ := newTestStore(cfg, newFakeCache(nil))
	defer s.Close()
	s.Init(context.Background())

	for i := 0; i < 5; i++ {
		s.RequestRefresh()
	}
	require.Eventually(t, func() bool { return fetcher.callCount() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 2, fetcher.callCount())
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	syncer := &fakeSyncer{}
	s, _, _ := newTestStore(slowConfig, newFakeCache(nil), WithSyncer(syncer))
	s.Init(context.Background())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, syncer.closed)

	s.Init(context.Background())
	assert.Equal(t, StateClosed, s.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "initializing", StateInitializing.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}
