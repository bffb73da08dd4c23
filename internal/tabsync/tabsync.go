// Package tabsync keeps a counter store in step with other views of the same
// storage and with count events published on the in-page bus.
package tabsync

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/storefront/internal/counter"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
	"github.com/utafrali/storefront/internal/storage"
)

var changesApplied = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storefront_agent_tab_sync_changes_total",
		Help: "Storage and bus changes seen by cross-tab sync, by source and result.",
	},
	[]string{"source", "result"},
)

// Syncer forwards storage changes and bus events to a counter.RemoteTarget.
// Storage changes apply without persisting; bus events go through SetCount.
type Syncer struct {
	backend storage.Backend
	bus     *event.Bus
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	unsubs  []func()
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ counter.Syncer = (*Syncer)(nil)

// New creates a syncer. bus may be nil.
func New(backend storage.Backend, bus *event.Bus, logger *slog.Logger) *Syncer {
	return &Syncer{backend: backend, bus: bus, logger: logger}
}

// Start subscribes to the bus and watches storage until ctx is done or Close
// is called. Bus subscriptions stay in place even when the storage watch
// cannot be opened; that error is returned.
func (s *Syncer) Start(ctx context.Context, target counter.RemoteTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true

	if s.bus != nil {
		for _, k := range domain.Kinds {
			kind := k
			s.unsubs = append(s.unsubs, s.bus.Subscribe(event.TopicFor(kind), func(_ context.Context, ev event.Event) {
				changesApplied.WithLabelValues("bus", "applied").Inc()
				target.SetCount(kind, ev.Payload.Count)
			}))
		}
	}

	ctx, s.cancel = context.WithCancel(ctx)
	changes, err := s.backend.Watch(ctx)
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ev := range changes {
			s.apply(ctx, target, ev)
		}
	}()
	return nil
}

func (s *Syncer) apply(ctx context.Context, target counter.RemoteTarget, ev storage.ChangeEvent) {
	kind, ok := domain.KindForKey(ev.Key)
	if !ok {
		return
	}
	if ev.Removed() || domain.IsSentinel(ev.NewValue) {
		changesApplied.WithLabelValues("storage", "skipped").Inc()
		return
	}
	n, ok := domain.DecodeStoredCount(ev.NewValue)
	if !ok {
		changesApplied.WithLabelValues("storage", "unreadable").Inc()
		s.logger.DebugContext(ctx, "ignoring unreadable storage change",
			slog.String("key", ev.Key),
			slog.String("value", ev.NewValue),
		)
		return
	}
	changesApplied.WithLabelValues("storage", "applied").Inc()
	target.ApplyRemote(kind, domain.NormalizeCount(n))
}

// Close unsubscribes from the bus and stops watching storage.
func (s *Syncer) Close() error {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	cancel := s.cancel
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return nil
}
