// Package wishlist keeps a wishlist in client storage for shoppers who are
// not logged in and uploads it once they are.
package wishlist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
	"github.com/utafrali/storefront/internal/notify"
	"github.com/utafrali/storefront/internal/storage"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/validator"
)

// Syncer uploads items to the shopper's account.
type Syncer interface {
	SyncWishlist(ctx context.Context, items []domain.WishlistItem) (*domain.MutationResult, error)
}

// Store is the offline wishlist persisted under domain.KeyOfflineWishlist.
// Every mutation publishes wishlist:updated with the new item count.
type Store struct {
	backend  storage.Backend
	bus      *event.Bus
	syncer   Syncer
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an offline wishlist. bus, syncer and notifier may be nil.
func New(backend storage.Backend, bus *event.Bus, syncer Syncer, notifier notify.Notifier, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		bus:      bus,
		syncer:   syncer,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// itemInput is validated before an item is stored.
type itemInput struct {
	Key  string `json:"id" validate:"required"`
	Name string `json:"name" validate:"max=500"`
}

// load reads the stored wishlist. A missing or unreadable value is an empty
// wishlist. Callers hold s.mu.
func (s *Store) load(ctx context.Context) (*domain.OfflineWishlist, error) {
	raw, ok, err := s.backend.Get(ctx, domain.KeyOfflineWishlist)
	if err != nil {
		return nil, fmt.Errorf("load offline wishlist: %w", err)
	}
	w := domain.NewOfflineWishlist()
	if !ok || strings.TrimSpace(raw) == "" {
		return w, nil
	}
	if err := json.Unmarshal([]byte(raw), w); err != nil {
		s.logger.WarnContext(ctx, "discarding unreadable offline wishlist", slog.String("error", err.Error()))
		return domain.NewOfflineWishlist(), nil
	}
	if w.Items == nil {
		w.Items = make(map[string]domain.WishlistItem)
	}
	w.Count = len(w.Items)
	return w, nil
}

// save stamps and writes w. Callers hold s.mu.
func (s *Store) save(ctx context.Context, w *domain.OfflineWishlist) error {
	w.Touch(s.now())
	payload, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode offline wishlist: %w", err)
	}
	if err := s.backend.Set(ctx, domain.KeyOfflineWishlist, string(payload)); err != nil {
		return fmt.Errorf("save offline wishlist: %w", err)
	}
	return nil
}

func (s *Store) publish(ctx context.Context, action string, productID domain.ID, count int) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, event.TopicWishlistUpdated, domain.BusPayload{
		Count:     count,
		Action:    action,
		ProductID: productID,
	})
}

// Add stores item. It reports false when the item is already present.
func (s *Store) Add(ctx context.Context, item domain.WishlistItem) (bool, error) {
	if err := validator.Validate(itemInput{Key: item.Key(), Name: item.Name}); err != nil {
		return false, err
	}

	s.mu.Lock()
	w, err := s.load(ctx)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	key := item.Key()
	if _, exists := w.Items[key]; exists {
		s.mu.Unlock()
		return false, nil
	}
	if item.ID == "" {
		item.ID = domain.ID(key)
	}
	if item.AddedAt == "" {
		item.AddedAt = s.now().UTC().Format(time.RFC3339Nano)
	}
	w.Items[key] = item
	if err := s.save(ctx, w); err != nil {
		s.mu.Unlock()
		return false, err
	}
	count := w.Count
	s.mu.Unlock()

	s.publish(ctx, domain.ActionAdd, item.ID, count)
	return true, nil
}

// Remove drops the item stored under id. It reports false when there was
// nothing to remove.
func (s *Store) Remove(ctx context.Context, id domain.ID) (bool, error) {
	if id == "" {
		return false, apperrors.InvalidInput("wishlist item id is required")
	}

	s.mu.Lock()
	w, err := s.load(ctx)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	if _, exists := w.Items[string(id)]; !exists {
		s.mu.Unlock()
		return false, nil
	}
	delete(w.Items, string(id))
	if err := s.save(ctx, w); err != nil {
		s.mu.Unlock()
		return false, err
	}
	count := w.Count
	s.mu.Unlock()

	s.publish(ctx, domain.ActionRemove, id, count)
	return true, nil
}

// Toggle removes item when present and adds it otherwise. It reports whether
// the item is in the wishlist afterwards.
func (s *Store) Toggle(ctx context.Context, item domain.WishlistItem) (bool, error) {
	in, err := s.Contains(ctx, domain.ID(item.Key()))
	if err != nil {
		return false, err
	}
	if in {
		_, err := s.Remove(ctx, domain.ID(item.Key()))
		return false, err
	}
	_, err = s.Add(ctx, item)
	return err == nil, err
}

// Contains reports whether id is stored.
func (s *Store) Contains(ctx context.Context, id domain.ID) (bool, error) {
	if id == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	_, ok := w.Items[string(id)]
	return ok, nil
}

// Count returns the number of stored items.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	return w.Count, nil
}

// Items returns the stored items, oldest first.
func (s *Store) Items(ctx context.Context) ([]domain.WishlistItem, error) {
	s.mu.Lock()
	w, err := s.load(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	items := make([]domain.WishlistItem, 0, len(w.Items))
	for _, it := range w.Items {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].AddedAt != items[j].AddedAt {
			return items[i].AddedAt < items[j].AddedAt
		}
		return items[i].Key() < items[j].Key()
	})
	return items, nil
}

// Clear empties the wishlist.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	w := domain.NewOfflineWishlist()
	err := s.save(ctx, w)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publish(ctx, domain.ActionClear, "", 0)
	return nil
}

// SyncWithServer uploads the stored items to the shopper's account. An
// empty wishlist is not sent. Failures are logged and returned without a
// toast; success shows an info toast. The local copy is kept either way.
func (s *Store) SyncWithServer(ctx context.Context) error {
	if s.syncer == nil {
		return nil
	}
	items, err := s.Items(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	res, err := s.syncer.SyncWishlist(ctx, items)
	if err != nil {
		s.logger.WarnContext(ctx, "offline wishlist sync failed",
			slog.Int("items", len(items)),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.logger.InfoContext(ctx, "offline wishlist synced", slog.Int("items", len(items)))
	if s.notifier != nil && res != nil && res.Success {
		s.notifier.Notify(ctx, notify.Info("Success", "Wishlist synchronized with your account"))
	}
	return nil
}
