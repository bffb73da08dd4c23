// Package actions runs cart and wishlist mutations with optimistic badge
// updates: the count moves first, the storefront is asked second and a
// failure rolls the count back.
package actions

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
	"github.com/utafrali/storefront/internal/notify"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

var mutations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storefront_agent_mutations_total",
		Help: "Cart and wishlist mutations by action and outcome.",
	},
	[]string{"action", "outcome"},
)

// Mutation outcomes.
const (
	outcomeOK         = "ok"
	outcomeAssumed    = "assumed"
	outcomeRolledBack = "rolled_back"
	outcomeExpired    = "session_expired"
)

// API is the slice of the storefront client the actions call.
type API interface {
	AddToCart(ctx context.Context, productID domain.ID, quantity int) (*domain.MutationResult, error)
	UpdateCartItem(ctx context.Context, productID domain.ID, quantity int) (*domain.MutationResult, error)
	RemoveFromCart(ctx context.Context, productID domain.ID) (*domain.MutationResult, error)
	AddToWishlist(ctx context.Context, productID domain.ID) (*domain.MutationResult, error)
	RemoveFromWishlist(ctx context.Context, productID domain.ID) (*domain.MutationResult, error)
}

// Counter is the badge state the actions move.
type Counter interface {
	Count(kind domain.Kind) domain.Count
	SetCount(kind domain.Kind, n domain.Count)
	Increment(kind domain.Kind)
	Decrement(kind domain.Kind)
}

// Config holds action policy.
type Config struct {
	// AssumeSuccessOnServerError treats a 500 or an undecodable response to
	// an add as a success: the storefront often commits the item and then
	// fails rendering the reply.
	AssumeSuccessOnServerError bool
}

// Service runs item actions.
type Service struct {
	cfg      Config
	api      API
	counter  Counter
	notifier notify.Notifier
	bus      *event.Bus
	logger   *slog.Logger

	mu    sync.RWMutex
	icons map[domain.ID]bool
}

// New creates a Service. bus may be nil.
func New(cfg Config, api API, counter Counter, notifier notify.Notifier, bus *event.Bus, logger *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		api:      api,
		counter:  counter,
		notifier: notifier,
		bus:      bus,
		logger:   logger,
		icons:    make(map[domain.ID]bool),
	}
}

// step describes one mutation for run.
type step struct {
	action    string
	kind      domain.Kind
	productID domain.ID
	// optimistic moves the count before the call. nil leaves it alone.
	optimistic func()
	call       func(ctx context.Context) (*domain.MutationResult, error)
	// assumable marks adds that may be treated as successful on a 500.
	assumable  bool
	onSuccess  func()
	onRollback func()
	okToast    notify.Toast
	failTitle  string
	failMsg    string
}

func (s *Service) run(ctx context.Context, st step) error {
	prior := s.counter.Count(st.kind)
	if st.optimistic != nil {
		st.optimistic()
	}

	res, err := st.call(ctx)
	if err == nil {
		if n, ok := res.CountFor(st.kind); ok {
			s.counter.SetCount(st.kind, n)
		}
		if st.onSuccess != nil {
			st.onSuccess()
		}
		mutations.WithLabelValues(st.action, outcomeOK).Inc()
		s.notifier.Notify(ctx, st.okToast)
		s.publish(ctx, st)
		return nil
	}

	if st.assumable && s.cfg.AssumeSuccessOnServerError && probablySucceeded(err) {
		s.logger.WarnContext(ctx, "assuming mutation succeeded despite server error",
			slog.String("action", st.action),
			slog.String("product_id", st.productID.String()),
			slog.String("error", err.Error()),
		)
		if st.onSuccess != nil {
			st.onSuccess()
		}
		mutations.WithLabelValues(st.action, outcomeAssumed).Inc()
		s.notifier.Notify(ctx, st.okToast)
		s.publish(ctx, st)
		return nil
	}

	if st.onRollback != nil {
		st.onRollback()
	}

	// Expiry has already zeroed the counts and cleared their keys. They stay
	// cleared.
	if apperrors.IsSessionExpired(err) {
		mutations.WithLabelValues(st.action, outcomeExpired).Inc()
		return err
	}
	s.counter.SetCount(st.kind, prior)

	mutations.WithLabelValues(st.action, outcomeRolledBack).Inc()
	s.logger.WarnContext(ctx, "mutation failed, rolled back",
		slog.String("action", st.action),
		slog.String("product_id", st.productID.String()),
		slog.String("error", err.Error()),
	)
	s.notifier.Notify(ctx, notify.Error(st.failTitle, failureMessage(err, st.failMsg)))
	return err
}

func (s *Service) publish(ctx context.Context, st step) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, event.TopicFor(st.kind), domain.BusPayload{
		Count:     s.counter.Count(st.kind),
		Action:    st.action,
		ProductID: st.productID,
	})
}

// probablySucceeded reports whether err is a failure after which the
// storefront has most likely applied the change anyway.
func probablySucceeded(err error) bool {
	var srvErr *apperrors.ServerError
	if errors.As(err, &srvErr) {
		return srvErr.Status == http.StatusInternalServerError
	}
	var decErr *apperrors.DecodeError
	return errors.As(err, &decErr)
}

func failureMessage(err error, fallback string) string {
	var cliErr *apperrors.ClientError
	if errors.As(err, &cliErr) && cliErr.Message != "" {
		return cliErr.Message
	}
	return fallback
}

// AddToCart adds quantity units of a product.
func (s *Service) AddToCart(ctx context.Context, productID domain.ID, quantity int) error {
	return s.run(ctx, step{
		action:     domain.ActionAdd,
		kind:       domain.KindCart,
		productID:  productID,
		optimistic: func() { s.counter.Increment(domain.KindCart) },
		call: func(ctx context.Context) (*domain.MutationResult, error) {
			return s.api.AddToCart(ctx, productID, quantity)
		},
		assumable: true,
		okToast:   notify.Success("Added to Cart", "The item was added to your cart."),
		failTitle: "Error",
		failMsg:   "Could not add the item to your cart. Please try again.",
	})
}

// RemoveFromCart removes a product from the cart.
func (s *Service) RemoveFromCart(ctx context.Context, productID domain.ID) error {
	return s.run(ctx, step{
		action:     domain.ActionRemove,
		kind:       domain.KindCart,
		productID:  productID,
		optimistic: func() { s.counter.Decrement(domain.KindCart) },
		call: func(ctx context.Context) (*domain.MutationResult, error) {
			return s.api.RemoveFromCart(ctx, productID)
		},
		okToast:   notify.Success("Removed from Cart", "The item was removed from your cart."),
		failTitle: "Error",
		failMsg:   "Could not remove the item from your cart. Please try again.",
	})
}

// UpdateCartQuantity sets the quantity of a cart line. The badge only moves
// when the storefront reports a new count.
func (s *Service) UpdateCartQuantity(ctx context.Context, productID domain.ID, quantity int) error {
	return s.run(ctx, step{
		action:    domain.ActionUpdate,
		kind:      domain.KindCart,
		productID: productID,
		call: func(ctx context.Context) (*domain.MutationResult, error) {
			return s.api.UpdateCartItem(ctx, productID, quantity)
		},
		okToast:   notify.Success("Cart Updated", "The quantity was updated."),
		failTitle: "Error",
		failMsg:   "Could not update the quantity. Please try again.",
	})
}

// AddToWishlist saves a product and marks its wishlist icon.
func (s *Service) AddToWishlist(ctx context.Context, productID domain.ID) error {
	wasOn := s.InWishlist(productID)
	return s.run(ctx, step{
		action:     domain.ActionAdd,
		kind:       domain.KindWishlist,
		productID:  productID,
		optimistic: func() { s.counter.Increment(domain.KindWishlist) },
		call: func(ctx context.Context) (*domain.MutationResult, error) {
			return s.api.AddToWishlist(ctx, productID)
		},
		assumable:  true,
		onSuccess:  func() { s.setIcon(productID, true) },
		onRollback: func() { s.setIcon(productID, wasOn) },
		okToast:    notify.Success("Added to Wishlist", "The item was saved to your wishlist."),
		failTitle:  "Error",
		failMsg:    "Could not add the item to your wishlist. Please try again.",
	})
}

// RemoveFromWishlist drops a product and clears its wishlist icon.
func (s *Service) RemoveFromWishlist(ctx context.Context, productID domain.ID) error {
	wasOn := s.InWishlist(productID)
	return s.run(ctx, step{
		action:     domain.ActionRemove,
		kind:       domain.KindWishlist,
		productID:  productID,
		optimistic: func() { s.counter.Decrement(domain.KindWishlist) },
		call: func(ctx context.Context) (*domain.MutationResult, error) {
			return s.api.RemoveFromWishlist(ctx, productID)
		},
		onSuccess:  func() { s.setIcon(productID, false) },
		onRollback: func() { s.setIcon(productID, wasOn) },
		okToast:    notify.Success("Removed from Wishlist", "The item was removed from your wishlist."),
		failTitle:  "Error",
		failMsg:    "Could not remove the item from your wishlist. Please try again.",
	})
}

func (s *Service) setIcon(productID domain.ID, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.icons[productID] = true
	} else {
		delete(s.icons, productID)
	}
}

// InWishlist reports whether the product's wishlist icon is active.
func (s *Service) InWishlist(productID domain.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.icons[productID]
}

// IconState returns the products whose wishlist icon is active, sorted.
func (s *Service) IconState() []domain.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ID, 0, len(s.icons))
	for id := range s.icons {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
