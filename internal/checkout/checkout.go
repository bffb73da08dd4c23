// Package checkout tracks whether the shopper is in the middle of checking
// out, so a return to the cart from an unfinished checkout can be noticed.
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/storage"
)

// Path fragments that move the marker.
const (
	CheckoutPathFragment     = "/orders/checkout"
	CartPathFragment         = "/cart"
	ConfirmationPathFragment = "/confirmation"
)

// Transition is what OnPage did.
type Transition string

const (
	TransitionNone                 Transition = "none"
	TransitionEnteredCheckout      Transition = "entered_checkout"
	TransitionReturnedFromCheckout Transition = "returned_from_checkout"
	TransitionCompleted            Transition = "completed"
)

// Tracker keeps the checkout markers in storage.
type Tracker struct {
	backend storage.Backend
	logger  *slog.Logger
	now     func() time.Time
}

// NewTracker creates a tracker. now may be nil.
func NewTracker(backend storage.Backend, now func() time.Time, logger *slog.Logger) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{backend: backend, logger: logger, now: now}
}

// BeginCheckout records the time checkout was started.
func (t *Tracker) BeginCheckout(ctx context.Context) (time.Time, error) {
	at := t.now().UTC()
	if err := t.backend.Set(ctx, domain.KeyLastCheckoutAttempt, at.Format(time.RFC3339Nano)); err != nil {
		return time.Time{}, fmt.Errorf("record checkout attempt: %w", err)
	}
	return at, nil
}

// LastAttempt returns the last recorded checkout start.
func (t *Tracker) LastAttempt(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := t.backend.Get(ctx, domain.KeyLastCheckoutAttempt)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, nil
	}
	return at, true, nil
}

// InFlow reports whether the checkout marker is set.
func (t *Tracker) InFlow(ctx context.Context) (bool, error) {
	raw, ok, err := t.backend.Get(ctx, domain.KeyInCheckoutFlow)
	if err != nil {
		return false, err
	}
	return ok && raw == "true", nil
}

// OnPage updates the marker for a page visit. A checkout page sets it. The
// cart page clears a set marker and reports the shopper came back without
// finishing. A confirmation page clears it.
func (t *Tracker) OnPage(ctx context.Context, path string) (Transition, error) {
	switch {
	case strings.Contains(path, CheckoutPathFragment):
		if err := t.backend.Set(ctx, domain.KeyInCheckoutFlow, "true"); err != nil {
			return TransitionNone, fmt.Errorf("mark checkout flow: %w", err)
		}
		return TransitionEnteredCheckout, nil

	case strings.Contains(path, CartPathFragment):
		in, err := t.InFlow(ctx)
		if err != nil || !in {
			return TransitionNone, err
		}
		if err := t.backend.Remove(ctx, domain.KeyInCheckoutFlow); err != nil {
			return TransitionNone, fmt.Errorf("clear checkout flow: %w", err)
		}
		t.logger.InfoContext(ctx, "shopper returned from checkout without completing the order")
		return TransitionReturnedFromCheckout, nil

	case strings.Contains(path, ConfirmationPathFragment):
		if err := t.backend.Remove(ctx, domain.KeyInCheckoutFlow); err != nil {
			return TransitionNone, fmt.Errorf("clear checkout flow: %w", err)
		}
		return TransitionCompleted, nil
	}
	return TransitionNone, nil
}
