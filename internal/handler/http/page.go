package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/utafrali/storefront/internal/checkout"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/notify"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/pagination"
)

// PageSetter receives the page the agent is attached to.
type PageSetter interface {
	SetPage(p domain.Page)
}

// CheckoutTracker keeps the checkout flow markers.
type CheckoutTracker interface {
	BeginCheckout(ctx context.Context) (time.Time, error)
	OnPage(ctx context.Context, path string) (checkout.Transition, error)
}

// ToastSource lists recently shown toasts.
type ToastSource interface {
	Toasts() []notify.Toast
}

// PageHandler serves navigation, checkout and toast routes.
type PageHandler struct {
	pages    PageSetter
	checkout CheckoutTracker
	counters Counters
	toasts   ToastSource
	logger   *slog.Logger
}

// NewPageHandler creates a page handler.
func NewPageHandler(pages PageSetter, tracker CheckoutTracker, counters Counters, toasts ToastSource, logger *slog.Logger) *PageHandler {
	return &PageHandler{
		pages:    pages,
		checkout: tracker,
		counters: counters,
		toasts:   toasts,
		logger:   logger,
	}
}

// PageRequest is the body of PUT /api/v1/page.
type PageRequest struct {
	Path       string            `json:"path" validate:"required,startswith=/"`
	Attributes map[string]string `json:"attributes"`
	Meta       map[string]string `json:"meta"`
}

// PageResponse reports what the navigation did to the checkout markers.
type PageResponse struct {
	Path       string              `json:"path"`
	Transition checkout.Transition `json:"transition"`
}

// CheckoutResponse is returned when checkout begins.
type CheckoutResponse struct {
	LastCheckoutAttempt time.Time `json:"lastCheckoutAttempt"`
}

// SetPage handles PUT /api/v1/page. A navigation updates the identity and
// CSRF sources, moves the checkout markers and schedules a count refresh.
func (h *PageHandler) SetPage(w http.ResponseWriter, r *http.Request) {
	var req PageRequest
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.pages.SetPage(domain.Page{Path: req.Path, Attributes: req.Attributes, Meta: req.Meta})

	transition, err := h.checkout.OnPage(r.Context(), req.Path)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.counters.RequestRefresh()

	httputil.WriteData(w, http.StatusOK, PageResponse{Path: req.Path, Transition: transition})
}

// BeginCheckout handles POST /api/v1/checkout
func (h *PageHandler) BeginCheckout(w http.ResponseWriter, r *http.Request) {
	at, err := h.checkout.BeginCheckout(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, CheckoutResponse{LastCheckoutAttempt: at})
}

// Toasts handles GET /api/v1/toasts?page=&per_page=. Toasts are listed
// oldest first.
func (h *PageHandler) Toasts(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, pagination.Paginate(h.toasts.Toasts(), pagination.FromRequest(r)))
}
