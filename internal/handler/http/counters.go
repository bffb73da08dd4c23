package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/storefront/internal/counter"
	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httputil"
)

// Counters is the badge state the counter routes read and move.
type Counters interface {
	Snapshot() domain.Snapshot
	State() counter.State
	SetCount(kind domain.Kind, n domain.Count)
	Increment(kind domain.Kind)
	Decrement(kind domain.Kind)
	Refresh(ctx context.Context)
	RequestRefresh()
}

// CounterHandler serves /api/v1/counters.
type CounterHandler struct {
	counters Counters
	logger   *slog.Logger
}

// NewCounterHandler creates a counter handler.
func NewCounterHandler(counters Counters, logger *slog.Logger) *CounterHandler {
	return &CounterHandler{counters: counters, logger: logger}
}

// SetCountRequest is the body of PUT /api/v1/counters/{kind}. Count is kept
// raw so "5", 5.7 and null all coerce the way stored values do.
type SetCountRequest struct {
	Count json.RawMessage `json:"count"`
}

// value coerces the raw count. Anything unreadable is 0.
func (req SetCountRequest) value() domain.Count {
	var v any
	dec := json.NewDecoder(bytes.NewReader(req.Count))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return 0
	}
	return domain.ParseCount(v)
}

// CountersResponse is the counter state as served over HTTP.
type CountersResponse struct {
	Cart               domain.Count `json:"cart"`
	Wishlist           domain.Count `json:"wishlist"`
	LastCartUpdate     *time.Time   `json:"lastCartUpdate,omitempty"`
	LastWishlistUpdate *time.Time   `json:"lastWishlistUpdate,omitempty"`
	State              string       `json:"state"`
}

func countersResponse(c Counters) CountersResponse {
	snap := c.Snapshot()
	resp := CountersResponse{
		Cart:     snap.Cart,
		Wishlist: snap.Wishlist,
		State:    c.State().String(),
	}
	if !snap.LastCartUpdate.IsZero() {
		resp.LastCartUpdate = &snap.LastCartUpdate
	}
	if !snap.LastWishlistUpdate.IsZero() {
		resp.LastWishlistUpdate = &snap.LastWishlistUpdate
	}
	return resp
}

// kindParam reads the {kind} path segment.
func kindParam(r *http.Request) (domain.Kind, error) {
	raw := chi.URLParam(r, "kind")
	kind, ok := domain.ParseKind(raw)
	if !ok {
		return "", apperrors.NotFound("counter", raw)
	}
	return kind, nil
}

// Get handles GET /api/v1/counters
func (h *CounterHandler) Get(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, countersResponse(h.counters))
}

// Set handles PUT /api/v1/counters/{kind}
func (h *CounterHandler) Set(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	var req SetCountRequest
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if len(req.Count) == 0 {
		httputil.WriteError(w, r, apperrors.InvalidInput("count is required"), h.logger)
		return
	}

	h.counters.SetCount(kind, req.value())
	httputil.WriteData(w, http.StatusOK, countersResponse(h.counters))
}

// Increment handles POST /api/v1/counters/{kind}/increment
func (h *CounterHandler) Increment(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.counters.Increment(kind)
	httputil.WriteData(w, http.StatusOK, countersResponse(h.counters))
}

// Decrement handles POST /api/v1/counters/{kind}/decrement
func (h *CounterHandler) Decrement(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.counters.Decrement(kind)
	httputil.WriteData(w, http.StatusOK, countersResponse(h.counters))
}

// Refresh handles POST /api/v1/counters/refresh. With ?async=true the
// refresh is debounced and the call returns 202 at once.
func (h *CounterHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("async") == "true" {
		h.counters.RequestRefresh()
		httputil.WriteData(w, http.StatusAccepted, countersResponse(h.counters))
		return
	}
	h.counters.Refresh(r.Context())
	httputil.WriteData(w, http.StatusOK, countersResponse(h.counters))
}
