package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httputil"
)

// ItemActions runs cart and wishlist mutations against the storefront.
type ItemActions interface {
	AddToCart(ctx context.Context, productID domain.ID, quantity int) error
	UpdateCartQuantity(ctx context.Context, productID domain.ID, quantity int) error
	RemoveFromCart(ctx context.Context, productID domain.ID) error
	AddToWishlist(ctx context.Context, productID domain.ID) error
	RemoveFromWishlist(ctx context.Context, productID domain.ID) error
	IconState() []domain.ID
}

// ItemHandler serves /api/v1/cart/items and /api/v1/wishlist/items.
type ItemHandler struct {
	actions  ItemActions
	counters Counters
	logger   *slog.Logger
}

// NewItemHandler creates an item handler. Responses carry the counter state
// after the mutation.
func NewItemHandler(actions ItemActions, counters Counters, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{actions: actions, counters: counters, logger: logger}
}

// AddCartItemRequest is the body of POST /api/v1/cart/items. A missing
// quantity means one.
type AddCartItemRequest struct {
	ProductID domain.ID `json:"productId" validate:"required"`
	Quantity  int       `json:"quantity" validate:"omitempty,gte=1,lte=999"`
}

// UpdateCartItemRequest is the body of PUT /api/v1/cart/items/{productId}.
type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"gte=1,lte=999"`
}

// AddWishlistItemRequest is the body of POST /api/v1/wishlist/items.
type AddWishlistItemRequest struct {
	ProductID domain.ID `json:"productId" validate:"required"`
}

// WishlistIconsResponse lists products whose wishlist icon is active.
type WishlistIconsResponse struct {
	ProductIDs []domain.ID `json:"productIds"`
}

func productParam(r *http.Request) (domain.ID, error) {
	id := chi.URLParam(r, "productId")
	if id == "" {
		return "", apperrors.InvalidInput("productId is required")
	}
	return domain.ID(id), nil
}

func (h *ItemHandler) done(w http.ResponseWriter, r *http.Request, status int, err error) {
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, status, countersResponse(h.counters))
}

// AddToCart handles POST /api/v1/cart/items
func (h *ItemHandler) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req AddCartItemRequest
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	h.done(w, r, http.StatusCreated, h.actions.AddToCart(r.Context(), req.ProductID, req.Quantity))
}

// UpdateCartItem handles PUT /api/v1/cart/items/{productId}
func (h *ItemHandler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	id, err := productParam(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	var req UpdateCartItemRequest
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.done(w, r, http.StatusOK, h.actions.UpdateCartQuantity(r.Context(), id, req.Quantity))
}

// RemoveFromCart handles DELETE /api/v1/cart/items/{productId}
func (h *ItemHandler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	id, err := productParam(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.done(w, r, http.StatusOK, h.actions.RemoveFromCart(r.Context(), id))
}

// AddToWishlist handles POST /api/v1/wishlist/items
func (h *ItemHandler) AddToWishlist(w http.ResponseWriter, r *http.Request) {
	var req AddWishlistItemRequest
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.done(w, r, http.StatusCreated, h.actions.AddToWishlist(r.Context(), req.ProductID))
}

// RemoveFromWishlist handles DELETE /api/v1/wishlist/items/{productId}
func (h *ItemHandler) RemoveFromWishlist(w http.ResponseWriter, r *http.Request) {
	id, err := productParam(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.done(w, r, http.StatusOK, h.actions.RemoveFromWishlist(r.Context(), id))
}

// WishlistIcons handles GET /api/v1/wishlist/icons
func (h *ItemHandler) WishlistIcons(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, WishlistIconsResponse{ProductIDs: h.actions.IconState()})
}
