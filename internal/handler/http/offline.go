package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/pagination"
)

// OfflineWishlist is the locally persisted wishlist.
type OfflineWishlist interface {
	Add(ctx context.Context, item domain.WishlistItem) (bool, error)
	Remove(ctx context.Context, id domain.ID) (bool, error)
	Items(ctx context.Context) ([]domain.WishlistItem, error)
	Clear(ctx context.Context) error
	SyncWithServer(ctx context.Context) error
}

// OfflineWishlistHandler serves /api/v1/offline-wishlist.
type OfflineWishlistHandler struct {
	wishlist OfflineWishlist
	logger   *slog.Logger
}

// NewOfflineWishlistHandler creates an offline wishlist handler.
func NewOfflineWishlistHandler(wishlist OfflineWishlist, logger *slog.Logger) *OfflineWishlistHandler {
	return &OfflineWishlistHandler{wishlist: wishlist, logger: logger}
}

// OfflineItemRequest is the body of POST /api/v1/offline-wishlist.
type OfflineItemRequest struct {
	ID        domain.ID `json:"id"`
	ProductID domain.ID `json:"productId" validate:"required_without=ID"`
	Name      string    `json:"name" validate:"required,max=500"`
	Price     float64   `json:"price" validate:"gte=0"`
	SalePrice *float64  `json:"salePrice" validate:"omitempty,gte=0"`
	ImageURL  string    `json:"imageUrl"`
}

// ChangedResponse reports whether a write changed the wishlist.
type ChangedResponse struct {
	Changed bool `json:"changed"`
}

// List handles GET /api/v1/offline-wishlist?page=&per_page=
func (h *OfflineWishlistHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.wishlist.Items(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, pagination.Paginate(items, pagination.FromRequest(r)))
}

// Add handles POST /api/v1/offline-wishlist
func (h *OfflineWishlistHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req OfflineItemRequest
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	added, err := h.wishlist.Add(r.Context(), domain.WishlistItem{
		ID:        req.ID,
		ProductID: req.ProductID,
		Name:      req.Name,
		Price:     req.Price,
		SalePrice: req.SalePrice,
		ImageURL:  req.ImageURL,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	httputil.WriteData(w, status, ChangedResponse{Changed: added})
}

// Remove handles DELETE /api/v1/offline-wishlist/{id}
func (h *OfflineWishlistHandler) Remove(w http.ResponseWriter, r *http.Request) {
	removed, err := h.wishlist.Remove(r.Context(), domain.ID(chi.URLParam(r, "id")))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, ChangedResponse{Changed: removed})
}

// Clear handles DELETE /api/v1/offline-wishlist
func (h *OfflineWishlistHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.wishlist.Clear(r.Context()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync handles POST /api/v1/offline-wishlist/sync
func (h *OfflineWishlistHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if err := h.wishlist.SyncWithServer(r.Context()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
