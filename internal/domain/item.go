package domain

import (
	"encoding/json"
	"time"
)

// CartItem is a line returned by the storefront cart listing.
type CartItem struct {
	ProductID     ID       `json:"productId"`
	Name          string   `json:"name"`
	Price         float64  `json:"price"`
	SalePrice     *float64 `json:"salePrice,omitempty"`
	Quantity      int      `json:"quantity"`
	ImageURL      string   `json:"imageUrl,omitempty"`
	StockQuantity int      `json:"stockQuantity"`
	AddedOn       string   `json:"addedOn,omitempty"`
}

// EffectivePrice returns the sale price when one is set.
func (i CartItem) EffectivePrice() float64 {
	if i.SalePrice != nil && *i.SalePrice > 0 {
		return *i.SalePrice
	}
	return i.Price
}

// WishlistItem is a product saved to the wishlist.
type WishlistItem struct {
	ID        ID       `json:"id"`
	ProductID ID       `json:"productId"`
	Name      string   `json:"name"`
	Price     float64  `json:"price"`
	SalePrice *float64 `json:"salePrice,omitempty"`
	ImageURL  string   `json:"imageUrl,omitempty"`
	AddedAt   string   `json:"addedAt,omitempty"`
}

// Key returns the identifier the offline wishlist indexes the item by.
func (i WishlistItem) Key() string {
	if i.ID != "" {
		return string(i.ID)
	}
	return string(i.ProductID)
}

// MutationResult is the JSON body the storefront returns for cart and
// wishlist mutations.
type MutationResult struct {
	Success       bool            `json:"success"`
	Message       string          `json:"message,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	CartCount     *int            `json:"cartCount,omitempty"`
	WishlistCount *int            `json:"wishlistCount,omitempty"`
}

// CountFor returns the count for kind reported by the server, either at the
// top level or nested under data. It reports false when the server sent none.
func (r MutationResult) CountFor(k Kind) (Count, bool) {
	top := r.CartCount
	field := "cartCount"
	if k == KindWishlist {
		top = r.WishlistCount
		field = "wishlistCount"
	}
	if top != nil {
		return NormalizeCount(*top), true
	}
	if len(r.Data) == 0 {
		return 0, false
	}
	var nested map[string]any
	if err := json.Unmarshal(r.Data, &nested); err != nil {
		return 0, false
	}
	v, ok := nested[field]
	if !ok {
		return 0, false
	}
	return ParseCountOK(v)
}

// OfflineWishlist is the locally persisted wishlist kept under
// KeyOfflineWishlist.
type OfflineWishlist struct {
	Items       map[string]WishlistItem `json:"items"`
	Count       int                     `json:"count"`
	LastUpdated time.Time               `json:"lastUpdated"`
}

// NewOfflineWishlist returns an empty wishlist.
func NewOfflineWishlist() *OfflineWishlist {
	return &OfflineWishlist{Items: make(map[string]WishlistItem)}
}

// Touch recomputes Count and stamps LastUpdated.
func (w *OfflineWishlist) Touch(now time.Time) {
	w.Count = len(w.Items)
	w.LastUpdated = now
}

// BusPayload is the detail carried by cart:updated and wishlist:updated.
type BusPayload struct {
	Count     Count  `json:"count"`
	Action    string `json:"action,omitempty"`
	ProductID ID     `json:"productId,omitempty"`
}

// Actions reported in BusPayload.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionUpdate = "update"
	ActionSync   = "sync"
	ActionClear  = "clear"
)
