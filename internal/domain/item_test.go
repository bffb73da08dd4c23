package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCartItem_EffectivePrice(t *testing.T) {
	sale := 7.5
	assert.Equal(t, 7.5, CartItem{Price: 10, SalePrice: &sale}.EffectivePrice())
	assert.Equal(t, 10.0, CartItem{Price: 10}.EffectivePrice())

	zero := 0.0
	assert.Equal(t, 10.0, CartItem{Price: 10, SalePrice: &zero}.EffectivePrice())
}

func TestCartItem_JSONFieldNames(t *testing.T) {
	var item CartItem
	require.NoError(t, json.Unmarshal([]byte(`{
		"productId":"p-1","name":"Mug","price":12.5,"salePrice":9.99,
		"quantity":2,"imageUrl":"/img/mug.png","stockQuantity":4,"addedOn":"2024-05-01"
	}`), &item))

	assert.Equal(t, ID("p-1"), item.ProductID)
	assert.Equal(t, 2, item.Quantity)
	assert.Equal(t, 4, item.StockQuantity)
	require.NotNil(t, item.SalePrice)
	assert.Equal(t, 9.99, *item.SalePrice)
}

func TestWishlistItem_Key(t *testing.T) {
	assert.Equal(t, "w1", WishlistItem{ID: "w1", ProductID: "p1"}.Key())
	assert.Equal(t, "p1", WishlistItem{ProductID: "p1"}.Key())
}

func TestMutationResult_CountFor(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		kind   Kind
		want   int
		wantOK bool
	}{
		{"top level cart", `{"success":true,"cartCount":4}`, KindCart, 4, true},
		{"nested cart", `{"success":true,"data":{"cartCount":"6"}}`, KindCart, 6, true},
		{"top level wins", `{"cartCount":1,"data":{"cartCount":9}}`, KindCart, 1, true},
		{"wishlist", `{"success":true,"wishlistCount":2}`, KindWishlist, 2, true},
		{"absent", `{"success":true,"message":"ok"}`, KindCart, 0, false},
		{"data not an object", `{"success":true,"data":3}`, KindCart, 0, false},
		{"negative clamps", `{"cartCount":-2}`, KindCart, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r MutationResult
			require.NoError(t, json.Unmarshal([]byte(tt.body), &r))
			n, ok := r.CountFor(tt.kind)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestOfflineWishlist_Touch(t *testing.T) {
	w := NewOfflineWishlist()
	w.Items["a"] = WishlistItem{ID: "a"}
	w.Items["b"] = WishlistItem{ID: "b"}

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	w.Touch(now)

	assert.Equal(t, 2, w.Count)
	assert.Equal(t, now, w.LastUpdated)
}

func TestID_DecodesStringsAndNumbers(t *testing.T) {
	var v struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":42,"b":"sku-7","c":null}`), &v))
	assert.Equal(t, ID("42"), v.A)
	assert.Equal(t, ID("sku-7"), v.B)
	assert.Equal(t, ID(""), v.C)

	var bad ID
	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &bad))
}

func TestID_MarshalsNumericAsNumber(t *testing.T) {
	raw, err := json.Marshal(map[string]ID{"productId": "42", "sku": "sku-7"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"productId":42,"sku":"sku-7"}`, string(raw))
}
