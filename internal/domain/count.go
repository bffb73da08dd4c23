package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which badge a count belongs to.
type Kind string

const (
	KindCart     Kind = "cart"
	KindWishlist Kind = "wishlist"
)

// Kinds lists every tracked kind in paint order.
var Kinds = []Kind{KindCart, KindWishlist}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindCart || k == KindWishlist
}

// StorageKey returns the persisted cache key for the kind.
func (k Kind) StorageKey() string {
	switch k {
	case KindCart:
		return KeyCartCount
	case KindWishlist:
		return KeyWishlistCount
	default:
		return ""
	}
}

// Topic returns the bus topic that carries updates for the kind.
func (k Kind) Topic() string {
	return string(k) + ":updated"
}

// ParseKind converts a path segment or payload field into a Kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	return k, k.Valid()
}

// KindForKey maps a storage key back to its kind.
func KindForKey(key string) (Kind, bool) {
	switch key {
	case KeyCartCount:
		return KindCart, true
	case KeyWishlistCount:
		return KindWishlist, true
	default:
		return "", false
	}
}

// Persisted client-state keys shared with the storefront pages.
const (
	KeyCartCount           = "cartCount"
	KeyWishlistCount       = "wishlistCount"
	KeyUsername            = "username"
	KeyInCheckoutFlow      = "inCheckoutFlow"
	KeyLastCheckoutAttempt = "lastCheckoutAttempt"
	KeyOfflineWishlist     = "ecommerce_wishlist"
)

// Count is a badge value. It is never negative.
type Count = int

// NormalizeCount clamps negative values to zero.
func NormalizeCount(n int) Count {
	if n < 0 {
		return 0
	}
	return n
}

// ParseCount coerces a loosely typed value into a Count. Anything that is not
// a finite non-negative number collapses to 0. Strings follow parseInt rules:
// leading whitespace and sign are accepted and parsing stops at the first
// non-digit, so "7", " 7 items" and "7.9" all yield 7.
func ParseCount(v any) Count {
	n, ok := parseNumber(v)
	if !ok {
		return 0
	}
	return NormalizeCount(n)
}

// ParseCountOK is ParseCount that also reports whether v held a number at all.
func ParseCountOK(v any) (Count, bool) {
	n, ok := parseNumber(v)
	if !ok {
		return 0, false
	}
	return NormalizeCount(n), true
}

func parseNumber(v any) (int, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case int:
		return t, true
	case int32:
		return int(t), true
	case int64:
		return clampInt64(t), true
	case float32:
		return fromFloat(float64(t))
	case float64:
		return fromFloat(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return clampInt64(i), true
		}
		if f, err := t.Float64(); err == nil {
			return fromFloat(f)
		}
		return ParseInt(string(t))
	case string:
		return ParseInt(t)
	default:
		return 0, false
	}
}

func fromFloat(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f >= float64(math.MaxInt) {
		return math.MaxInt, true
	}
	return int(f), true
}

func clampInt64(i int64) int {
	if i > int64(math.MaxInt) {
		return math.MaxInt
	}
	return int(i)
}

// ParseInt parses the leading decimal integer of s the way browsers do:
// surrounding whitespace is ignored, an optional sign is honoured and any
// trailing garbage is discarded. It reports false when no digit is found.
func ParseInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		n = math.MaxInt
	}
	if neg {
		n = -n
	}
	return n, true
}

// IsSentinel reports whether a stored string is one of the placeholder values
// pages write when a count was never a real number.
func IsSentinel(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "NaN", "undefined", "null":
		return true
	default:
		return false
	}
}

// CacheEntry is the persisted wrapper around a count.
type CacheEntry struct {
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"timestamp"`
}

// NewCacheEntry wraps n with the given write time.
func NewCacheEntry(n Count, at time.Time) CacheEntry {
	return CacheEntry{
		Value:     json.RawMessage(strconv.Itoa(NormalizeCount(n))),
		Timestamp: at.UnixMilli(),
	}
}

// Count decodes the wrapped value.
func (e CacheEntry) Count() Count {
	if len(e.Value) == 0 {
		return 0
	}
	var v any
	dec := json.NewDecoder(strings.NewReader(string(e.Value)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return 0
	}
	return ParseCount(v)
}

// WrittenAt returns the entry's write time.
func (e CacheEntry) WrittenAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Expired reports whether the entry is older than ttl at now.
func (e CacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.WrittenAt()) > ttl
}

// DecodeStoredCount parses a raw stored value in either the legacy bare
// number format or the wrapped entry format. It reports false when the value
// is a sentinel or cannot be read.
func DecodeStoredCount(raw string) (Count, bool) {
	if IsSentinel(raw) {
		return 0, false
	}
	if n, ok := legacyNumber(raw); ok {
		return NormalizeCount(n), true
	}
	var e CacheEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return 0, false
	}
	return e.Count(), true
}

// legacyNumber accepts a raw value that is a plain number, the format pages
// wrote before entries carried timestamps.
func legacyNumber(raw string) (int, bool) {
	s := strings.TrimSpace(raw)
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return 0, false
	}
	return ParseInt(s)
}

// IsLegacyNumber reports whether raw is stored in the bare number format.
func IsLegacyNumber(raw string) bool {
	_, ok := legacyNumber(raw)
	return ok
}

// Snapshot is a read-only view of the counter state.
type Snapshot struct {
	Cart               Count     `json:"cart"`
	Wishlist           Count     `json:"wishlist"`
	LastCartUpdate     time.Time `json:"lastCartUpdate"`
	LastWishlistUpdate time.Time `json:"lastWishlistUpdate"`
}

// Get returns the count for kind.
func (s Snapshot) Get(k Kind) Count {
	if k == KindWishlist {
		return s.Wishlist
	}
	return s.Cart
}
