package middleware

import (
	"net/http"
)

// NoStore marks every response as uncacheable. Counts change between two
// reads, so a cached body would paint a stale badge.
func NoStore() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
