package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/storefront/pkg/logger"
)

// UsernameHeader lets a caller name the storefront user it acts for, so log
// lines for one shopper can be grouped.
const UsernameHeader = "X-Storefront-User"

// RequestLogger builds a request-scoped logger carrying correlation_id,
// username, instance_id, trace_id and span_id and stores it in the context for
// logger.FromContext. Mount it after RequestLogging and Tracing.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if username := r.Header.Get(UsernameHeader); username != "" {
				ctx = logger.WithUsername(ctx, username)
			}

			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InstanceID stamps every request context with the agent's instance ID.
func InstanceID(id string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(logger.WithInstanceID(r.Context(), id)))
		})
	}
}
