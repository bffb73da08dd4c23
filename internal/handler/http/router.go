package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/middleware"
)

// ServiceName names the agent in spans and health responses.
const ServiceName = "storefront-agent"

// Deps are the components the routes call into.
type Deps struct {
	Counters Counters
	Actions  ItemActions
	Wishlist OfflineWishlist
	Pages    PageSetter
	Checkout CheckoutTracker
	Toasts   ToastSource
	Health   *health.Handler
}

// RouterConfig tunes the router's middleware.
type RouterConfig struct {
	InstanceID     string
	RateLimitRPS   float64
	RateLimitBurst int
	Timeout        time.Duration
}

// NewRouter creates a chi router with every agent route registered. The rate
// limiter's eviction loop stops with ctx.
func NewRouter(ctx context.Context, cfg RouterConfig, deps Deps, logger *slog.Logger) http.Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(cfg.Timeout))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics())
	r.Use(middleware.Tracing(ServiceName))
	r.Use(middleware.InstanceID(cfg.InstanceID))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", deps.Health.LivenessHandler())
	r.Get("/health/ready", deps.Health.ReadinessHandler())
	r.Method(http.MethodGet, "/metrics", middleware.MetricsHandler())

	counters := NewCounterHandler(deps.Counters, logger)
	items := NewItemHandler(deps.Actions, deps.Counters, logger)
	offline := NewOfflineWishlistHandler(deps.Wishlist, logger)
	pages := NewPageHandler(deps.Pages, deps.Checkout, deps.Counters, deps.Toasts, logger)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			r.Use(middleware.RateLimit(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, logger))
		}
		r.Use(middleware.NoStore())
		r.Use(ContentTypeJSON)

		r.Route("/counters", func(r chi.Router) {
			r.Get("/", counters.Get)
			r.Post("/refresh", counters.Refresh)
			r.Put("/{kind}", counters.Set)
			r.Post("/{kind}/increment", counters.Increment)
			r.Post("/{kind}/decrement", counters.Decrement)
		})

		r.Route("/cart/items", func(r chi.Router) {
			r.Post("/", items.AddToCart)
			r.Put("/{productId}", items.UpdateCartItem)
			r.Delete("/{productId}", items.RemoveFromCart)
		})

		r.Route("/wishlist", func(r chi.Router) {
			r.Get("/icons", items.WishlistIcons)
			r.Post("/items", items.AddToWishlist)
			r.Delete("/items/{productId}", items.RemoveFromWishlist)
		})

		r.Route("/offline-wishlist", func(r chi.Router) {
			r.Get("/", offline.List)
			r.Post("/", offline.Add)
			r.Delete("/", offline.Clear)
			r.Post("/sync", offline.Sync)
			r.Delete("/{id}", offline.Remove)
		})

		r.Put("/page", pages.SetPage)
		r.Post("/checkout", pages.BeginCheckout)
		r.Get("/toasts", pages.Toasts)
	})

	return r
}
