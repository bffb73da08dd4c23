package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httpclient"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/tracing"
)

// Count endpoints and operation names.
const (
	CartCountPath     = "/api/cart/count"
	WishlistCountPath = "/api/wishlist/count"

	OpFetchCartCount     = "fetchCartCount"
	OpFetchWishlistCount = "fetchWishlistCount"
)

// Fetch outcomes.
const (
	outcomeFresh    = "fresh"
	outcomeCached   = "cached"
	outcomeNoIdent  = "no_identity"
	outcomeDegraded = "circuit_open"
	outcomeCanceled = "canceled"
)

var (
	countFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_agent_count_fetches_total",
			Help: "Count fetches by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	countShapes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_agent_count_response_shapes_total",
			Help: "Count responses by the shape that decoded them.",
		},
		[]string{"kind", "shape"},
	)
)

// CachedCounts supplies the value a failed fetch falls back to.
type CachedCounts interface {
	Get(ctx context.Context, key string, def domain.Count) domain.Count
}

// FetchResult is the outcome of a count fetch. Fresh is false when Count
// came from the cache instead of the server.
type FetchResult struct {
	Count domain.Count
	Fresh bool
}

func opFor(k domain.Kind) string {
	if k == domain.KindWishlist {
		return OpFetchWishlistCount
	}
	return OpFetchCartCount
}

// CountClient fetches badge counts from the storefront. Failures never
// surface as errors: the cached count is returned instead.
type CountClient struct {
	baseURL  string
	doer     httpclient.Doer
	identity *IdentityResolver
	cache    CachedCounts
	logger   *slog.Logger

	group   singleflight.Group
	mu      sync.Mutex
	pending map[string]struct{}
}

// NewCountClient creates a count client. doer is normally a
// *httpclient.CircuitBreakerClient.
func NewCountClient(baseURL string, doer httpclient.Doer, identity *IdentityResolver, cache CachedCounts, logger *slog.Logger) *CountClient {
	return &CountClient{
		baseURL:  baseURL,
		doer:     doer,
		identity: identity,
		cache:    cache,
		logger:   logger,
		pending:  make(map[string]struct{}),
	}
}

// FetchCartCount fetches the cart count for the resolved identity. Without
// an identity it returns the cached value and makes no request.
func (c *CountClient) FetchCartCount(ctx context.Context) FetchResult {
	return c.Fetch(ctx, domain.KindCart)
}

// FetchWishlistCount fetches the wishlist count.
func (c *CountClient) FetchWishlistCount(ctx context.Context) FetchResult {
	return c.Fetch(ctx, domain.KindWishlist)
}

// Fetch fetches the count for kind. Concurrent calls for the same kind share
// one request and its result.
func (c *CountClient) Fetch(ctx context.Context, kind domain.Kind) FetchResult {
	op := opFor(kind)
	key := kind.StorageKey()

	var query url.Values
	if kind == domain.KindCart {
		name := c.identity.Identity(ctx)
		if name == "" {
			countFetches.WithLabelValues(string(kind), outcomeNoIdent).Inc()
			c.logger.DebugContext(ctx, "no identity, using cached cart count")
			return FetchResult{Count: c.cache.Get(ctx, key, 0)}
		}
		query = url.Values{"username": {name}}
	}

	// The shared request outlives any one caller; the HTTP client's timeout
	// bounds it. A caller that gives up gets the cached value.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(op, func() (any, error) {
		c.markPending(op, true)
		defer c.markPending(op, false)

		n, err := c.request(shared, kind, op, query)
		if err != nil {
			outcome := outcomeCached
			if errors.Is(err, httpclient.ErrCircuitOpen) || errors.Is(err, httpclient.ErrTooManyRequests) {
				outcome = outcomeDegraded
			}
			countFetches.WithLabelValues(string(kind), outcome).Inc()
			logger.WithContext(shared, c.logger).Warn("count fetch failed, using cached value",
				slog.String("op", op),
				slog.String("error", err.Error()),
			)
			return FetchResult{Count: c.cache.Get(shared, key, 0)}, nil
		}
		countFetches.WithLabelValues(string(kind), outcomeFresh).Inc()
		return FetchResult{Count: n, Fresh: true}, nil
	})

	select {
	case res := <-ch:
		return res.Val.(FetchResult)
	case <-ctx.Done():
		countFetches.WithLabelValues(string(kind), outcomeCanceled).Inc()
		return FetchResult{Count: c.cache.Get(shared, key, 0)}
	}
}

func (c *CountClient) request(ctx context.Context, kind domain.Kind, op string, query url.Values) (n domain.Count, err error) {
	endpoint := c.baseURL + CartCountPath
	if kind == domain.KindWishlist {
		endpoint = c.baseURL + WishlistCountPath
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	ctx, span := tracing.StartClientSpan(ctx, tracing.Tracer(tracerName), "api."+op, req)
	defer func() { tracing.EndSpan(span, err) }()

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return 0, err
	}
	if err := httpclient.CheckResponse(resp, op); err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	contentType := resp.Header.Get("Content-Type")
	if !httpclient.IsJSONContentType(contentType) {
		return 0, &apperrors.DecodeError{Op: op, ContentType: contentType, Err: errNotJSON}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCountBody))
	if err != nil {
		return 0, &apperrors.NetworkError{Op: op, Err: err}
	}

	n, shape, err := DecodeCountBody(body)
	if err != nil {
		return 0, &apperrors.DecodeError{Op: op, ContentType: contentType, Err: err}
	}
	countShapes.WithLabelValues(string(kind), shape).Inc()
	span.SetAttributes(attribute.String("storefront.count_shape", shape), attribute.Int("storefront.count", n))

	c.logger.DebugContext(ctx, "fetched count",
		slog.String("op", op),
		slog.String("shape", shape),
		slog.Int("count", n),
	)
	return n, nil
}

func (c *CountClient) markPending(op string, inFlight bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if inFlight {
		c.pending[op] = struct{}{}
	} else {
		delete(c.pending, op)
	}
}

// Pending returns the operations currently in flight, sorted.
func (c *CountClient) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops := make([]string, 0, len(c.pending))
	for op := range c.pending {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// IsPending reports whether op is in flight.
func (c *CountClient) IsPending(op string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[op]
	return ok
}
