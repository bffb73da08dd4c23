package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/internal/config"
	"github.com/utafrali/storefront/internal/counter"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/session"
	"github.com/utafrali/storefront/pkg/logger"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Environment:                "test",
		LogLevel:                   "error",
		HTTPPort:                   0,
		BaseURL:                    baseURL,
		Username:                   "ann",
		CSRFHeader:                 "X-CSRF-TOKEN",
		PagePath:                   "/products/7",
		StorageBackend:             config.StorageMemory,
		StorageNamespace:           "test",
		CacheTTL:                   5 * time.Minute,
		UpdateDebounce:             time.Millisecond,
		SyncDebounce:               time.Millisecond,
		InitialRefreshDelay:        time.Hour,
		RefreshInterval:            time.Hour,
		RequestTimeout:             time.Second,
		MaxRetries:                 0,
		RetryBase:                  time.Millisecond,
		RedirectDelay:              10 * time.Millisecond,
		LoginPath:                  "/login",
		AssumeSuccessOnServerError: true,
	}
}

func newTestApp(t *testing.T, storefront http.Handler) *App {
	t.Helper()
	srv := httptest.NewServer(storefront)
	t.Cleanup(srv.Close)

	a, err := NewApp(testConfig(srv.URL), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown() })
	return a
}

func call(t *testing.T, a *App, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	return rec
}

func TestApp_RefreshPaintsServerCounts(t *testing.T) {
	var cartUser atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/api/cart/count", func(w http.ResponseWriter, r *http.Request) {
		cartUser.Store(r.URL.Query().Get("username"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":4}`))
	})
	mux.HandleFunc("/api/wishlist/count", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`2`))
	})
	a := newTestApp(t, mux)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	assert.Equal(t, counter.StateReady, a.Store().State())

	rec := call(t, a, http.MethodPost, "/api/v1/counters/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	snap := a.Store().Snapshot()
	assert.Equal(t, 4, snap.Cart)
	assert.Equal(t, 2, snap.Wishlist)
	assert.Equal(t, "ann", cartUser.Load())

	assert.Eventually(t, func() bool {
		text, ok := a.Board().Text(domain.KindCart)
		return ok && text == "4"
	}, time.Second, 5*time.Millisecond)
}

func TestApp_UnreachableStorefrontKeepsCounts(t *testing.T) {
	a := newTestApp(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	rec := call(t, a, http.MethodPut, "/api/v1/counters/cart", `{"count":3}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, a, http.MethodPost, "/api/v1/counters/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, a.Store().Count(domain.KindCart))
}

func TestApp_SessionExpiryRedirectsToLogin(t *testing.T) {
	a := newTestApp(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	rec := call(t, a, http.MethodPost, "/api/v1/cart/items", `{"productId":7}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, a, http.MethodGet, "/api/v1/toasts", "")
	var env struct {
		Data struct {
			Items []struct {
				Title string `json:"title"`
			} `json:"items"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotEmpty(t, env.Data.Items)
	assert.Equal(t, session.ToastTitle, env.Data.Items[0].Title)

	assert.Eventually(t, func() bool {
		nav := a.Navigations()
		return len(nav) == 1 && nav[0] == "/login?redirect=%2Fproducts%2F7"
	}, time.Second, 5*time.Millisecond)
}

func TestApp_SessionExpiryClearsStoredCounts(t *testing.T) {
	a := newTestApp(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	ctx := context.Background()

	require.Equal(t, http.StatusOK, call(t, a, http.MethodPut, "/api/v1/counters/cart", `{"count":3}`).Code)
	require.Equal(t, http.StatusOK, call(t, a, http.MethodPut, "/api/v1/counters/wishlist", `{"count":2}`).Code)
	a.cache.Flush(ctx)

	rec := call(t, a, http.MethodPost, "/api/v1/cart/items", `{"productId":7}`)
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	a.cache.Flush(ctx)

	for _, key := range []string{domain.KeyCartCount, domain.KeyWishlistCount, domain.KeyUsername} {
		raw, ok, err := a.backend.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, "%s still stored as %q", key, raw)
	}
	snap := a.Store().Snapshot()
	assert.Equal(t, 0, snap.Cart)
	assert.Equal(t, 0, snap.Wishlist)
}

func TestApp_ReadinessReportsStorage(t *testing.T) {
	a := newTestApp(t, http.NotFoundHandler())

	rec := call(t, a, http.MethodGet, "/health/ready", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Checks map[string]any `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Checks, "storage")
	assert.Contains(t, body.Checks, "storefront")
}

func TestApp_RedisStorageUnreachable(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.StorageBackend = config.StorageRedis
	cfg.RedisAddr = "127.0.0.1:1"

	_, err := NewApp(cfg, logger.Discard())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to redis")
}
