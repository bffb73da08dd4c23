package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/utafrali/storefront/pkg/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

// metricValue reads a single counter or gauge value from a collector.
func metricValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)

	m := <-ch
	require.NotNil(t, m)
	d := &dto.Metric{}
	require.NoError(t, m.Write(d))
	if d.GetCounter() != nil {
		return d.GetCounter().GetValue()
	}
	return d.GetGauge().GetValue()
}

// --- RequestLogging ---

func TestRequestLogging_GeneratesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	h := RequestLogging(logger.NewWithWriter("agent", "debug", &buf))(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/counters", nil))

	id := rec.Header().Get(CorrelationHeader)
	assert.Len(t, id, 36)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "http request", lines[0]["msg"])
	assert.Equal(t, id, lines[0]["correlation_id"])
	assert.Equal(t, float64(200), lines[0]["status"])
	assert.Equal(t, float64(2), lines[0]["bytes"])
}

func TestRequestLogging_ReusesInboundCorrelationID(t *testing.T) {
	var seen string
	h := RequestLogging(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.CorrelationIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/counters", nil)
	req.Header.Set(CorrelationHeader, "corr-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "corr-42", seen)
	assert.Equal(t, "corr-42", rec.Header().Get(CorrelationHeader))
}

func TestRequestLogging_ProbesAtDebug(t *testing.T) {
	var buf bytes.Buffer
	h := RequestLogging(logger.NewWithWriter("agent", "info", &buf))(okHandler())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Empty(t, buf.String())
}

// --- RequestLogger ---

func TestRequestLogger_EnrichesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	base := logger.NewWithWriter("agent", "info", &buf)

	h := InstanceID("inst-1")(RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Info("handled")
	})))

	ctx := logger.WithCorrelationID(context.Background(), "corr-7")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", nil).WithContext(ctx)
	req.Header.Set(UsernameHeader, "ana")
	h.ServeHTTP(httptest.NewRecorder(), req)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "corr-7", lines[0]["correlation_id"])
	assert.Equal(t, "ana", lines[0]["username"])
	assert.Equal(t, "inst-1", lines[0]["instance_id"])
}

// --- Recovery ---

func TestRecovery_ReturnsJSON500(t *testing.T) {
	var buf bytes.Buffer
	h := Recovery(logger.NewWithWriter("agent", "info", &buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("badge exploded")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/counters", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
	assert.Contains(t, buf.String(), "badge exploded")
}

func TestRecovery_RepanicsOnAbort(t *testing.T) {
	h := Recovery(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

// --- PrometheusMetrics ---

func TestPrometheusMetrics_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics())
	r.Post("/api/v1/counters/{kind}/increment", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	before := metricValue(t, httpRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/counters/{kind}/increment", "202"))

	for _, kind := range []string{"cart", "wishlist"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/counters/"+kind+"/increment", nil))
	}

	after := metricValue(t, httpRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/counters/{kind}/increment", "202"))
	assert.Equal(t, before+2, after)
	assert.Equal(t, 0.0, metricValue(t, httpRequestsInFlight))
}

func TestMetricsHandler_ServesRegistry(t *testing.T) {
	httpRequestsTotal.WithLabelValues(http.MethodGet, "/probe", "200").Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "storefront_agent_http_requests_total")
}

// --- Tracing ---

func TestTracing_NamesSpanByRoute(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	r := chi.NewRouter()
	r.Use(Tracing("storefront-agent"))
	r.Get("/api/v1/counters/{kind}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/counters/cart", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /api/v1/counters/{kind}", spans[0].Name)
	assert.NotEmpty(t, rec.Header().Get("traceparent"))
}

// --- RateLimit ---

func TestRateLimit_Returns429AfterBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := RateLimit(ctx, 0.001, 3, logger.Discard())(okHandler())

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/counters", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
			assert.Equal(t, "1", rec.Header().Get("Retry-After"))
		}
	}

	assert.Equal(t, []int{200, 200, 200, 429, 429}, codes)
}

func TestRateLimit_IndependentPerIP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := RateLimit(ctx, 0.001, 1, logger.Discard())(okHandler())

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestVisitorStore_CleanupEvictsStale(t *testing.T) {
	s := newVisitorStore(1, 1, time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }

	s.get("10.0.0.1")
	now = now.Add(30 * time.Second)
	s.get("10.0.0.2")
	now = now.Add(45 * time.Second)

	s.cleanup()
	assert.Equal(t, 1, s.len())
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		xri    string
		remote string
		want   string
	}{
		{"xff first valid", "garbage, 203.0.113.9, 10.0.0.1", "", "1.1.1.1:80", "203.0.113.9"},
		{"real ip", "", "198.51.100.4", "1.1.1.1:80", "198.51.100.4"},
		{"remote addr", "", "", "192.0.2.1:4242", "192.0.2.1"},
		{"remote without port", "", "", "192.0.2.1", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}

func TestNoStore_SetsCacheControl(t *testing.T) {
	rec := httptest.NewRecorder()
	NoStore()(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/counters/refresh", nil))

	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
