package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLivenessHandler_AlwaysReturns200(t *testing.T) {
	h := NewHandler("storefront-agent")
	h.Register("storage", func(ctx context.Context) error { return fmt.Errorf("down") })

	rec := httptest.NewRecorder()
	h.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusUp, resp.Status)
	assert.Equal(t, "storefront-agent", resp.Service)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestReadinessHandler_AllHealthy(t *testing.T) {
	h := NewHandler("storefront-agent")
	h.Register("storage", func(ctx context.Context) error { return nil })
	h.Register("storefront", func(ctx context.Context) error { return nil })

	rec := httptest.NewRecorder()
	h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusUp, resp.Status)
	assert.Equal(t, StatusUp, resp.Checks["storage"].Status)
	assert.Equal(t, StatusUp, resp.Checks["storefront"].Status)
}

func TestReadinessHandler_OneDown(t *testing.T) {
	h := NewHandler("storefront-agent")
	h.Register("storage", func(ctx context.Context) error { return nil })
	h.Register("redis", func(ctx context.Context) error { return fmt.Errorf("connection refused") })

	rec := httptest.NewRecorder()
	h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusDown, resp.Status)
	assert.Equal(t, StatusUp, resp.Checks["storage"].Status)
	assert.Equal(t, "connection refused", resp.Checks["redis"].Error)
}

func TestReadinessHandler_NoCheckers(t *testing.T) {
	h := NewHandler("storefront-agent")

	rec := httptest.NewRecorder()
	h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheck_RunsConcurrently(t *testing.T) {
	h := NewHandler("storefront-agent")
	for i := 0; i < 4; i++ {
		h.Register(fmt.Sprintf("slow-%d", i), func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			return nil
		})
	}

	start := time.Now()
	resp := h.Check(context.Background())

	assert.Equal(t, StatusUp, resp.Status)
	assert.Len(t, resp.Checks, 4)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestCheck_TimeoutPropagates(t *testing.T) {
	h := NewHandler("storefront-agent")
	h.timeout = 20 * time.Millisecond
	h.Register("hung", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	resp := h.Check(context.Background())
	assert.Equal(t, StatusDown, resp.Status)
	assert.Contains(t, resp.Checks["hung"].Error, "deadline exceeded")
}

func TestRegister_Replaces(t *testing.T) {
	h := NewHandler("storefront-agent")
	h.Register("storage", func(ctx context.Context) error { return fmt.Errorf("old") })
	h.Register("storage", func(ctx context.Context) error { return nil })

	assert.Equal(t, StatusUp, h.Check(context.Background()).Status)
}
