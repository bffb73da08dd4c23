package httpclient

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

func makeResponse(statusCode int, contentType, body string) *http.Response {
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &http.Response{
		StatusCode: statusCode,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestCheckResponse_2xxPassesThrough(t *testing.T) {
	resp := makeResponse(http.StatusOK, "application/json", `{}`)
	assert.NoError(t, CheckResponse(resp, "GET /cart/items"))
}

func TestCheckResponse_SessionExpiryStatuses(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusFound} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			resp := makeResponse(status, "text/html", "<html></html>")
			if status == http.StatusFound {
				resp.Header.Set("Location", "/login")
			}
			err := CheckResponse(resp, "POST /cart/remove-ajax")

			var sessErr *apperrors.SessionExpiredError
			require.True(t, errors.As(err, &sessErr), "got %T", err)
			assert.Equal(t, status, sessErr.Status)
			assert.False(t, apperrors.IsRetryable(err))
		})
	}
}

func TestCheckResponse_RedirectReasonCarriesLocation(t *testing.T) {
	resp := makeResponse(http.StatusFound, "", "")
	resp.Header.Set("Location", "/login?expired")

	err := CheckResponse(resp, "POST /cart/add")
	assert.Contains(t, err.Error(), "/login?expired")
}

func TestCheckResponse_ServerErrorTruncatesBody(t *testing.T) {
	resp := makeResponse(http.StatusInternalServerError, "text/plain", strings.Repeat("x", 400))
	err := CheckResponse(resp, "POST /wishlist/add")

	var srvErr *apperrors.ServerError
	require.True(t, errors.As(err, &srvErr))
	assert.Equal(t, 500, srvErr.Status)
	assert.Len(t, srvErr.Body, 153)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestCheckResponse_ClientErrorCarriesMessage(t *testing.T) {
	resp := makeResponse(http.StatusBadRequest, "application/json", `{"success":false,"message":"Out of stock"}`)
	err := CheckResponse(resp, "POST /cart/add")

	var cliErr *apperrors.ClientError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, "Out of stock", cliErr.Message)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestDecodeJSON_Success(t *testing.T) {
	resp := makeResponse(http.StatusOK, "application/json; charset=utf-8", `{"success":true,"message":"added"}`)

	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	require.NoError(t, DecodeJSON(resp, "POST /cart/add", &out))
	assert.True(t, out.Success)
	assert.Equal(t, "added", out.Message)
}

func TestDecodeJSON_HTMLBodyIsSessionExpiry(t *testing.T) {
	resp := makeResponse(http.StatusOK, "text/html", "<!DOCTYPE html><html><body>Login</body></html>")

	var out map[string]any
	err := DecodeJSON(resp, "POST /cart/add", &out)
	assert.True(t, apperrors.IsSessionExpired(err))
}

func TestDecodeJSON_WrongContentTypeStillParses(t *testing.T) {
	resp := makeResponse(http.StatusOK, "text/plain", `{"success":true}`)

	var out map[string]any
	require.NoError(t, DecodeJSON(resp, "POST /wishlist/add", &out))
	assert.Equal(t, true, out["success"])
}

func TestDecodeJSON_GarbageIsDecodeError(t *testing.T) {
	resp := makeResponse(http.StatusOK, "application/json", `not json`)

	var out map[string]any
	err := DecodeJSON(resp, "GET /cart/items", &out)

	var decErr *apperrors.DecodeError
	require.True(t, errors.As(err, &decErr))
	assert.Equal(t, "application/json", decErr.ContentType)
}

func TestIsJSONContentType(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"application/problem+json", true},
		{"text/html", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsJSONContentType(tt.in))
		})
	}
}

func TestLooksLikeHTML(t *testing.T) {
	assert.True(t, LooksLikeHTML([]byte("<!doctype html>")))
	assert.True(t, LooksLikeHTML([]byte("\n  <HTML lang=en>")))
	assert.False(t, LooksLikeHTML([]byte(`{"count":3}`)))
	assert.False(t, LooksLikeHTML(nil))
}
