package http

import (
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/validator"
)

// ContentTypeJSON rejects request bodies that are not declared as JSON.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnsupportedMediaType)
				_, _ = w.Write([]byte(`{"error":{"code":"UNSUPPORTED_MEDIA_TYPE","message":"Content-Type must be application/json"}}`))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// decode reads and validates a JSON body. Malformed JSON is reported as
// invalid input rather than an internal error.
func decode(r *http.Request, dst any) error {
	err := validator.DecodeAndValidate(r, dst)
	if err == nil {
		return nil
	}
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		return err
	}
	return apperrors.InvalidInput("invalid request body: " + err.Error())
}
