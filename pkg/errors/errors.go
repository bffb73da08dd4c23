package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels matched with errors.Is.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrRateLimited    = errors.New("rate limited")
	ErrInternal       = errors.New("internal error")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrSessionExpired = errors.New("session expired")
)

// AppError is an error the agent's HTTP surface can answer with directly.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// RateLimited creates a 429 error.
func RateLimited() *AppError {
	return &AppError{
		Code:    "RATE_LIMITED",
		Message: "too many requests",
		Status:  http.StatusTooManyRequests,
		Err:     ErrRateLimited,
	}
}

// Internal creates a 500 error. The cause is kept for logs, never shown.
func Internal(err error) *AppError {
	cause := ErrInternal
	if err != nil {
		cause = fmt.Errorf("%w: %w", ErrInternal, err)
	}
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     cause,
	}
}

// Classify returns the AppError the HTTP surface answers err with. Storefront
// transport failures become gateway errors so callers can tell the agent's
// faults from the upstream's. An expired session keeps the upstream 401 or
// 403; a redirect to the login page reads as 401.
func Classify(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var (
		sessErr *SessionExpiredError
		netErr  *NetworkError
		srvErr  *ServerError
		decErr  *DecodeError
		cliErr  *ClientError
	)
	switch {
	case errors.As(err, &sessErr):
		status := http.StatusUnauthorized
		if sessErr.Status == http.StatusForbidden {
			status = http.StatusForbidden
		}
		return &AppError{Code: "SESSION_EXPIRED", Message: "storefront session expired", Status: status, Err: err}
	case errors.Is(err, ErrSessionExpired):
		return &AppError{Code: "SESSION_EXPIRED", Message: "storefront session expired", Status: http.StatusUnauthorized, Err: err}
	case errors.As(err, &netErr):
		return &AppError{Code: "UPSTREAM_UNAVAILABLE", Message: "storefront unreachable", Status: http.StatusServiceUnavailable, Err: err}
	case errors.As(err, &srvErr):
		return &AppError{Code: "UPSTREAM_ERROR", Message: "storefront returned an error", Status: http.StatusBadGateway, Err: err}
	case errors.As(err, &decErr):
		return &AppError{Code: "UPSTREAM_MALFORMED", Message: "storefront returned a malformed response", Status: http.StatusBadGateway, Err: err}
	case errors.As(err, &cliErr):
		msg := cliErr.Message
		if msg == "" {
			msg = cliErr.Error()
		}
		return &AppError{Code: "REJECTED", Message: msg, Status: http.StatusBadRequest, Err: err}
	case errors.Is(err, ErrNotFound):
		return &AppError{Code: "NOT_FOUND", Message: "resource not found", Status: http.StatusNotFound, Err: err}
	case errors.Is(err, ErrInvalidInput):
		return &AppError{Code: "INVALID_INPUT", Message: err.Error(), Status: http.StatusBadRequest, Err: err}
	default:
		return Internal(err)
	}
}
