package errors

import (
	"errors"
	"fmt"
)

// Transport errors returned by the storefront HTTP layer. Callers switch on
// these with errors.As instead of inspecting message text.

// NetworkError is a request that never produced an HTTP response
// (dial failure, connection reset, client timeout).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a 5xx response.
type ServerError struct {
	Op     string
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: server error %d", e.Op, e.Status)
}

func (e *ServerError) Unwrap() error { return ErrServiceUnavail }

// ClientError is a 4xx response that does not indicate an expired session.
type ClientError struct {
	Op      string
	Status  int
	Message string
}

func (e *ClientError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: client error %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: client error %d", e.Op, e.Status)
}

func (e *ClientError) Unwrap() error { return ErrInvalidInput }

// SessionExpiredError signals that the login session is no longer valid:
// a 401, 403 or 302 response, or an HTML page where JSON was expected.
type SessionExpiredError struct {
	Op     string
	Status int
	Reason string
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("%s: session expired (%d): %s", e.Op, e.Status, e.Reason)
}

func (e *SessionExpiredError) Unwrap() error { return ErrSessionExpired }

// DecodeError is a 2xx response whose body could not be decoded.
type DecodeError struct {
	Op          string
	ContentType string
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode response (content-type %q): %v", e.Op, e.ContentType, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient failure worth retrying:
// a NetworkError or a ServerError.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var srvErr *ServerError
	return errors.As(err, &srvErr)
}

// IsSessionExpired reports whether err signals session expiry.
func IsSessionExpired(err error) bool {
	var sessErr *SessionExpiredError
	return errors.As(err, &sessErr)
}

// StatusOf returns the HTTP status carried by a transport error, or 0.
func StatusOf(err error) int {
	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		return srvErr.Status
	}
	var cliErr *ClientError
	if errors.As(err, &cliErr) {
		return cliErr.Status
	}
	var sessErr *SessionExpiredError
	if errors.As(err, &sessErr) {
		return sessErr.Status
	}
	return 0
}
