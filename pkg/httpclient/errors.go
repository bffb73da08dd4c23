package httpclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 1 << 20

// storefrontErrorBody mirrors the error shape of the storefront's
// ApiResponse envelope: {"success": false, "message": "..."}.
type storefrontErrorBody struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// CheckResponse classifies a response by status code and fully consumes and
// closes the body when it returns an error. 2xx responses are returned
// untouched (nil error) with the body still open.
//
//	401, 403, 3xx -> *errors.SessionExpiredError
//	5xx           -> *errors.ServerError
//	other 4xx     -> *errors.ClientError
func CheckResponse(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &apperrors.SessionExpiredError{Op: op, Status: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return &apperrors.SessionExpiredError{Op: op, Status: resp.StatusCode, Reason: "redirected to " + resp.Header.Get("Location")}
	case resp.StatusCode >= 500:
		return &apperrors.ServerError{Op: op, Status: resp.StatusCode, Body: truncate(string(body), 150)}
	default:
		var parsed storefrontErrorBody
		msg := ""
		if json.Unmarshal(body, &parsed) == nil {
			msg = parsed.Message
		}
		return &apperrors.ClientError{Op: op, Status: resp.StatusCode, Message: msg}
	}
}

// DecodeJSON checks resp with CheckResponse and decodes a 2xx body into out.
// An HTML document where JSON was expected is reported as session expiry,
// the usual symptom of redirect-based auth middleware. A body served with the
// wrong content type is still accepted when it parses as JSON.
func DecodeJSON(resp *http.Response, op string, out any) error {
	if err := CheckResponse(resp, op); err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &apperrors.NetworkError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	contentType := resp.Header.Get("Content-Type")
	if !IsJSONContentType(contentType) {
		if LooksLikeHTML(body) {
			return &apperrors.SessionExpiredError{Op: op, Status: resp.StatusCode, Reason: "html document instead of json"}
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &apperrors.DecodeError{Op: op, ContentType: contentType, Err: err}
	}
	return nil
}

// IsJSONContentType reports whether the media type is application/json
// (or a +json suffix type).
func IsJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, "application/json")
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// LooksLikeHTML reports whether body is an HTML document.
func LooksLikeHTML(body []byte) bool {
	head := bytes.ToLower(body[:min(len(body), 512)])
	return bytes.Contains(head, []byte("<!doctype")) || bytes.Contains(head, []byte("<html"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
