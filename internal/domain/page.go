package domain

import "strings"

// Page attributes and meta tags the agent reads from the hosting page.
const (
	AttrUsername   = "data-username"
	MetaCSRF       = "_csrf"
	MetaCSRFHeader = "_csrf_header"
)

// Page is what the agent knows about the server-rendered page it serves:
// its path, data attributes on the document and <meta> tags.
type Page struct {
	Path       string            `json:"path"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Attr returns a trimmed data attribute.
func (p Page) Attr(name string) string {
	return strings.TrimSpace(p.Attributes[name])
}

// CSRF returns the CSRF header name and token from the page meta tags.
// defaultHeader is used when the page does not name one. ok is false when
// the page carries no token.
func (p Page) CSRF(defaultHeader string) (header, token string, ok bool) {
	token = strings.TrimSpace(p.Meta[MetaCSRF])
	if token == "" {
		return "", "", false
	}
	header = strings.TrimSpace(p.Meta[MetaCSRFHeader])
	if header == "" {
		header = defaultHeader
	}
	return header, token, true
}

// IsIdentity reports whether s names a real user. Pages write "null" and
// "undefined" when no one is logged in.
func IsIdentity(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "null", "undefined":
		return false
	default:
		return true
	}
}
