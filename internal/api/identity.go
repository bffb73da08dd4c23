package api

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/storage"
)

// Identity sources in resolution order.
const (
	SourceExplicit = "explicit"
	SourceStorage  = "storage"
	SourcePage     = "page"
	SourceToken    = "token"
)

// IdentityResolver finds the shopper whose cart count is requested. Sources
// are tried in order: an identity set on the resolver, the "username"
// storage key, the page's data-username attribute and finally the username
// (or sub) claim of the session token.
type IdentityResolver struct {
	store  storage.Backend
	logger *slog.Logger

	mu       sync.RWMutex
	explicit string
	page     domain.Page
	token    string
}

// NewIdentityResolver creates a resolver reading from store.
func NewIdentityResolver(store storage.Backend, page domain.Page, sessionToken string, logger *slog.Logger) *IdentityResolver {
	return &IdentityResolver{
		store:  store,
		page:   page,
		token:  sessionToken,
		logger: logger,
	}
}

// SetExplicit sets the in-memory identity, which takes precedence over every
// other source. An empty name clears it.
func (r *IdentityResolver) SetExplicit(name string) {
	r.mu.Lock()
	r.explicit = strings.TrimSpace(name)
	r.mu.Unlock()
}

// SetPage replaces the page the resolver reads attributes from.
func (r *IdentityResolver) SetPage(p domain.Page) {
	r.mu.Lock()
	r.page = p
	r.mu.Unlock()
}

// Page returns the current page.
func (r *IdentityResolver) Page() domain.Page {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.page
}

// Identity returns the resolved identity or "".
func (r *IdentityResolver) Identity(ctx context.Context) string {
	name, _ := r.Resolve(ctx)
	return name
}

// Resolve returns the identity and the source it came from. Both are empty
// when no source yields a usable name.
func (r *IdentityResolver) Resolve(ctx context.Context) (name, source string) {
	r.mu.RLock()
	explicit, page, token := r.explicit, r.page, r.token
	r.mu.RUnlock()

	if domain.IsIdentity(explicit) {
		return explicit, SourceExplicit
	}

	if r.store != nil {
		stored, ok, err := r.store.Get(ctx, domain.KeyUsername)
		switch {
		case err != nil:
			r.logger.DebugContext(ctx, "username lookup failed", slog.String("error", err.Error()))
		case ok && domain.IsIdentity(stored):
			return strings.TrimSpace(stored), SourceStorage
		}
	}

	if attr := page.Attr(domain.AttrUsername); domain.IsIdentity(attr) {
		return attr, SourcePage
	}

	if name := usernameFromToken(token); domain.IsIdentity(name) {
		return name, SourceToken
	}

	return "", ""
}

// usernameFromToken reads the username claim, falling back to sub. The
// signature is not checked: the token only names whose badge to show, the
// backend still authorizes every request.
func usernameFromToken(token string) string {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	if name, _ := claims["username"].(string); name != "" {
		return strings.TrimSpace(name)
	}
	sub, _ := claims["sub"].(string)
	return strings.TrimSpace(sub)
}
