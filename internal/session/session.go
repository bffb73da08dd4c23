// Package session reacts to an expired storefront login: it tells the
// shopper, forgets identity-scoped state and sends them to the login page.
package session

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/notify"
)

// Toast text shown on expiry.
const (
	ToastTitle   = "Session Expired"
	ToastMessage = "Your session has expired. Please log in again."
)

// clearedKeys are the storage keys tied to the logged-in shopper.
var clearedKeys = []string{domain.KeyUsername, domain.KeyCartCount, domain.KeyWishlistCount}

var expiries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storefront_agent_session_expiries_total",
		Help: "Session expiries by whether they started a redirect or were collapsed into one.",
	},
	[]string{"result"},
)

// Clearer forgets a persisted key. Remove must not return before writes
// queued ahead of it have landed, or a late write would restore the key.
// *cache.Cache satisfies it.
type Clearer interface {
	Remove(ctx context.Context, key string)
}

// Navigator moves the shopper to another URL.
type Navigator interface {
	Navigate(ctx context.Context, target string)
}

// RecordingNavigator remembers navigations instead of performing them.
type RecordingNavigator struct {
	mu      sync.Mutex
	targets []string
}

// Navigate records target.
func (n *RecordingNavigator) Navigate(_ context.Context, target string) {
	n.mu.Lock()
	n.targets = append(n.targets, target)
	n.mu.Unlock()
}

// Targets returns every recorded navigation.
func (n *RecordingNavigator) Targets() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.targets...)
}

// Last returns the most recent navigation or "".
func (n *RecordingNavigator) Last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.targets) == 0 {
		return ""
	}
	return n.targets[len(n.targets)-1]
}

// Config configures a Handler.
type Config struct {
	LoginPath     string
	RedirectDelay time.Duration
}

// Handler handles session expiry. Expiries reported while a redirect is
// already scheduled are collapsed into it.
type Handler struct {
	cfg      Config
	store    Clearer
	notifier notify.Notifier
	nav      Navigator
	path     func() string
	logger   *slog.Logger

	mu        sync.Mutex
	timer     *time.Timer
	onExpired []func(ctx context.Context)
	closed    bool
}

// NewHandler creates an expiry handler. path returns the current page path,
// which becomes the redirect parameter of the login URL.
func NewHandler(cfg Config, store Clearer, notifier notify.Notifier, nav Navigator, path func() string, logger *slog.Logger) *Handler {
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	return &Handler{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		nav:      nav,
		path:     path,
		logger:   logger,
	}
}

// OnExpired registers fn to run on every handled (not collapsed) expiry,
// after storage is cleared.
func (h *Handler) OnExpired(fn func(ctx context.Context)) {
	h.mu.Lock()
	h.onExpired = append(h.onExpired, fn)
	h.mu.Unlock()
}

// LoginURL returns the login page URL that redirects back to path.
func (h *Handler) LoginURL(path string) string {
	if path == "" {
		path = "/"
	}
	return h.cfg.LoginPath + "?redirect=" + url.QueryEscape(path)
}

// Handle reacts to err, a session expiry reported by the API client. It
// matches api.SessionExpiryHook.
func (h *Handler) Handle(ctx context.Context, err error) {
	h.mu.Lock()
	if h.closed || h.timer != nil {
		h.mu.Unlock()
		expiries.WithLabelValues("collapsed").Inc()
		return
	}
	target := h.LoginURL(h.currentPath())
	h.timer = time.AfterFunc(h.cfg.RedirectDelay, func() { h.redirect(target) })
	hooks := append([]func(context.Context){}, h.onExpired...)
	h.mu.Unlock()

	expiries.WithLabelValues("redirect").Inc()
	attrs := []any{slog.String("redirect", target)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	h.logger.WarnContext(ctx, "session expired, redirecting to login", attrs...)

	h.notifier.Notify(ctx, notify.Toast{
		Title:   ToastTitle,
		Message: ToastMessage,
		Level:   notify.LevelError,
		Action:  &notify.Action{Label: "Log in", URL: target},
	})

	for _, key := range clearedKeys {
		h.store.Remove(ctx, key)
	}

	for _, fn := range hooks {
		fn(ctx)
	}
}

// Pending reports whether a redirect is scheduled.
func (h *Handler) Pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timer != nil
}

func (h *Handler) redirect(target string) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.timer = nil
	h.mu.Unlock()

	h.nav.Navigate(context.Background(), target)
}

func (h *Handler) currentPath() string {
	if h.path == nil {
		return "/"
	}
	return h.path()
}

// Close cancels a scheduled redirect.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
