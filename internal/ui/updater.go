package ui

import (
	"log/slog"
	"sync"
	"time"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/debounce"
)

// DefaultDebounce is the paint debounce per kind.
const DefaultDebounce = 100 * time.Millisecond

// Updater paints counts onto badges. Update is debounced per kind so a burst
// of changes paints once with the last value. Badges are located on first
// use and reused afterwards; nodes added to the page later are not picked up.
type Updater struct {
	locator Locator
	logger  *slog.Logger

	mu        sync.Mutex
	badges    map[domain.Kind][]Badge
	debouncer map[domain.Kind]*debounce.Debouncer[domain.Count]
	painted   map[domain.Kind]domain.Count
}

// NewUpdater creates an updater. A wait <= 0 uses DefaultDebounce.
func NewUpdater(locator Locator, wait time.Duration, logger *slog.Logger) *Updater {
	if wait <= 0 {
		wait = DefaultDebounce
	}
	u := &Updater{
		locator:   locator,
		logger:    logger,
		badges:    make(map[domain.Kind][]Badge),
		debouncer: make(map[domain.Kind]*debounce.Debouncer[domain.Count]),
		painted:   make(map[domain.Kind]domain.Count),
	}
	for _, k := range domain.Kinds {
		kind := k
		u.debouncer[kind] = debounce.New(wait, func(n domain.Count) { u.Paint(kind, n) })
	}
	return u
}

// Update schedules a paint of n for kind. Negative counts paint as 0.
func (u *Updater) Update(kind domain.Kind, n domain.Count) {
	d, ok := u.debouncer[kind]
	if !ok {
		u.logger.Warn("unknown badge kind", slog.String("kind", string(kind)))
		return
	}
	d.Call(domain.NormalizeCount(n))
}

// Paint writes n to every badge of kind right away. A badge that fails is
// logged and skipped.
func (u *Updater) Paint(kind domain.Kind, n domain.Count) {
	n = domain.NormalizeCount(n)
	text := formatCount(n)

	for _, b := range u.locate(kind) {
		if err := paintBadge(b, text, n); err != nil {
			u.logger.Warn("failed to paint badge",
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
		}
	}

	u.mu.Lock()
	u.painted[kind] = n
	u.mu.Unlock()
}

func paintBadge(b Badge, text string, n domain.Count) error {
	if err := b.SetText(text); err != nil {
		return err
	}
	if err := b.SetClass(ClassEmpty, n == 0); err != nil {
		return err
	}
	return b.SetClass(ClassHasItems, n > 0)
}

func (u *Updater) locate(kind domain.Kind) []Badge {
	u.mu.Lock()
	defer u.mu.Unlock()
	if found, ok := u.badges[kind]; ok {
		return found
	}
	if u.locator == nil {
		return nil
	}
	found := u.locator.Locate(kind)
	if len(found) > 0 {
		u.badges[kind] = found
	} else {
		u.logger.Debug("no badges found", slog.String("selector", Selector(kind)))
	}
	return found
}

// Painted returns the last count painted for kind.
func (u *Updater) Painted(kind domain.Kind) (domain.Count, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	n, ok := u.painted[kind]
	return n, ok
}

// Flush paints every pending update now.
func (u *Updater) Flush() {
	for _, k := range domain.Kinds {
		u.debouncer[k].Flush()
	}
}

// Close drops pending updates. Paint still works after Close.
func (u *Updater) Close() {
	for _, k := range domain.Kinds {
		u.debouncer[k].Stop()
	}
}
