// Package file implements storage.Backend as one file per key in a directory,
// so agents on the same host share storage through the filesystem. Changes
// are observed with fsnotify.
package file

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/utafrali/storefront/internal/storage"
)

const tempPrefix = ".tmp-"

// Backend implements storage.Backend on a directory.
type Backend struct {
	dir    string
	logger *slog.Logger

	mu        sync.Mutex
	lastWrite map[string]string
	watchers  []*fsnotify.Watcher
	closed    bool
}

var _ storage.Backend = (*Backend)(nil)

// New opens dir as a storage area, creating it when missing.
func New(dir string, logger *slog.Logger) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Backend{
		dir:       dir,
		logger:    logger,
		lastWrite: make(map[string]string),
	}, nil
}

// Dir returns the storage directory.
func (b *Backend) Dir() string {
	return b.dir
}

func (b *Backend) path(key string) string {
	return filepath.Join(b.dir, url.PathEscape(key))
}

func keyFromName(name string) (string, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, tempPrefix) {
		return "", false
	}
	key, err := url.PathUnescape(base)
	if err != nil {
		return "", false
	}
	return key, true
}

func (b *Backend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Get implements storage.Backend.
func (b *Backend) Get(_ context.Context, key string) (string, bool, error) {
	if b.isClosed() {
		return "", false, storage.ErrClosed
	}
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return string(data), true, nil
}

// Set implements storage.Backend. The value is written to a temp file and
// renamed into place so readers never see a partial write.
func (b *Backend) Set(_ context.Context, key, value string) error {
	if b.isClosed() {
		return storage.ErrClosed
	}

	tmp, err := os.CreateTemp(b.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", key, err)
	}

	b.mu.Lock()
	b.lastWrite[key] = value
	b.mu.Unlock()

	if err := os.Rename(tmpName, b.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

// Remove implements storage.Backend.
func (b *Backend) Remove(_ context.Context, key string) error {
	if b.isClosed() {
		return storage.ErrClosed
	}
	b.mu.Lock()
	b.lastWrite[key] = ""
	b.mu.Unlock()

	if err := os.Remove(b.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// ownWrite reports whether value is what this backend last wrote to key.
func (b *Backend) ownWrite(key, value string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	last, ok := b.lastWrite[key]
	return ok && last == value
}

// Watch implements storage.Backend. Events whose resulting content matches
// this backend's own last write for the key are suppressed.
func (b *Backend) Watch(ctx context.Context) (<-chan storage.ChangeEvent, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, storage.ErrClosed
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(b.dir); err != nil {
		b.mu.Unlock()
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", b.dir, err)
	}
	b.watchers = append(b.watchers, w)
	b.mu.Unlock()

	seen := b.snapshot()
	out := make(chan storage.ChangeEvent, storage.WatchBuffer)

	go func() {
		defer close(out)
		defer w.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				change, ok := b.translate(ev, seen)
				if !ok {
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				b.logger.Warn("storage watcher error",
					slog.String("dir", b.dir),
					slog.String("error", err.Error()),
				)
			}
		}
	}()

	return out, nil
}

// snapshot reads the current directory contents so the first event for each
// key carries its previous value.
func (b *Backend) snapshot() map[string]string {
	seen := make(map[string]string)
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return seen
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key, ok := keyFromName(e.Name())
		if !ok {
			continue
		}
		if data, err := os.ReadFile(filepath.Join(b.dir, e.Name())); err == nil {
			seen[key] = string(data)
		}
	}
	return seen
}

// translate converts a filesystem event into a change, tracking the last
// content seen per key in seen. Repeated events for unchanged content are
// dropped.
func (b *Backend) translate(ev fsnotify.Event, seen map[string]string) (storage.ChangeEvent, bool) {
	key, ok := keyFromName(ev.Name)
	if !ok {
		return storage.ChangeEvent{}, false
	}

	var value string
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		data, err := os.ReadFile(ev.Name)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return storage.ChangeEvent{}, false
			}
			b.logger.Warn("storage watcher read failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			return storage.ChangeEvent{}, false
		}
		value = string(data)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if _, err := os.Stat(ev.Name); err == nil {
			return storage.ChangeEvent{}, false
		}
	default:
		return storage.ChangeEvent{}, false
	}

	old, had := seen[key]
	if had && old == value {
		return storage.ChangeEvent{}, false
	}
	if !had && value == "" {
		return storage.ChangeEvent{}, false
	}
	if value == "" {
		delete(seen, key)
	} else {
		seen[key] = value
	}

	if b.ownWrite(key, value) {
		return storage.ChangeEvent{}, false
	}
	return storage.ChangeEvent{Key: key, OldValue: old, NewValue: value}, true
}

// Close implements storage.Backend. Files are left in place.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, w := range b.watchers {
		_ = w.Close()
	}
	b.watchers = nil
	return nil
}
