// Package memory implements storage.Backend on a process-local map shared by
// any number of views.
package memory

import (
	"context"
	"sync"

	"github.com/utafrali/storefront/internal/storage"
)

// Shared is the storage area every View reads and writes.
type Shared struct {
	mu    sync.Mutex
	data  map[string]string
	views map[*View]struct{}
}

// NewShared creates an empty storage area.
func NewShared() *Shared {
	return &Shared{
		data:  make(map[string]string),
		views: make(map[*View]struct{}),
	}
}

// View opens a new view, the equivalent of another tab on the same origin.
func (s *Shared) View() *View {
	v := &View{shared: s}
	s.mu.Lock()
	s.views[v] = struct{}{}
	s.mu.Unlock()
	return v
}

// Len returns the number of stored keys.
func (s *Shared) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// broadcast delivers ev to every watcher not owned by origin. Callers hold s.mu.
// A watcher whose buffer is full misses the event; the next refresh re-reads
// the value.
func (s *Shared) broadcast(origin *View, ev storage.ChangeEvent) {
	for v := range s.views {
		if v == origin {
			continue
		}
		for _, w := range v.watchers {
			select {
			case w.ch <- ev:
			default:
			}
		}
	}
}

type watcher struct {
	ch   chan storage.ChangeEvent
	done chan struct{}
}

// View is one handle on a Shared area. It implements storage.Backend.
type View struct {
	shared   *Shared
	watchers []*watcher
	closed   bool
}

var _ storage.Backend = (*View)(nil)

// Get implements storage.Backend.
func (v *View) Get(_ context.Context, key string) (string, bool, error) {
	v.shared.mu.Lock()
	defer v.shared.mu.Unlock()
	if v.closed {
		return "", false, storage.ErrClosed
	}
	val, ok := v.shared.data[key]
	return val, ok, nil
}

// Set implements storage.Backend. Writing the value a key already holds is
// not announced.
func (v *View) Set(_ context.Context, key, value string) error {
	v.shared.mu.Lock()
	defer v.shared.mu.Unlock()
	if v.closed {
		return storage.ErrClosed
	}
	old, existed := v.shared.data[key]
	v.shared.data[key] = value
	if existed && old == value {
		return nil
	}
	v.shared.broadcast(v, storage.ChangeEvent{Key: key, OldValue: old, NewValue: value})
	return nil
}

// Remove implements storage.Backend.
func (v *View) Remove(_ context.Context, key string) error {
	v.shared.mu.Lock()
	defer v.shared.mu.Unlock()
	if v.closed {
		return storage.ErrClosed
	}
	old, existed := v.shared.data[key]
	if !existed {
		return nil
	}
	delete(v.shared.data, key)
	v.shared.broadcast(v, storage.ChangeEvent{Key: key, OldValue: old})
	return nil
}

// Watch implements storage.Backend.
func (v *View) Watch(ctx context.Context) (<-chan storage.ChangeEvent, error) {
	v.shared.mu.Lock()
	defer v.shared.mu.Unlock()
	if v.closed {
		return nil, storage.ErrClosed
	}

	w := &watcher{
		ch:   make(chan storage.ChangeEvent, storage.WatchBuffer),
		done: make(chan struct{}),
	}
	v.watchers = append(v.watchers, w)

	go func() {
		select {
		case <-ctx.Done():
		case <-w.done:
			return
		}
		v.shared.mu.Lock()
		defer v.shared.mu.Unlock()
		v.dropWatcher(w)
	}()

	return w.ch, nil
}

// dropWatcher unregisters and closes w. Callers hold v.shared.mu.
func (v *View) dropWatcher(w *watcher) {
	for i, cur := range v.watchers {
		if cur == w {
			v.watchers = append(v.watchers[:i], v.watchers[i+1:]...)
			close(w.ch)
			return
		}
	}
}

// Close implements storage.Backend. The shared data outlives the view.
func (v *View) Close() error {
	v.shared.mu.Lock()
	defer v.shared.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	for _, w := range v.watchers {
		close(w.ch)
		close(w.done)
	}
	v.watchers = nil
	delete(v.shared.views, v)
	return nil
}
