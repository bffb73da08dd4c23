// Package debounce collapses bursts of calls into one trailing-edge call.
package debounce

import (
	"sync"
	"time"
)

// Debouncer delivers the last value passed to Call once no further call has
// arrived for the configured wait. There is no leading-edge invocation.
type Debouncer[T any] struct {
	wait time.Duration
	fn   func(T)

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	value   T
	gen     uint64
	stopped bool
}

// New returns a Debouncer that invokes fn after wait of quiet.
func New[T any](wait time.Duration, fn func(T)) *Debouncer[T] {
	return &Debouncer[T]{wait: wait, fn: fn}
}

// Call records v and restarts the quiet period. Calls after Stop are ignored.
func (d *Debouncer[T]) Call(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.value = v
	d.pending = true
	d.gen++
	gen := d.gen

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, func() { d.fire(gen) })
}

// fire runs fn only if no later Call or Flush superseded generation gen.
func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	if !d.pending || gen != d.gen {
		d.mu.Unlock()
		return
	}
	v := d.value
	d.pending = false
	d.mu.Unlock()

	d.fn(v)
}

// Flush runs a pending call immediately on the caller's goroutine.
// It reports whether a call was pending.
func (d *Debouncer[T]) Flush() bool {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	v := d.value
	d.pending = false
	d.gen++
	d.mu.Unlock()

	d.fn(v)
	return true
}

// Pending reports whether a call is waiting for its quiet period to end.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop discards any pending call and makes later calls no-ops.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.pending = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
