// Package storage defines the key/value persistence the counter cache sits on.
// A Backend plays the role of a browser tab's view of localStorage: values are
// plain strings and writes made through one view are announced to every other
// view of the same storage, never to the writer itself.
package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("storage: backend closed")

// ChangeEvent describes a write observed through another view. NewValue is
// empty when the key was removed.
type ChangeEvent struct {
	Key      string `json:"key"`
	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue"`
}

// Removed reports whether the event records a deletion.
func (e ChangeEvent) Removed() bool {
	return e.NewValue == ""
}

// Backend is a string key/value store with change notifications.
type Backend interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Watch streams changes made through other views until ctx is done or
	// the backend is closed, at which point the channel is closed.
	Watch(ctx context.Context) (<-chan ChangeEvent, error)

	// Close releases the backend and ends every watch.
	Close() error
}

// WatchBuffer is the channel capacity used for watch subscriptions.
const WatchBuffer = 64
