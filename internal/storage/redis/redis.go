// Package redis implements storage.Backend on Redis so that several agent
// instances share one storage area. Writes are announced on a pub/sub channel
// tagged with the writer's instance ID.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront/internal/storage"
)

const keyPrefix = "storefront:"

type notification struct {
	Origin string `json:"origin"`
	storage.ChangeEvent
}

// Backend implements storage.Backend using Redis.
type Backend struct {
	client   redis.UniversalClient
	prefix   string
	channel  string
	instance string
	logger   *slog.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

var _ storage.Backend = (*Backend)(nil)

// New creates a Redis backend scoped to namespace. The client is owned by the
// caller and is not closed by Close.
func New(client redis.UniversalClient, namespace string, logger *slog.Logger) *Backend {
	if namespace == "" {
		namespace = "default"
	}
	prefix := keyPrefix + namespace + ":"
	return &Backend{
		client:   client,
		prefix:   prefix,
		channel:  prefix + "changes",
		instance: uuid.NewString(),
		logger:   logger,
	}
}

// InstanceID returns the tag attached to this backend's notifications.
func (b *Backend) InstanceID() string {
	return b.instance
}

// Channel returns the pub/sub channel used for change notifications.
func (b *Backend) Channel() string {
	return b.channel
}

func (b *Backend) key(k string) string {
	return b.prefix + k
}

func (b *Backend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Get implements storage.Backend.
func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	if b.isClosed() {
		return "", false, storage.ErrClosed
	}
	val, err := b.client.Get(ctx, b.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// Set implements storage.Backend.
func (b *Backend) Set(ctx context.Context, key, value string) error {
	if b.isClosed() {
		return storage.ErrClosed
	}
	old, err := b.client.Get(ctx, b.key(key)).Result()
	existed := err == nil
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := b.client.Set(ctx, b.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	if existed && old == value {
		return nil
	}
	return b.publish(ctx, storage.ChangeEvent{Key: key, OldValue: old, NewValue: value})
}

// Remove implements storage.Backend.
func (b *Backend) Remove(ctx context.Context, key string) error {
	if b.isClosed() {
		return storage.ErrClosed
	}
	old, err := b.client.GetDel(ctx, b.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return b.publish(ctx, storage.ChangeEvent{Key: key, OldValue: old})
}

func (b *Backend) publish(ctx context.Context, ev storage.ChangeEvent) error {
	payload, err := json.Marshal(notification{Origin: b.instance, ChangeEvent: ev})
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", ev.Key, err)
	}
	return nil
}

// Watch implements storage.Backend. The subscription is confirmed before
// Watch returns, so writes made after it are never missed.
func (b *Backend) Watch(ctx context.Context) (<-chan storage.ChangeEvent, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, storage.ErrClosed
	}
	sub := b.client.Subscribe(ctx, b.channel)
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}

	out := make(chan storage.ChangeEvent, storage.WatchBuffer)
	msgs := sub.Channel()

	go func() {
		defer close(out)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var n notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					b.logger.Warn("dropping malformed storage notification",
						slog.String("channel", msg.Channel),
						slog.String("error", err.Error()),
					)
					continue
				}
				if n.Origin == b.instance {
					continue
				}
				select {
				case out <- n.ChangeEvent:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close implements storage.Backend. It ends every watch but leaves the
// client open.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, sub := range b.subs {
		// A watch that ended with its context has already closed its sub.
		_ = sub.Close()
	}
	b.subs = nil
	return nil
}
