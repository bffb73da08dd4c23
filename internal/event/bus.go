// Package event carries count changes between components. The Bus replaces
// the page's cart:updated and wishlist:updated DOM events with typed,
// synchronous publish/subscribe.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/utafrali/storefront/internal/domain"
)

// Topic names a bus channel.
type Topic string

// Topics published by item actions and the offline wishlist.
const (
	TopicCartUpdated     Topic = "cart:updated"
	TopicWishlistUpdated Topic = "wishlist:updated"
)

// TopicFor returns the update topic for kind.
func TopicFor(k domain.Kind) Topic {
	return Topic(k.Topic())
}

// KindOf returns the kind a topic reports on.
func KindOf(t Topic) (domain.Kind, bool) {
	switch t {
	case TopicCartUpdated:
		return domain.KindCart, true
	case TopicWishlistUpdated:
		return domain.KindWishlist, true
	default:
		return "", false
	}
}

// Event is one published update.
type Event struct {
	Topic   Topic
	Payload domain.BusPayload
}

// Handler receives events for the topics it subscribed to.
type Handler func(ctx context.Context, ev Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus dispatches events to subscribers on the publisher's goroutine, in
// subscription order.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic][]subscription
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[Topic][]subscription),
	}
}

// Subscribe registers h for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic Topic, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[topic]
			for i, s := range list {
				if s.id == id {
					b.subs[topic] = append(list[:i:i], list[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers payload to every subscriber of topic before returning.
// A panicking handler is logged and does not stop delivery to the others.
func (b *Bus) Publish(ctx context.Context, topic Topic, payload domain.BusPayload) {
	b.mu.RLock()
	list := make([]subscription, len(b.subs[topic]))
	copy(list, b.subs[topic])
	b.mu.RUnlock()

	ev := Event{Topic: topic, Payload: payload}
	for _, s := range list {
		b.deliver(ctx, s, ev)
	}
}

func (b *Bus) deliver(ctx context.Context, s subscription, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.ErrorContext(ctx, "bus handler panicked",
				slog.String("topic", string(ev.Topic)),
				slog.String("panic", fmt.Sprint(rec)),
			)
		}
	}()
	s.handler(ctx, ev)
}

// Subscribers returns the number of handlers registered for topic.
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
