package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/storefront/internal/domain"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
)

// Backend topics the bridge consumes.
var (
	KafkaTopicCartUpdated     = pkgkafka.Topic("cart", "updated")
	KafkaTopicCartCleared     = pkgkafka.Topic("cart", "cleared")
	KafkaTopicWishlistUpdated = pkgkafka.Topic("wishlist", "updated")
)

// CartUpdatedData is the part of a cart.updated payload the bridge reads.
type CartUpdatedData struct {
	UserID    string `json:"user_id"`
	ItemCount int    `json:"item_count"`
}

// CartClearedData is the payload of cart.cleared.
type CartClearedData struct {
	UserID string `json:"user_id"`
}

// WishlistUpdatedData is the part of a wishlist.updated payload the bridge
// reads.
type WishlistUpdatedData struct {
	UserID    string `json:"user_id"`
	ItemCount int    `json:"item_count"`
}

// RemoteApplier accepts counts that are already authoritative.
type RemoteApplier interface {
	ApplyRemote(kind domain.Kind, n domain.Count)
}

// IdentityFunc resolves the shopper whose counts this agent displays.
type IdentityFunc func(ctx context.Context) string

// Bridge applies backend count events for the current shopper without a
// network round trip.
type Bridge struct {
	applier  RemoteApplier
	identity IdentityFunc
	logger   *slog.Logger
}

// NewBridge creates a bridge that feeds applier.
func NewBridge(applier RemoteApplier, identity IdentityFunc, logger *slog.Logger) *Bridge {
	return &Bridge{
		applier:  applier,
		identity: identity,
		logger:   logger,
	}
}

// Topics returns the Kafka topics the bridge handles.
func (b *Bridge) Topics() []string {
	return []string{KafkaTopicCartUpdated, KafkaTopicCartCleared, KafkaTopicWishlistUpdated}
}

// Handler returns the bridge wrapped with duplicate suppression.
func (b *Bridge) Handler(store pkgkafka.IdempotencyStore) pkgkafka.Handler {
	return pkgkafka.IdempotentHandler(store, b.Handle, b.logger)
}

// Handle implements pkgkafka.Handler. Events for other shoppers and unknown
// event types are ignored.
func (b *Bridge) Handle(ctx context.Context, ev *pkgkafka.Event) error {
	var (
		kind  domain.Kind
		user  string
		count int
	)

	switch ev.EventType {
	case KafkaTopicCartUpdated:
		var data CartUpdatedData
		if err := ev.UnmarshalData(&data); err != nil {
			return fmt.Errorf("decode %s: %w", ev.EventType, err)
		}
		kind, user, count = domain.KindCart, data.UserID, data.ItemCount
	case KafkaTopicCartCleared:
		var data CartClearedData
		if err := ev.UnmarshalData(&data); err != nil {
			return fmt.Errorf("decode %s: %w", ev.EventType, err)
		}
		kind, user, count = domain.KindCart, data.UserID, 0
	case KafkaTopicWishlistUpdated:
		var data WishlistUpdatedData
		if err := ev.UnmarshalData(&data); err != nil {
			return fmt.Errorf("decode %s: %w", ev.EventType, err)
		}
		kind, user, count = domain.KindWishlist, data.UserID, data.ItemCount
	default:
		b.logger.DebugContext(ctx, "ignoring event", slog.String("event_type", ev.EventType))
		return nil
	}

	if user == "" {
		user = ev.AggregateID
	}
	current := b.identity(ctx)
	if current == "" || user != current {
		return nil
	}

	b.applier.ApplyRemote(kind, domain.NormalizeCount(count))
	b.logger.DebugContext(ctx, "applied backend count",
		slog.String("event_type", ev.EventType),
		slog.String("kind", string(kind)),
		slog.Int("count", count),
	)
	return nil
}
