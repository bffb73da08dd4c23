package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/internal/storage"
	"github.com/utafrali/storefront/pkg/logger"
)

func setupTestRedis(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func receive(t *testing.T, ch <-chan storage.ChangeEvent) storage.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "watch channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no change event")
		return storage.ChangeEvent{}
	}
}

// ---------------------------------------------------------------------------
// Key/value
// ---------------------------------------------------------------------------

func TestBackend_SetUsesNamespacedKey(t *testing.T) {
	client, mr := setupTestRedis(t)
	b := New(client, "shop", logger.Discard())
	defer b.Close()

	require.NoError(t, b.Set(context.Background(), "cartCount", `{"value":3,"timestamp":1}`))

	got, err := mr.Get("storefront:shop:cartCount")
	require.NoError(t, err)
	assert.Equal(t, `{"value":3,"timestamp":1}`, got)
}

func TestBackend_GetMissing(t *testing.T) {
	client, _ := setupTestRedis(t)
	b := New(client, "shop", logger.Discard())
	defer b.Close()

	_, ok, err := b.Get(context.Background(), "cartCount")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackend_GetReadsLegacyValue(t *testing.T) {
	client, mr := setupTestRedis(t)
	b := New(client, "shop", logger.Discard())
	defer b.Close()

	require.NoError(t, mr.Set("storefront:shop:wishlistCount", "4"))

	val, ok, err := b.Get(context.Background(), "wishlistCount")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "4", val)
}

func TestBackend_Remove(t *testing.T) {
	client, mr := setupTestRedis(t)
	b := New(client, "shop", logger.Discard())
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Set(ctx, "username", "ana"))
	require.NoError(t, b.Remove(ctx, "username"))
	assert.False(t, mr.Exists("storefront:shop:username"))

	assert.NoError(t, b.Remove(ctx, "username"))
}

func TestBackend_DefaultNamespace(t *testing.T) {
	client, _ := setupTestRedis(t)
	b := New(client, "", logger.Discard())
	assert.Equal(t, "storefront:default:changes", b.Channel())
}

func TestBackend_ConnectionError(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	b := New(client, "shop", logger.Discard())
	defer b.Close()

	_, _, err := b.Get(context.Background(), "cartCount")
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Change notifications
// ---------------------------------------------------------------------------

func TestWatch_DeliversOtherInstancesWrites(t *testing.T) {
	client, _ := setupTestRedis(t)
	writer := New(client, "shop", logger.Discard())
	reader := New(client, "shop", logger.Discard())
	defer writer.Close()
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := reader.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, writer.Set(ctx, "cartCount", "5"))

	ev := receive(t, ch)
	assert.Equal(t, "cartCount", ev.Key)
	assert.Equal(t, "5", ev.NewValue)
}

func TestWatch_SkipsOwnWrites(t *testing.T) {
	client, _ := setupTestRedis(t)
	b := New(client, "shop", logger.Discard())
	other := New(client, "shop", logger.Discard())
	defer b.Close()
	defer other.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Set(ctx, "cartCount", "1"))
	require.NoError(t, other.Set(ctx, "cartCount", "2"))

	// The first event seen must be the other instance's write.
	ev := receive(t, ch)
	assert.Equal(t, "2", ev.NewValue)
	assert.Equal(t, "1", ev.OldValue)
}

func TestWatch_IgnoresOtherNamespaces(t *testing.T) {
	client, _ := setupTestRedis(t)
	reader := New(client, "shop", logger.Discard())
	foreign := New(client, "outlet", logger.Discard())
	writer := New(client, "shop", logger.Discard())
	defer reader.Close()
	defer foreign.Close()
	defer writer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := reader.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, foreign.Set(ctx, "cartCount", "9"))
	require.NoError(t, writer.Set(ctx, "cartCount", "3"))

	ev := receive(t, ch)
	assert.Equal(t, "3", ev.NewValue)
}

func TestWatch_RemoveAnnounced(t *testing.T) {
	client, _ := setupTestRedis(t)
	writer := New(client, "shop", logger.Discard())
	reader := New(client, "shop", logger.Discard())
	defer writer.Close()
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, writer.Set(ctx, "wishlistCount", "2"))
	ch, err := reader.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, writer.Remove(ctx, "wishlistCount"))
	ev := receive(t, ch)
	assert.True(t, ev.Removed())
	assert.Equal(t, "2", ev.OldValue)
}

func TestWatch_MalformedNotificationSkipped(t *testing.T) {
	client, _ := setupTestRedis(t)
	reader := New(client, "shop", logger.Discard())
	writer := New(client, "shop", logger.Discard())
	defer reader.Close()
	defer writer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := reader.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, reader.Channel(), "not json").Err())
	payload, _ := json.Marshal(notification{Origin: "someone", ChangeEvent: storage.ChangeEvent{Key: "cartCount", NewValue: "8"}})
	require.NoError(t, client.Publish(ctx, reader.Channel(), payload).Err())

	ev := receive(t, ch)
	assert.Equal(t, "8", ev.NewValue)
}

func TestWatch_ClosedByContext(t *testing.T) {
	client, _ := setupTestRedis(t)
	b := New(client, "shop", logger.Discard())
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Watch(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("watch not closed")
	}
}

func TestClose_RejectsCalls(t *testing.T) {
	client, _ := setupTestRedis(t)
	b := New(client, "shop", logger.Discard())

	ch, err := b.Watch(context.Background())
	require.NoError(t, err)
	require.NoError(t, b.Close())

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("watch not closed")
	}

	assert.ErrorIs(t, b.Set(context.Background(), "k", "v"), storage.ErrClosed)
	_, err = b.Watch(context.Background())
	assert.ErrorIs(t, err, storage.ErrClosed)
}
