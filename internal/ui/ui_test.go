package ui

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestUpdater_PaintWritesTextAndClasses(t *testing.T) {
	board := NewBoard(2)
	u := NewUpdater(board, time.Hour, logger.Discard())
	defer u.Close()

	u.Paint(domain.KindCart, 3)
	for _, n := range board.Nodes(domain.KindCart) {
		assert.Equal(t, "3", n.Text())
		assert.Equal(t, []string{ClassHasItems}, n.Classes())
	}

	u.Paint(domain.KindCart, 0)
	for _, n := range board.Nodes(domain.KindCart) {
		assert.Equal(t, "0", n.Text())
		assert.Equal(t, []string{ClassEmpty}, n.Classes())
	}

	text, ok := board.Text(domain.KindWishlist)
	assert.True(t, ok)
	assert.Empty(t, text)
}

func TestUpdater_NegativePaintsZero(t *testing.T) {
	board := NewBoard(1)
	u := NewUpdater(board, time.Hour, logger.Discard())
	defer u.Close()

	u.Paint(domain.KindWishlist, -5)
	text, _ := board.Text(domain.KindWishlist)
	assert.Equal(t, "0", text)

	painted, ok := u.Painted(domain.KindWishlist)
	assert.True(t, ok)
	assert.Equal(t, 0, painted)
}

func TestUpdater_UpdateIsDebouncedPerKind(t *testing.T) {
	board := NewBoard(1)
	u := NewUpdater(board, 20*time.Millisecond, logger.Discard())
	defer u.Close()

	for i := 1; i <= 5; i++ {
		u.Update(domain.KindCart, i)
	}
	u.Update(domain.KindWishlist, 9)

	cart := board.Nodes(domain.KindCart)[0]
	wishlist := board.Nodes(domain.KindWishlist)[0]
	require.Eventually(t, func() bool {
		return cart.Text() == "5" && wishlist.Text() == "9"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, cart.Writes())
	assert.Equal(t, 1, wishlist.Writes())
}

func TestUpdater_FlushPaintsPending(t *testing.T) {
	board := NewBoard(1)
	u := NewUpdater(board, time.Hour, logger.Discard())
	defer u.Close()

	u.Update(domain.KindCart, 4)
	text, _ := board.Text(domain.KindCart)
	assert.Empty(t, text)

	u.Flush()
	text, _ = board.Text(domain.KindCart)
	assert.Equal(t, "4", text)
}

func TestUpdater_SkipsFailingBadges(t *testing.T) {
	board := NewBoard(2)
	nodes := board.Nodes(domain.KindCart)
	nodes[0].Detach()

	u := NewUpdater(board, time.Hour, logger.Discard())
	defer u.Close()

	u.Paint(domain.KindCart, 2)
	assert.Empty(t, nodes[0].Text())
	assert.Equal(t, "2", nodes[1].Text())
}

func TestUpdater_LocatesOnceWhenFound(t *testing.T) {
	var calls atomic.Int32
	node := NewNode()
	loc := LocatorFunc(func(kind domain.Kind) []Badge {
		calls.Add(1)
		if kind == domain.KindCart {
			return []Badge{node}
		}
		return nil
	})

	u := NewUpdater(loc, time.Hour, logger.Discard())
	defer u.Close()

	u.Paint(domain.KindCart, 1)
	u.Paint(domain.KindCart, 2)
	assert.Equal(t, int32(1), calls.Load())

	u.Paint(domain.KindWishlist, 1)
	u.Paint(domain.KindWishlist, 2)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "2", node.Text())
}

func TestUpdater_LaterNodesNotPickedUp(t *testing.T) {
	board := NewBoard(1)
	u := NewUpdater(board, time.Hour, logger.Discard())
	defer u.Close()

	u.Paint(domain.KindCart, 1)
	late := board.Add(domain.KindCart)
	u.Paint(domain.KindCart, 2)

	assert.Empty(t, late.Text())
}

func TestSelector(t *testing.T) {
	assert.Equal(t, ".cart-counter", Selector(domain.KindCart))
	assert.Equal(t, ".wishlist-counter", Selector(domain.KindWishlist))
}
