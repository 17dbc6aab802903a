package book

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironbook/internal/common"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func limitOrder(side common.Side, price, qty string) common.Order {
	p := dec(price)
	return common.NewOrder(uuid.New(), "BTC-USD", "user-1", side, common.Limit, &p, dec(qty), 1)
}

func TestAdd_OrdersPriceTimePriority(t *testing.T) {
	b := New("BTC-USD")

	o1 := limitOrder(common.Buy, "99", "100")
	o2 := limitOrder(common.Buy, "99", "90")
	o3 := limitOrder(common.Buy, "99", "80")

	require.NoError(t, b.Add(o1))
	require.NoError(t, b.Add(o2))
	require.NoError(t, b.Add(o3))

	maker, ok := b.NextMaker(common.Sell)
	require.True(t, ok)
	assert.Equal(t, o1.ID, maker.ID, "first order at a level should be the first maker")
}

func TestBestBidBestAsk(t *testing.T) {
	b := New("BTC-USD")

	require.NoError(t, b.Add(limitOrder(common.Buy, "99", "100")))
	require.NoError(t, b.Add(limitOrder(common.Buy, "98", "50")))
	require.NoError(t, b.Add(limitOrder(common.Sell, "101", "20")))
	require.NoError(t, b.Add(limitOrder(common.Sell, "100", "90")))

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Equal(dec("99")))

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Equal(dec("100")))
}

func TestRemove_EmptiesLevel(t *testing.T) {
	b := New("BTC-USD")
	o := limitOrder(common.Buy, "99", "100")
	require.NoError(t, b.Add(o))

	removed, ok := b.Remove(o.ID)
	require.True(t, ok)
	assert.True(t, removed.Quantity.Equal(dec("100")))

	_, ok = b.BestBid()
	assert.False(t, ok, "level should be gone once its only order is removed")
}

func TestUpdate_AdjustsRemainingWithoutRepositioning(t *testing.T) {
	b := New("BTC-USD")
	o := limitOrder(common.Buy, "99", "100")
	require.NoError(t, b.Add(o))

	o.Fill(dec("40"), dec("99"))
	require.NoError(t, b.Update(o))

	stored, ok := b.Get(o.ID)
	require.True(t, ok)
	assert.True(t, stored.RemainingQuantity.Equal(dec("60")))
}

func TestSnapshot_PreservesPriorityOrderAndDepth(t *testing.T) {
	b := New("BTC-USD")
	require.NoError(t, b.Add(limitOrder(common.Buy, "99", "100")))
	require.NoError(t, b.Add(limitOrder(common.Buy, "98", "50")))
	require.NoError(t, b.Add(limitOrder(common.Buy, "97", "10")))

	snap := b.Snapshot(2)
	require.Len(t, snap.Bids, 2)
	assert.True(t, snap.Bids[0].Price.Equal(dec("99")))
	assert.True(t, snap.Bids[1].Price.Equal(dec("98")))
}

func TestActiveOrders_ReflectsEveryRestingOrder(t *testing.T) {
	b := New("BTC-USD")
	o1 := limitOrder(common.Buy, "99", "100")
	o2 := limitOrder(common.Sell, "101", "20")
	require.NoError(t, b.Add(o1))
	require.NoError(t, b.Add(o2))

	active := b.ActiveOrders()
	assert.Len(t, active, 2)
}
