package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironbook/internal/common"
)

// fakeWAL is an in-memory stand-in for *wal.WAL: it just records every
// appended event in order, so tests can feed one engine's output into
// another without touching disk.
type fakeWAL struct {
	events []common.Event
}

func (f *fakeWAL) Append(sequenceNumber int64, timestampNs int64, event common.Event) error {
	f.events = append(f.events, event)
	return nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestEngine() (*Engine, *fakeWAL) {
	w := &fakeWAL{}
	e := New("BTC-USD", w, 0)
	e.clock = func() int64 { return 1 }
	return e, w
}

func placeLimit(t *testing.T, e *Engine, side common.Side, price, qty string) PlaceResult {
	t.Helper()
	p := dec(price)
	order := common.NewOrder(uuid.New(), "BTC-USD", "user", side, common.Limit, &p, dec(qty), e.clock())
	result, err := e.Place(order)
	require.NoError(t, err)
	return result
}

func placeMarket(t *testing.T, e *Engine, side common.Side, qty string) PlaceResult {
	t.Helper()
	order := common.NewOrder(uuid.New(), "BTC-USD", "user", side, common.Market, nil, dec(qty), e.clock())
	result, err := e.Place(order)
	require.NoError(t, err)
	return result
}

func placeIOC(t *testing.T, e *Engine, side common.Side, qty string) PlaceResult {
	t.Helper()
	order := common.NewOrder(uuid.New(), "BTC-USD", "user", side, common.IOC, nil, dec(qty), e.clock())
	result, err := e.Place(order)
	require.NoError(t, err)
	return result
}

// Scenario A: cross at maker price.
func TestScenarioA_CrossAtMakerPrice(t *testing.T) {
	e, _ := newTestEngine()
	placeLimit(t, e, common.Sell, "50", "10")
	result := placeLimit(t, e, common.Buy, "51", "5")

	require.Len(t, result.Trades, 1)
	assert.True(t, result.Trades[0].Quantity.Equal(dec("5")))
	assert.True(t, result.Trades[0].Price.Equal(dec("50")))
	assert.Nil(t, result.Residual)

	snap, _ := e.Snapshot(10)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].TotalQuantity.Equal(dec("5")))
}

// Scenario B: partial fill leaves resting.
func TestScenarioB_PartialFillLeavesResting(t *testing.T) {
	e, _ := newTestEngine()
	placeLimit(t, e, common.Sell, "50", "5")
	result := placeLimit(t, e, common.Buy, "51", "10")

	require.Len(t, result.Trades, 1)
	assert.True(t, result.Trades[0].Quantity.Equal(dec("5")))
	require.NotNil(t, result.Residual)
	assert.True(t, result.Residual.RemainingQuantity.Equal(dec("5")))

	snap, _ := e.Snapshot(10)
	require.Len(t, snap.Bids, 1)
	assert.True(t, snap.Bids[0].Price.Equal(dec("51")))
}

// Scenario C: market order sweeps multiple levels.
func TestScenarioC_MarketOrderSweepsMultipleLevels(t *testing.T) {
	e, _ := newTestEngine()
	placeLimit(t, e, common.Sell, "50", "5")
	placeLimit(t, e, common.Sell, "51", "5")
	placeLimit(t, e, common.Sell, "52", "5")

	result := placeMarket(t, e, common.Buy, "12")

	require.Len(t, result.Trades, 3)
	assert.True(t, result.Trades[0].Price.Equal(dec("50")))
	assert.True(t, result.Trades[1].Price.Equal(dec("51")))
	assert.True(t, result.Trades[2].Price.Equal(dec("52")))
	assert.True(t, result.Trades[2].Quantity.Equal(dec("2")))
	assert.Nil(t, result.Residual)

	snap, _ := e.Snapshot(10)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Price.Equal(dec("52")))
	assert.True(t, snap.Asks[0].TotalQuantity.Equal(dec("3")))
}

// Scenario D: IOC with insufficient liquidity.
func TestScenarioD_IOCWithInsufficientLiquidity(t *testing.T) {
	e, w := newTestEngine()
	placeLimit(t, e, common.Sell, "50", "5")
	result := placeIOC(t, e, common.Buy, "10")

	require.Len(t, result.Trades, 1)
	assert.True(t, result.Trades[0].Quantity.Equal(dec("5")))
	assert.Equal(t, common.PartiallyFilled, result.Status)

	var cancelled []common.OrderCancelled
	for _, ev := range w.events {
		if c, ok := ev.(common.OrderCancelled); ok {
			cancelled = append(cancelled, c)
		}
	}
	require.Len(t, cancelled, 1)
	assert.True(t, cancelled[0].CancelledQuantity.Equal(dec("5")))

	snap, _ := e.Snapshot(10)
	assert.Empty(t, snap.Asks)
	assert.Empty(t, snap.Bids, "IOC residual must never rest on the book")
}

// Scenario E: cancel removes cleanly.
func TestScenarioE_CancelRemovesCleanly(t *testing.T) {
	e, w := newTestEngine()
	p := dec("50")
	order := common.NewOrder(uuid.New(), "BTC-USD", "user", common.Buy, common.Limit, &p, dec("10"), 1)
	_, err := e.Place(order)
	require.NoError(t, err)

	ok, err := e.Cancel(order.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, found := e.Status(order.ID)
	assert.False(t, found)

	require.Len(t, w.events, 2)
	_, isPlaced := w.events[0].(common.OrderPlaced)
	_, isCancelled := w.events[1].(common.OrderCancelled)
	assert.True(t, isPlaced)
	assert.True(t, isCancelled)
}

// Scenario F: replay determinism.
func TestScenarioF_ReplayDeterminism(t *testing.T) {
	x, w := newTestEngine()

	placeLimit(t, x, common.Sell, "50", "10")
	placeLimit(t, x, common.Buy, "51", "5")
	placeLimit(t, x, common.Sell, "50", "5")
	placeLimit(t, x, common.Buy, "10", "5")
	placeMarket(t, x, common.Buy, "12")
	placeIOC(t, x, common.Buy, "10")

	order := placeLimit(t, x, common.Buy, "1", "5")
	require.NotNil(t, order.Residual)
	ok, err := x.Cancel(order.Residual.ID)
	require.NoError(t, err)
	require.True(t, ok)

	y := New("BTC-USD", &fakeWAL{}, 0)
	for _, ev := range w.events {
		require.NoError(t, y.Apply(ev))
	}

	xSnap, xSeq := x.Snapshot(100)
	ySnap, ySeq := y.Snapshot(100)
	assert.Equal(t, xSnap.Bids, ySnap.Bids)
	assert.Equal(t, xSnap.Asks, ySnap.Asks)
	assert.Equal(t, xSeq, ySeq)
	assert.ElementsMatch(t, x.ActiveOrders(), y.ActiveOrders())
}

// Invariant 1: conservation of quantity.
func TestInvariant_ConservationOfQuantity(t *testing.T) {
	e, _ := newTestEngine()
	placeLimit(t, e, common.Sell, "50", "7")
	result := placeLimit(t, e, common.Buy, "51", "10")

	var tradedQty decimal.Decimal
	for _, tr := range result.Trades {
		tradedQty = tradedQty.Add(tr.Quantity)
	}
	residualQty := decimal.Zero
	if result.Residual != nil {
		residualQty = result.Residual.RemainingQuantity
	}
	assert.True(t, tradedQty.Add(residualQty).Equal(dec("10")))
}

// Invariant 5: sequence monotonicity.
func TestInvariant_SequenceMonotonicity(t *testing.T) {
	e, w := newTestEngine()
	placeLimit(t, e, common.Buy, "50", "10")
	placeLimit(t, e, common.Sell, "50", "10")

	var last int64
	for i, ev := range w.events {
		if i == 0 {
			last = ev.SequenceNumber()
			continue
		}
		assert.Greater(t, ev.SequenceNumber(), last)
		last = ev.SequenceNumber()
	}
}

func TestMarketHaltsOnWALFailure(t *testing.T) {
	e := New("BTC-USD", failingWAL{}, 0)
	p := dec("50")
	order := common.NewOrder(uuid.New(), "BTC-USD", "user", common.Buy, common.Limit, &p, dec("1"), 1)

	_, err := e.Place(order)
	require.Error(t, err)

	halted, _ := e.Halted()
	assert.True(t, halted)

	_, err = e.Place(order)
	assert.ErrorIs(t, err, ErrMarketHalted)
}

type failingWAL struct{}

func (failingWAL) Append(sequenceNumber int64, timestampNs int64, event common.Event) error {
	return assertAppendError
}

var assertAppendError = errAppendFailed{}

type errAppendFailed struct{}

func (errAppendFailed) Error() string { return "simulated disk failure" }
