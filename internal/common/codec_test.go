package common

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeOrder_RoundTrips(t *testing.T) {
	price := decimal.RequireFromString("123.456")
	order := NewOrder(uuid.New(), "BTC-USD", "user-1", Sell, Limit, &price, decimal.RequireFromString("10"), 42)
	order.SequenceNumber = 7

	var buf bytes.Buffer
	EncodeOrder(&buf, order)

	decoded, err := DecodeOrder(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, order.ID, decoded.ID)
	assert.Equal(t, order.MarketID, decoded.MarketID)
	assert.True(t, decoded.Price.Equal(*order.Price))
	assert.True(t, decoded.Quantity.Equal(order.Quantity))
	assert.Equal(t, order.SequenceNumber, decoded.SequenceNumber)
}

func TestEncodeDecodeOrder_NilPriceRoundTrips(t *testing.T) {
	order := NewOrder(uuid.New(), "BTC-USD", "user-1", Buy, Market, nil, decimal.RequireFromString("5"), 1)

	var buf bytes.Buffer
	EncodeOrder(&buf, order)

	decoded, err := DecodeOrder(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Nil(t, decoded.Price)
}

func TestEncodeDecodeEvent_AllVariantsRoundTrip(t *testing.T) {
	price := decimal.RequireFromString("50")
	order := NewOrder(uuid.New(), "BTC-USD", "user-1", Buy, Limit, &price, decimal.RequireFromString("10"), 1)

	events := []Event{
		OrderPlaced{Order: order, Seq: 1, Ts: 100},
		OrderCancelled{
			OrderID:           order.ID,
			MarketID:          "BTC-USD",
			Side:              Buy,
			Price:             &price,
			CancelledQuantity: decimal.RequireFromString("3"),
			Seq:               2,
			Ts:                200,
		},
		TradeExecuted{
			Trade: Trade{
				ID:             uuid.New(),
				MarketID:       "BTC-USD",
				TakerOrderID:   uuid.New(),
				MakerOrderID:   order.ID,
				Side:           Buy,
				Price:          price,
				Quantity:       decimal.RequireFromString("5"),
				TimestampNs:    300,
				SequenceNumber: 3,
			},
			Seq: 3,
			Ts:  300,
		},
	}

	for _, ev := range events {
		encoded := EncodeEvent(ev)
		decoded, err := DecodeEvent(encoded, ev.SequenceNumber(), ev.TimestampNs())
		require.NoError(t, err)
		assert.Equal(t, ev.Kind(), decoded.Kind())
	}
}
