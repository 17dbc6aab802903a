package common

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventKind discriminates the concrete Event implementations, doubling as
// the WAL's one-byte record tag.
type EventKind uint8

const (
	EventOrderPlaced EventKind = iota
	EventOrderCancelled
	EventTradeExecuted
)

// Event is a sealed interface with one concrete struct per variant, each
// self-discriminating via Kind() the way this codebase's wire messages
// discriminate themselves.
type Event interface {
	Kind() EventKind
	SequenceNumber() int64
	TimestampNs() int64
}

// OrderPlaced fires when a limit order rests on the book with whatever
// quantity remains after matching. Replaying it (Engine.Apply) inserts the
// carried order into the book.
type OrderPlaced struct {
	Order OrderInfo
	Seq   int64
	Ts    int64
}

func (e OrderPlaced) Kind() EventKind        { return EventOrderPlaced }
func (e OrderPlaced) SequenceNumber() int64  { return e.Seq }
func (e OrderPlaced) TimestampNs() int64     { return e.Ts }

// OrderCancelled fires whenever an order leaves the book without being
// fully filled: an explicit cancel, or an IOC's unfilled residual.
type OrderCancelled struct {
	OrderID           uuid.UUID
	MarketID          string
	Side              Side
	Price             *decimal.Decimal
	CancelledQuantity decimal.Decimal
	Seq               int64
	Ts                int64
}

func (e OrderCancelled) Kind() EventKind       { return EventOrderCancelled }
func (e OrderCancelled) SequenceNumber() int64 { return e.Seq }
func (e OrderCancelled) TimestampNs() int64    { return e.Ts }

// TradeExecuted fires once per crossed pair of orders.
type TradeExecuted struct {
	Trade Trade
	Seq   int64
	Ts    int64
}

func (e TradeExecuted) Kind() EventKind       { return EventTradeExecuted }
func (e TradeExecuted) SequenceNumber() int64 { return e.Seq }
func (e TradeExecuted) TimestampNs() int64    { return e.Ts }

// OrderInfo is the Order snapshot carried by OrderPlaced: a plain value
// copy, never mutated after the event is emitted.
type OrderInfo = Order
