package engine

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ironbook/internal/book"
	"ironbook/internal/common"
)

// matchOrder sweeps the book against an incoming order, repeatedly pulling
// the best opposing maker and filling against it until the order is
// exhausted, the book side runs dry, or (for limit orders) the next maker no
// longer crosses. It returns the trades produced, any event stream to
// persist, and the order's residual if one remains. It mutates b and
// advances seq directly — callers (the engine facade) are responsible for
// holding whatever lock makes this safe and for persisting the returned
// events to the WAL in order before acknowledging the caller.
func matchOrder(b *book.OrderBook, seq *Sequence, order common.Order, nowNs func() int64) ([]common.Trade, *common.Order, []common.Event) {
	var trades []common.Trade
	var events []common.Event

	for order.RemainingQuantity.IsPositive() {
		maker, ok := b.NextMaker(order.Side)
		if !ok {
			break
		}

		if order.Type == common.Limit && !crosses(order, maker) {
			break
		}

		trade := executeTrade(b, seq, &order, maker, nowNs)
		trades = append(trades, trade)
		events = append(events, common.TradeExecuted{Trade: trade, Seq: trade.SequenceNumber, Ts: trade.TimestampNs})
	}

	switch {
	case order.Type == common.Limit && order.RemainingQuantity.IsPositive():
		seqNo := seq.Next()
		ts := nowNs()
		order.SequenceNumber = seqNo
		_ = b.Add(order)
		events = append(events, common.OrderPlaced{Order: order, Seq: seqNo, Ts: ts})
	case order.Type == common.IOC && order.RemainingQuantity.IsPositive():
		order.Status = common.Cancelled
		seqNo := seq.Next()
		ts := nowNs()
		events = append(events, common.OrderCancelled{
			OrderID:           order.ID,
			MarketID:          order.MarketID,
			Side:              order.Side,
			Price:             order.Price,
			CancelledQuantity: order.RemainingQuantity,
			Seq:               seqNo,
			Ts:                ts,
		})
	case order.Type == common.Market && order.RemainingQuantity.IsPositive():
		// A market order that runs out of liquidity simply stops: its
		// residual is reported back to the caller but never rests on the
		// book and never gets an event of its own.
	}

	var residual *common.Order
	if order.RemainingQuantity.IsPositive() {
		residualCopy := order
		residual = &residualCopy
	}
	return trades, residual, events
}

// crosses reports whether a limit taker's price allows it to trade against
// maker: buy crosses iff taker.price >= maker.price; sell crosses iff
// taker.price <= maker.price. Market and IOC orders always cross (callers
// don't call crosses for them).
func crosses(taker common.Order, maker common.Order) bool {
	if taker.Side == common.Buy {
		return taker.Price.GreaterThanOrEqual(*maker.Price)
	}
	return taker.Price.LessThanOrEqual(*maker.Price)
}

// executeTrade fills the taker (in place) and the maker (fetched fresh from
// the book, mutated, then written back or removed), and returns the Trade
// struct recording the fill. trade_price is always the maker's limit price.
func executeTrade(b *book.OrderBook, seq *Sequence, taker *common.Order, maker common.Order, nowNs func() int64) common.Trade {
	tradePrice := *maker.Price
	tradeQty := decimal.Min(taker.RemainingQuantity, maker.RemainingQuantity)

	taker.Fill(tradeQty, tradePrice)
	maker.Fill(tradeQty, tradePrice)

	if maker.IsFilled() {
		b.Remove(maker.ID)
	} else {
		_ = b.Update(maker)
	}

	return common.Trade{
		ID:             uuid.New(),
		MarketID:       taker.MarketID,
		TakerOrderID:   taker.ID,
		MakerOrderID:   maker.ID,
		Side:           taker.Side,
		Price:          tradePrice,
		Quantity:       tradeQty,
		TimestampNs:    nowNs(),
		SequenceNumber: seq.Next(),
	}
}

// cancelOrder implements the out-of-band cancellation path: look up the
// order, and if present and its market matches, remove it and emit exactly
// one OrderCancelled event with a fresh sequence number.
func cancelOrder(b *book.OrderBook, seq *Sequence, orderID uuid.UUID, marketID string, nowNs func() int64) (common.Event, bool) {
	order, ok := b.Get(orderID)
	if !ok || order.MarketID != marketID {
		return nil, false
	}
	b.Remove(orderID)
	seqNo := seq.Next()
	return common.OrderCancelled{
		OrderID:           order.ID,
		MarketID:          order.MarketID,
		Side:              order.Side,
		Price:             order.Price,
		CancelledQuantity: order.RemainingQuantity,
		Seq:               seqNo,
		Ts:                nowNs(),
	}, true
}
