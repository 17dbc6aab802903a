package book

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ironbook/internal/common"
)

// PriceLevel is the insertion-ordered FIFO queue of resting orders at a
// single (side, price), plus the running sum of their remaining quantity.
// Orders are always appended to the tail, so arrival order is exactly
// insertion order — no secondary tie-break key is needed inside a level.
type PriceLevel struct {
	Price         decimal.Decimal
	Orders        []common.Order
	TotalQuantity decimal.Decimal
}

func newPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{Price: price, TotalQuantity: decimal.Zero}
}

// add appends an order to the tail of the level.
func (l *PriceLevel) add(order common.Order) {
	l.Orders = append(l.Orders, order)
	l.TotalQuantity = l.TotalQuantity.Add(order.RemainingQuantity)
}

// remove deletes the order with the given id, preserving FIFO order of the
// rest. Reports whether the level is now empty.
func (l *PriceLevel) remove(id uuid.UUID) (common.Order, bool, bool) {
	for i, o := range l.Orders {
		if o.ID == id {
			removed := o
			l.Orders = append(l.Orders[:i], l.Orders[i+1:]...)
			l.TotalQuantity = l.TotalQuantity.Sub(removed.RemainingQuantity)
			return removed, true, len(l.Orders) == 0
		}
	}
	return common.Order{}, false, false
}

// replace overwrites the stored order matching updated.ID in place,
// adjusting the level's aggregate by the quantity delta, without
// repositioning it within the level.
func (l *PriceLevel) replace(updated common.Order) bool {
	for i, o := range l.Orders {
		if o.ID == updated.ID {
			delta := updated.RemainingQuantity.Sub(o.RemainingQuantity)
			l.Orders[i] = updated
			l.TotalQuantity = l.TotalQuantity.Add(delta)
			return true
		}
	}
	return false
}

// LevelView is the read-only (price, total_quantity, order_count) tuple
// returned by Snapshot.
type LevelView struct {
	Price         decimal.Decimal
	TotalQuantity decimal.Decimal
	OrderCount    int
}
