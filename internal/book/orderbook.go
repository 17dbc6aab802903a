// Package book implements a limit order book: bid/ask price-level
// containers plus an order-id index, ordered for price-time priority
// matching.
//
// Bids and asks are each a github.com/tidwall/btree.BTreeG[*PriceLevel],
// ordered so that Min() always yields the best price, with decimal.Decimal
// used for price comparison instead of floats to avoid rounding drift. The
// book holds no lock of its own: the match-and-append critical section
// spans both the book and the WAL, so the caller (the engine facade) is
// expected to serialize access itself.
package book

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"ironbook/internal/common"
)

var ErrOrderNotFound = errors.New("book: order not found")

// indexEntry records enough to locate an order's PriceLevel for removal or
// in-place replacement without re-deriving the level key from scratch.
type indexEntry struct {
	side  common.Side
	price decimal.Decimal
}

// OrderBook holds one market's bids and asks. It is not internally
// synchronized; callers (the engine facade) must serialize access.
type OrderBook struct {
	MarketID string

	bids *btree.BTreeG[*PriceLevel]
	asks *btree.BTreeG[*PriceLevel]

	index map[uuid.UUID]indexEntry
}

// New constructs an empty order book for a market.
func New(marketID string) *OrderBook {
	return &OrderBook{
		MarketID: marketID,
		// Descending: the highest bid sorts first.
		bids: btree.NewBTreeG(func(a, b *PriceLevel) bool {
			return a.Price.GreaterThan(b.Price)
		}),
		// Ascending: the lowest ask sorts first.
		asks: btree.NewBTreeG(func(a, b *PriceLevel) bool {
			return a.Price.LessThan(b.Price)
		}),
		index: make(map[uuid.UUID]indexEntry),
	}
}

func (b *OrderBook) sideTree(side common.Side) *btree.BTreeG[*PriceLevel] {
	if side == common.Buy {
		return b.bids
	}
	return b.asks
}

// Add inserts a limit order at the tail of its price level, creating the
// level if it does not yet exist. The order must already have Price set and
// RemainingQuantity > 0.
func (b *OrderBook) Add(order common.Order) error {
	if order.Price == nil {
		return common.ErrMissingPrice
	}
	if !order.RemainingQuantity.IsPositive() {
		return common.ErrNonPositiveQty
	}

	tree := b.sideTree(order.Side)
	probe := &PriceLevel{Price: *order.Price}
	level, ok := tree.GetMut(probe)
	if !ok {
		level = newPriceLevel(*order.Price)
		tree.Set(level)
	}
	level.add(order)
	b.index[order.ID] = indexEntry{side: order.Side, price: *order.Price}
	return nil
}

// Remove deletes the order with the given id from the book, removing its
// price level if it becomes empty. Reports whether the order was present.
func (b *OrderBook) Remove(id uuid.UUID) (common.Order, bool) {
	entry, ok := b.index[id]
	if !ok {
		return common.Order{}, false
	}
	tree := b.sideTree(entry.side)
	probe := &PriceLevel{Price: entry.price}
	level, ok := tree.GetMut(probe)
	if !ok {
		delete(b.index, id)
		return common.Order{}, false
	}
	removed, found, empty := level.remove(id)
	if !found {
		delete(b.index, id)
		return common.Order{}, false
	}
	delete(b.index, id)
	if empty {
		tree.Delete(probe)
	}
	return removed, true
}

// Update overwrites the stored copy of an order already in the book with
// the given (already-filled) order, adjusting the level's aggregate
// quantity. It does not reposition the order within its level.
func (b *OrderBook) Update(order common.Order) error {
	entry, ok := b.index[order.ID]
	if !ok {
		return ErrOrderNotFound
	}
	tree := b.sideTree(entry.side)
	probe := &PriceLevel{Price: entry.price}
	level, ok := tree.GetMut(probe)
	if !ok {
		return ErrOrderNotFound
	}
	if !level.replace(order) {
		return ErrOrderNotFound
	}
	return nil
}

// Get returns a copy of the stored order, if present.
func (b *OrderBook) Get(id uuid.UUID) (common.Order, bool) {
	entry, ok := b.index[id]
	if !ok {
		return common.Order{}, false
	}
	tree := b.sideTree(entry.side)
	level, ok := tree.GetMut(&PriceLevel{Price: entry.price})
	if !ok {
		return common.Order{}, false
	}
	for _, o := range level.Orders {
		if o.ID == id {
			return o, true
		}
	}
	return common.Order{}, false
}

// BestBid returns the highest bid price, if any bids rest on the book.
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	level, ok := b.bids.Min()
	if !ok {
		return decimal.Zero, false
	}
	return level.Price, true
}

// BestAsk returns the lowest ask price, if any asks rest on the book.
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	level, ok := b.asks.Min()
	if !ok {
		return decimal.Zero, false
	}
	return level.Price, true
}

// NextMaker returns a copy of the first resting order on the side opposite
// takerSide, under price-time priority — the candidate the matching core
// should try to cross against next.
func (b *OrderBook) NextMaker(takerSide common.Side) (common.Order, bool) {
	var opposite *btree.BTreeG[*PriceLevel]
	if takerSide == common.Buy {
		opposite = b.asks
	} else {
		opposite = b.bids
	}
	level, ok := opposite.Min()
	if !ok || len(level.Orders) == 0 {
		return common.Order{}, false
	}
	return level.Orders[0], true
}

// Snapshot returns the top-depth price levels per side, preserving priority
// order, as (price, total_quantity, order_count) tuples.
func (b *OrderBook) Snapshot(depth int) Snapshot {
	return Snapshot{
		MarketID: b.MarketID,
		Bids:     topLevels(b.bids, depth),
		Asks:     topLevels(b.asks, depth),
	}
}

func topLevels(tree *btree.BTreeG[*PriceLevel], depth int) []LevelView {
	if depth <= 0 {
		return nil
	}
	views := make([]LevelView, 0, depth)
	tree.Scan(func(level *PriceLevel) bool {
		views = append(views, LevelView{
			Price:         level.Price,
			TotalQuantity: level.TotalQuantity,
			OrderCount:    len(level.Orders),
		})
		return len(views) < depth
	})
	return views
}

// Snapshot is the book's current top-depth view for one market.
type Snapshot struct {
	MarketID string
	Bids     []LevelView
	Asks     []LevelView
}

// ActiveOrders returns a copy of every order currently resting in the book,
// for use by the snapshot manager's active_orders payload field.
func (b *OrderBook) ActiveOrders() []common.Order {
	orders := make([]common.Order, 0, len(b.index))
	for id := range b.index {
		if o, ok := b.Get(id); ok {
			orders = append(orders, o)
		}
	}
	return orders
}
