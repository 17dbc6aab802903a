package common

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrMissingPrice    = errors.New("limit order requires a price")
	ErrUnexpectedPrice = errors.New("market/IOC order must not carry a price")
	ErrNonPositiveQty  = errors.New("quantity must be strictly positive")
)

// Order is the central entity of the book: a resting or in-flight request to
// buy or sell a fixed-point quantity at (at best) a fixed-point price.
type Order struct {
	ID                uuid.UUID
	MarketID          string
	UserID            string
	Side              Side
	Type              OrderType
	Price             *decimal.Decimal // present iff Type == Limit
	Quantity          decimal.Decimal  // original size, strictly positive
	RemainingQuantity decimal.Decimal
	FilledQuantity    decimal.Decimal
	Status            OrderStatus
	TimestampNs       int64
	SequenceNumber    int64
}

// NewOrder constructs a Pending order with remaining == quantity and
// filled == 0, as specified for order creation.
func NewOrder(id uuid.UUID, marketID, userID string, side Side, typ OrderType, price *decimal.Decimal, quantity decimal.Decimal, timestampNs int64) Order {
	return Order{
		ID:                id,
		MarketID:          marketID,
		UserID:            userID,
		Side:              side,
		Type:              typ,
		Price:             price,
		Quantity:          quantity,
		RemainingQuantity: quantity,
		FilledQuantity:    decimal.Zero,
		Status:            Pending,
		TimestampNs:       timestampNs,
	}
}

// Validate checks the invariants the engine boundary must enforce before any
// state mutation: price present iff Limit, quantity strictly positive.
func (o Order) Validate() error {
	if o.Type == Limit && o.Price == nil {
		return ErrMissingPrice
	}
	if o.Type != Limit && o.Price != nil {
		return ErrUnexpectedPrice
	}
	if !o.Quantity.IsPositive() {
		return ErrNonPositiveQty
	}
	return nil
}

// IsFilled reports whether the order has no remaining quantity.
func (o Order) IsFilled() bool {
	return o.RemainingQuantity.IsZero()
}

// Fill applies a fill of at most qty, updating RemainingQuantity,
// FilledQuantity and Status. price is the trade price; it is carried onto
// the resulting Trade by the caller and is not stored on the order itself.
// Returns the quantity actually filled (min(qty, remaining)).
func (o *Order) Fill(qty decimal.Decimal, price decimal.Decimal) decimal.Decimal {
	_ = price
	filled := decimal.Min(qty, o.RemainingQuantity)
	o.RemainingQuantity = o.RemainingQuantity.Sub(filled)
	o.FilledQuantity = o.FilledQuantity.Add(filled)
	if o.RemainingQuantity.IsZero() {
		o.Status = Filled
	} else {
		o.Status = PartiallyFilled
	}
	return filled
}

func (o Order) String() string {
	price := "n/a"
	if o.Price != nil {
		price = o.Price.String()
	}
	return fmt.Sprintf(
		"Order{id=%s market=%s user=%s side=%s type=%s price=%s qty=%s remaining=%s filled=%s status=%s seq=%d ts=%d}",
		o.ID, o.MarketID, o.UserID, o.Side, o.Type, price,
		o.Quantity, o.RemainingQuantity, o.FilledQuantity, o.Status, o.SequenceNumber, o.TimestampNs,
	)
}
