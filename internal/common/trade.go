package common

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade is emitted whenever the matching core crosses two orders. It is
// immutable once constructed.
type Trade struct {
	ID             uuid.UUID
	MarketID       string
	TakerOrderID   uuid.UUID
	MakerOrderID   uuid.UUID
	Side           Side // taker's side
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	TimestampNs    int64
	SequenceNumber int64
}

func (t Trade) String() string {
	return fmt.Sprintf(
		"Trade{id=%s market=%s taker=%s maker=%s side=%s price=%s qty=%s seq=%d ts=%d}",
		t.ID, t.MarketID, t.TakerOrderID, t.MakerOrderID, t.Side, t.Price, t.Quantity, t.SequenceNumber, t.TimestampNs,
	)
}
