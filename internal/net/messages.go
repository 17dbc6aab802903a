// Package net implements the wire protocol clients use to place and cancel
// orders and to query status, plus the TCP server that serves it.
package net

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ironbook/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("net: invalid message type")
	ErrMessageTooShort    = errors.New("net: message too short")
)

// MessageType discriminates incoming client requests.
type MessageType uint16

const (
	NewOrder MessageType = iota
	CancelOrder
	StatusRequest
	LogBook
)

// ReportType discriminates outgoing server responses.
type ReportType uint8

const (
	ExecutionReport ReportType = iota
	ErrorReport
	StatusReport
)

// Message is any parsed client request.
type Message interface {
	GetType() MessageType
}

type baseMessage struct {
	typeOf MessageType
}

func (m baseMessage) GetType() MessageType { return m.typeOf }

// NewOrderMessage requests that an order be placed on a market.
type NewOrderMessage struct {
	baseMessage
	MarketID    string
	UserID      string
	Side        common.Side
	Type        common.OrderType
	Price       *decimal.Decimal
	Quantity    decimal.Decimal
	TimestampNs int64
}

// Order builds the domain Order this message describes, assigning it a
// fresh id.
func (m NewOrderMessage) Order() common.Order {
	return common.NewOrder(uuid.New(), m.MarketID, m.UserID, m.Side, m.Type, m.Price, m.Quantity, m.TimestampNs)
}

// CancelOrderMessage requests that a resting order be withdrawn.
type CancelOrderMessage struct {
	baseMessage
	MarketID string
	OrderID  uuid.UUID
}

// StatusRequestMessage asks for an order's current state.
type StatusRequestMessage struct {
	baseMessage
	MarketID string
	OrderID  uuid.UUID
}

// LogBookMessage asks the server to log the book for a market (diagnostic).
type LogBookMessage struct {
	baseMessage
	MarketID string
}

// parseMessage reads the 2-byte type tag off msg and dispatches to the
// matching per-type parser.
func parseMessage(msg []byte) (Message, error) {
	if len(msg) < 2 {
		return nil, ErrMessageTooShort
	}
	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	body := bytes.NewReader(msg[2:])
	switch typeOf {
	case NewOrder:
		return parseNewOrder(body)
	case CancelOrder:
		return parseCancelOrder(body)
	case StatusRequest:
		return parseStatusRequest(body)
	case LogBook:
		return parseLogBook(body)
	default:
		return nil, ErrInvalidMessageType
	}
}

func parseNewOrder(r *bytes.Reader) (NewOrderMessage, error) {
	var m NewOrderMessage
	m.typeOf = NewOrder

	marketID, err := readString(r)
	if err != nil {
		return m, fmt.Errorf("net: parse NewOrder market id: %w", err)
	}
	userID, err := readString(r)
	if err != nil {
		return m, fmt.Errorf("net: parse NewOrder user id: %w", err)
	}
	sideByte, err := r.ReadByte()
	if err != nil {
		return m, fmt.Errorf("net: parse NewOrder side: %w", err)
	}
	typeByte, err := r.ReadByte()
	if err != nil {
		return m, fmt.Errorf("net: parse NewOrder order type: %w", err)
	}
	price, err := readOptionalDecimal(r)
	if err != nil {
		return m, fmt.Errorf("net: parse NewOrder price: %w", err)
	}
	quantity, err := readDecimal(r)
	if err != nil {
		return m, fmt.Errorf("net: parse NewOrder quantity: %w", err)
	}
	ts, err := readInt64(r)
	if err != nil {
		return m, fmt.Errorf("net: parse NewOrder timestamp: %w", err)
	}

	m.MarketID = marketID
	m.UserID = userID
	m.Side = common.Side(sideByte)
	m.Type = common.OrderType(typeByte)
	m.Price = price
	m.Quantity = quantity
	m.TimestampNs = ts
	return m, nil
}

func parseCancelOrder(r *bytes.Reader) (CancelOrderMessage, error) {
	var m CancelOrderMessage
	m.typeOf = CancelOrder
	marketID, err := readString(r)
	if err != nil {
		return m, fmt.Errorf("net: parse CancelOrder market id: %w", err)
	}
	id, err := readUUID(r)
	if err != nil {
		return m, fmt.Errorf("net: parse CancelOrder: %w", err)
	}
	m.MarketID = marketID
	m.OrderID = id
	return m, nil
}

func parseStatusRequest(r *bytes.Reader) (StatusRequestMessage, error) {
	var m StatusRequestMessage
	m.typeOf = StatusRequest
	marketID, err := readString(r)
	if err != nil {
		return m, fmt.Errorf("net: parse StatusRequest market id: %w", err)
	}
	id, err := readUUID(r)
	if err != nil {
		return m, fmt.Errorf("net: parse StatusRequest: %w", err)
	}
	m.MarketID = marketID
	m.OrderID = id
	return m, nil
}

func parseLogBook(r *bytes.Reader) (LogBookMessage, error) {
	var m LogBookMessage
	m.typeOf = LogBook
	marketID, err := readString(r)
	if err != nil {
		return m, fmt.Errorf("net: parse LogBook: %w", err)
	}
	m.MarketID = marketID
	return m, nil
}

// Report is a response sent back to a client: a trade execution, an order
// status, or an error.
type Report struct {
	Type     ReportType
	OrderID  uuid.UUID
	MarketID string
	Side     common.Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Status   common.OrderStatus
	Err      string
}

// Serialize renders a Report onto the wire: a 1-byte type tag followed by
// fixed fields and the error string, length-prefixed.
func (r Report) Serialize() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(r.Type))
	writeUUID(&buf, r.OrderID)
	writeString(&buf, r.MarketID)
	buf.WriteByte(byte(r.Side))
	writeDecimal(&buf, r.Price)
	writeDecimal(&buf, r.Quantity)
	buf.WriteByte(byte(r.Status))
	writeString(&buf, r.Err)
	return buf.Bytes()
}

func executionReport(marketID string, trade common.Trade, side common.Side, orderID uuid.UUID, status common.OrderStatus) Report {
	return Report{
		Type:     ExecutionReport,
		OrderID:  orderID,
		MarketID: marketID,
		Side:     side,
		Price:    trade.Price,
		Quantity: trade.Quantity,
		Status:   status,
	}
}

func errorReport(orderID uuid.UUID, marketID string, err error) Report {
	return Report{
		Type:     ErrorReport,
		OrderID:  orderID,
		MarketID: marketID,
		Err:      err.Error(),
	}
}

func statusReport(order common.Order) Report {
	price := decimal.Zero
	if order.Price != nil {
		price = *order.Price
	}
	return Report{
		Type:     StatusReport,
		OrderID:  order.ID,
		MarketID: order.MarketID,
		Side:     order.Side,
		Price:    price,
		Quantity: order.RemainingQuantity,
		Status:   order.Status,
	}
}
