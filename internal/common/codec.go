package common

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// This file hand-rolls a compact binary encoding for Order/Trade/Event:
// fixed fields via encoding/binary, variable-length fields as a uint16
// length prefix followed by raw bytes. The WAL builds its records on these
// helpers and the snapshot package uses EncodeOrder/DecodeOrder; the wire
// protocol in internal/net keeps its own copies of the same primitives.

func writeUUID(buf *bytes.Buffer, id uuid.UUID) {
	buf.Write(id[:])
}

func readUUID(r *bytes.Reader) (uuid.UUID, error) {
	var id uuid.UUID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return uuid.Nil, fmt.Errorf("read uuid: %w", err)
	}
	return id, nil
}

func writeString(buf *bytes.Buffer, s string) {
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(s)))
	buf.Write(lenBytes[:])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var lenBytes [2]byte
	if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
		return "", fmt.Errorf("read string length: %w", err)
	}
	n := binary.BigEndian.Uint16(lenBytes[:])
	if n == 0 {
		return "", nil
	}
	strBytes := make([]byte, n)
	if _, err := io.ReadFull(r, strBytes); err != nil {
		return "", fmt.Errorf("read string body: %w", err)
	}
	return string(strBytes), nil
}

func writeDecimal(buf *bytes.Buffer, d decimal.Decimal) {
	writeString(buf, d.String())
}

func readDecimal(r *bytes.Reader) (decimal.Decimal, error) {
	s, err := readString(r)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// writeOptionalDecimal encodes a *decimal.Decimal as a presence byte
// followed by the decimal itself when present.
func writeOptionalDecimal(buf *bytes.Buffer, d *decimal.Decimal) {
	if d == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	writeDecimal(buf, *d)
}

func readOptionalDecimal(r *bytes.Reader) (*decimal.Decimal, error) {
	present, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read decimal presence: %w", err)
	}
	if present == 0 {
		return nil, nil
	}
	d, err := readDecimal(r)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func readInt64(r *bytes.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("read int64: %w", err)
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

// EncodeOrder appends the canonical byte representation of o to buf.
func EncodeOrder(buf *bytes.Buffer, o Order) {
	writeUUID(buf, o.ID)
	writeString(buf, o.MarketID)
	writeString(buf, o.UserID)
	buf.WriteByte(byte(o.Side))
	buf.WriteByte(byte(o.Type))
	writeOptionalDecimal(buf, o.Price)
	writeDecimal(buf, o.Quantity)
	writeDecimal(buf, o.RemainingQuantity)
	writeDecimal(buf, o.FilledQuantity)
	buf.WriteByte(byte(o.Status))
	writeInt64(buf, o.TimestampNs)
	writeInt64(buf, o.SequenceNumber)
}

// DecodeOrder reads an Order previously written by EncodeOrder.
func DecodeOrder(r *bytes.Reader) (Order, error) {
	var o Order
	var err error
	if o.ID, err = readUUID(r); err != nil {
		return o, err
	}
	if o.MarketID, err = readString(r); err != nil {
		return o, err
	}
	if o.UserID, err = readString(r); err != nil {
		return o, err
	}
	sideByte, err := r.ReadByte()
	if err != nil {
		return o, fmt.Errorf("read side: %w", err)
	}
	o.Side = Side(sideByte)
	typeByte, err := r.ReadByte()
	if err != nil {
		return o, fmt.Errorf("read order type: %w", err)
	}
	o.Type = OrderType(typeByte)
	if o.Price, err = readOptionalDecimal(r); err != nil {
		return o, err
	}
	if o.Quantity, err = readDecimal(r); err != nil {
		return o, err
	}
	if o.RemainingQuantity, err = readDecimal(r); err != nil {
		return o, err
	}
	if o.FilledQuantity, err = readDecimal(r); err != nil {
		return o, err
	}
	statusByte, err := r.ReadByte()
	if err != nil {
		return o, fmt.Errorf("read status: %w", err)
	}
	o.Status = OrderStatus(statusByte)
	if o.TimestampNs, err = readInt64(r); err != nil {
		return o, err
	}
	if o.SequenceNumber, err = readInt64(r); err != nil {
		return o, err
	}
	return o, nil
}

// EncodeTrade appends the canonical byte representation of t to buf.
func EncodeTrade(buf *bytes.Buffer, t Trade) {
	writeUUID(buf, t.ID)
	writeString(buf, t.MarketID)
	writeUUID(buf, t.TakerOrderID)
	writeUUID(buf, t.MakerOrderID)
	buf.WriteByte(byte(t.Side))
	writeDecimal(buf, t.Price)
	writeDecimal(buf, t.Quantity)
	writeInt64(buf, t.TimestampNs)
	writeInt64(buf, t.SequenceNumber)
}

// DecodeTrade reads a Trade previously written by EncodeTrade.
func DecodeTrade(r *bytes.Reader) (Trade, error) {
	var t Trade
	var err error
	if t.ID, err = readUUID(r); err != nil {
		return t, err
	}
	if t.MarketID, err = readString(r); err != nil {
		return t, err
	}
	if t.TakerOrderID, err = readUUID(r); err != nil {
		return t, err
	}
	if t.MakerOrderID, err = readUUID(r); err != nil {
		return t, err
	}
	sideByte, err := r.ReadByte()
	if err != nil {
		return t, fmt.Errorf("read side: %w", err)
	}
	t.Side = Side(sideByte)
	if t.Price, err = readDecimal(r); err != nil {
		return t, err
	}
	if t.Quantity, err = readDecimal(r); err != nil {
		return t, err
	}
	if t.TimestampNs, err = readInt64(r); err != nil {
		return t, err
	}
	if t.SequenceNumber, err = readInt64(r); err != nil {
		return t, err
	}
	return t, nil
}

// EncodeEvent produces the canonical serialisation of ev alone (no length
// prefix, no checksum) — exactly the bytes the WAL hashes for its
// checksum and the same bytes embedded in a WAL record's payload.
func EncodeEvent(ev Event) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(ev.Kind()))
	switch e := ev.(type) {
	case OrderPlaced:
		EncodeOrder(&buf, e.Order)
	case OrderCancelled:
		writeUUID(&buf, e.OrderID)
		writeString(&buf, e.MarketID)
		buf.WriteByte(byte(e.Side))
		writeOptionalDecimal(&buf, e.Price)
		writeDecimal(&buf, e.CancelledQuantity)
	case TradeExecuted:
		EncodeTrade(&buf, e.Trade)
	default:
		panic(fmt.Sprintf("common: unknown event type %T", ev))
	}
	return buf.Bytes()
}

// DecodeEvent parses bytes previously produced by EncodeEvent, re-attaching
// the given sequence number and timestamp (which the WAL/wire envelope
// carries separately from the event body).
func DecodeEvent(data []byte, seq int64, ts int64) (Event, error) {
	r := bytes.NewReader(data)
	kindByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read event kind: %w", err)
	}
	switch EventKind(kindByte) {
	case EventOrderPlaced:
		order, err := DecodeOrder(r)
		if err != nil {
			return nil, fmt.Errorf("decode OrderPlaced: %w", err)
		}
		return OrderPlaced{Order: order, Seq: seq, Ts: ts}, nil
	case EventOrderCancelled:
		orderID, err := readUUID(r)
		if err != nil {
			return nil, fmt.Errorf("decode OrderCancelled: %w", err)
		}
		marketID, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("decode OrderCancelled: %w", err)
		}
		sideByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("decode OrderCancelled side: %w", err)
		}
		price, err := readOptionalDecimal(r)
		if err != nil {
			return nil, fmt.Errorf("decode OrderCancelled: %w", err)
		}
		qty, err := readDecimal(r)
		if err != nil {
			return nil, fmt.Errorf("decode OrderCancelled: %w", err)
		}
		return OrderCancelled{
			OrderID:           orderID,
			MarketID:          marketID,
			Side:              Side(sideByte),
			Price:             price,
			CancelledQuantity: qty,
			Seq:               seq,
			Ts:                ts,
		}, nil
	case EventTradeExecuted:
		trade, err := DecodeTrade(r)
		if err != nil {
			return nil, fmt.Errorf("decode TradeExecuted: %w", err)
		}
		return TradeExecuted{Trade: trade, Seq: seq, Ts: ts}, nil
	default:
		return nil, fmt.Errorf("common: unknown event kind byte %d", kindByte)
	}
}
