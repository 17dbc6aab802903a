package net

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

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
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", fmt.Errorf("read string body: %w", err)
	}
	return string(body), nil
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
