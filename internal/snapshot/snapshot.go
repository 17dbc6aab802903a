// Package snapshot persists point-in-time book state to local disk so a
// market can be restarted without replaying its entire event log from the
// beginning. It is never the source of truth: the write-ahead log is, and a
// loaded snapshot always needs the WAL replayed forward from its sequence
// number to be current. Only local disk is supported; there is no remote
// storage backend.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"ironbook/internal/book"
	"ironbook/internal/common"
)

func decimalFromString(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("snapshot: parse decimal %q: %w", s, err)
	}
	return d, nil
}

var ErrNotFound = errors.New("snapshot: no snapshot file found")

// State is the full payload persisted for one market: its top-of-book view,
// every order still resting, and the sequence number it was taken at.
type State struct {
	MarketID       string
	SequenceNumber int64
	TimestampNs    int64
	Book           book.Snapshot
	ActiveOrders   []common.Order
}

// Manager saves and loads State payloads under dir, one file per
// (market, sequence) pair.
type Manager struct {
	dir string
}

// NewManager constructs a manager rooted at dir, creating it if necessary.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create directory %s: %w", dir, err)
	}
	return &Manager{dir: dir}, nil
}

func (m *Manager) fileName(marketID string, seq int64) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s.%020d.snap", marketID, seq))
}

// Save writes state to disk under a name keyed by market id and sequence
// number, so FindLatest can select the newest by lexical sort.
func (m *Manager) Save(state State) error {
	var buf bytes.Buffer
	encodeState(&buf, state)
	path := m.fileName(state.MarketID, state.SequenceNumber)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("snapshot: rename into place %s: %w", path, err)
	}
	return nil
}

// Load reads and decodes the snapshot file at path.
func (m *Manager) Load(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	return decodeState(bytes.NewReader(data))
}

// FindLatest returns the path of the newest snapshot for marketID, or
// ErrNotFound if none exists.
func (m *Manager) FindLatest(marketID string) (string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return "", fmt.Errorf("snapshot: read directory %s: %w", m.dir, err)
	}

	prefix := marketID + "."
	var candidates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".snap") {
			candidates = append(candidates, e.Name())
		}
	}
	if len(candidates) == 0 {
		return "", ErrNotFound
	}
	sort.Strings(candidates)
	return filepath.Join(m.dir, candidates[len(candidates)-1]), nil
}

func encodeState(buf *bytes.Buffer, s State) {
	writeString(buf, s.MarketID)
	writeInt64(buf, s.SequenceNumber)
	writeInt64(buf, s.TimestampNs)

	writeInt64(buf, int64(len(s.Book.Bids)))
	for _, lv := range s.Book.Bids {
		writeLevel(buf, lv)
	}
	writeInt64(buf, int64(len(s.Book.Asks)))
	for _, lv := range s.Book.Asks {
		writeLevel(buf, lv)
	}

	writeInt64(buf, int64(len(s.ActiveOrders)))
	for _, o := range s.ActiveOrders {
		common.EncodeOrder(buf, o)
	}
}

func writeLevel(buf *bytes.Buffer, lv book.LevelView) {
	writeString(buf, lv.Price.String())
	writeString(buf, lv.TotalQuantity.String())
	writeInt64(buf, int64(lv.OrderCount))
}

func decodeState(r *bytes.Reader) (State, error) {
	var s State
	var err error

	if s.MarketID, err = readString(r); err != nil {
		return s, err
	}
	if s.SequenceNumber, err = readInt64(r); err != nil {
		return s, err
	}
	if s.TimestampNs, err = readInt64(r); err != nil {
		return s, err
	}

	s.Book.MarketID = s.MarketID
	if s.Book.Bids, err = readLevels(r); err != nil {
		return s, err
	}
	if s.Book.Asks, err = readLevels(r); err != nil {
		return s, err
	}

	n, err := readInt64(r)
	if err != nil {
		return s, err
	}
	s.ActiveOrders = make([]common.Order, 0, n)
	for i := int64(0); i < n; i++ {
		o, err := common.DecodeOrder(r)
		if err != nil {
			return s, fmt.Errorf("snapshot: decode active order %d: %w", i, err)
		}
		s.ActiveOrders = append(s.ActiveOrders, o)
	}
	return s, nil
}

func readLevels(r *bytes.Reader) ([]book.LevelView, error) {
	n, err := readInt64(r)
	if err != nil {
		return nil, err
	}
	levels := make([]book.LevelView, 0, n)
	for i := int64(0); i < n; i++ {
		lv, err := readLevel(r)
		if err != nil {
			return nil, fmt.Errorf("snapshot: decode level %d: %w", i, err)
		}
		levels = append(levels, lv)
	}
	return levels, nil
}

func readLevel(r *bytes.Reader) (book.LevelView, error) {
	var lv book.LevelView
	priceStr, err := readString(r)
	if err != nil {
		return lv, err
	}
	price, err := decimalFromString(priceStr)
	if err != nil {
		return lv, err
	}
	qtyStr, err := readString(r)
	if err != nil {
		return lv, err
	}
	qty, err := decimalFromString(qtyStr)
	if err != nil {
		return lv, err
	}
	count, err := readInt64(r)
	if err != nil {
		return lv, err
	}
	lv.Price = price
	lv.TotalQuantity = qty
	lv.OrderCount = int(count)
	return lv, nil
}

func writeString(buf *bytes.Buffer, s string) {
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(s)))
	buf.Write(lenBytes[:])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var lenBytes [2]byte
	if _, err := readFull(r, lenBytes[:]); err != nil {
		return "", fmt.Errorf("snapshot: read string length: %w", err)
	}
	n := binary.BigEndian.Uint16(lenBytes[:])
	body := make([]byte, n)
	if n > 0 {
		if _, err := readFull(r, body); err != nil {
			return "", fmt.Errorf("snapshot: read string body: %w", err)
		}
	}
	return string(body), nil
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func readInt64(r *bytes.Reader) (int64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("snapshot: read int64: %w", err)
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
