// Package engine ties a sequence source, a matching algorithm, and a
// write-ahead log together into a per-market facade that exposes
// place/cancel/status/snapshot to callers.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ironbook/internal/book"
	"ironbook/internal/common"
)

var (
	ErrUnknownMarket = errors.New("engine: unknown market")
	ErrOrderNotFound = errors.New("engine: order not found")
	ErrMarketHalted  = errors.New("engine: market halted after WAL failure")
)

// WALAppender is the subset of *wal.WAL the engine depends on. Kept as an
// interface so engine tests can use an in-memory fake instead of touching
// disk.
type WALAppender interface {
	Append(sequenceNumber int64, timestampNs int64, event common.Event) error
}

// PlaceResult is what Engine.Place returns to its caller.
type PlaceResult struct {
	Trades         []common.Trade
	Residual       *common.Order
	Status         common.OrderStatus
	LastSequence   int64
}

// Engine is one matching engine instance for a single market: a book, a
// sequence source, and a WAL, guarded by a single mutex spanning the whole
// match-and-append critical section, so no concurrent observer can see a
// book mutation whose event hasn't yet been durably logged.
type Engine struct {
	marketID string
	wal      WALAppender
	clock    func() int64

	mu      sync.Mutex
	book    *book.OrderBook
	seq     *Sequence
	halted  bool
	haltErr error
}

// New constructs an engine for marketID, recovering its sequence source
// from recoveredSequence (the WAL's last persisted sequence number, or 0 for
// a fresh market).
func New(marketID string, wal WALAppender, recoveredSequence int64) *Engine {
	return &Engine{
		marketID: marketID,
		wal:      wal,
		clock:    func() int64 { return time.Now().UnixNano() },
		book:     book.New(marketID),
		seq:      NewSequence(recoveredSequence),
	}
}

// Place validates, matches, and durably logs a new order. On success the
// caller's returned trades reflect book mutations already committed to the
// WAL. A WAL-append failure mid-placement halts the market: the book has
// already mutated in memory, so further operations on this market are
// refused rather than risking a second divergent mutation.
func (e *Engine) Place(order common.Order) (PlaceResult, error) {
	if order.MarketID != e.marketID {
		return PlaceResult{}, fmt.Errorf("%w: order market %q, engine market %q", ErrUnknownMarket, order.MarketID, e.marketID)
	}
	if err := order.Validate(); err != nil {
		return PlaceResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted {
		return PlaceResult{}, fmt.Errorf("%w: %v", ErrMarketHalted, e.haltErr)
	}

	trades, residual, events := matchOrder(e.book, e.seq, order, e.clock)

	for _, ev := range events {
		if err := e.wal.Append(ev.SequenceNumber(), ev.TimestampNs(), ev); err != nil {
			e.halted = true
			e.haltErr = err
			log.Error().Err(err).Str("market", e.marketID).Msg("WAL append failed mid-placement; market halted")
			return PlaceResult{}, fmt.Errorf("%w: %v", ErrMarketHalted, err)
		}
	}

	status := terminalStatus(trades, residual)
	return PlaceResult{
		Trades:       trades,
		Residual:     residual,
		Status:       status,
		LastSequence: e.seq.Current(),
	}, nil
}

func terminalStatus(trades []common.Trade, residual *common.Order) common.OrderStatus {
	switch {
	case residual == nil:
		return common.Filled
	case len(trades) > 0:
		return common.PartiallyFilled
	default:
		return common.Pending
	}
}

// Cancel looks up orderID, removes it from the book if present, and appends
// exactly one OrderCancelled event to the WAL. Returns false if the order
// was not found (no WAL write in that case).
func (e *Engine) Cancel(orderID uuid.UUID) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted {
		return false, fmt.Errorf("%w: %v", ErrMarketHalted, e.haltErr)
	}

	event, ok := cancelOrder(e.book, e.seq, orderID, e.marketID, e.clock)
	if !ok {
		return false, nil
	}

	if err := e.wal.Append(event.SequenceNumber(), event.TimestampNs(), event); err != nil {
		e.halted = true
		e.haltErr = err
		log.Error().Err(err).Str("market", e.marketID).Str("orderID", orderID.String()).Msg("WAL append failed during cancel; market halted")
		return false, fmt.Errorf("%w: %v", ErrMarketHalted, err)
	}
	return true, nil
}

// Status is a read-only lookup of an order's current state.
func (e *Engine) Status(orderID uuid.UUID) (common.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Get(orderID)
}

// Snapshot returns the book's current top-depth view and sequence.
func (e *Engine) Snapshot(depth int) (book.Snapshot, int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Snapshot(depth), e.seq.Current()
}

// ActiveOrders returns every order currently resting in the book, for
// external snapshot persistence.
func (e *Engine) ActiveOrders() []common.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.ActiveOrders()
}

// CurrentSequence returns the engine's most recently issued sequence number.
func (e *Engine) CurrentSequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq.Current()
}

// MarketID returns the market this engine serves.
func (e *Engine) MarketID() string {
	return e.marketID
}

// Halted reports whether this market has been halted by a fatal WAL
// failure and requires operator intervention before it will serve writes
// again.
func (e *Engine) Halted() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted, e.haltErr
}

// Apply replays a previously-emitted event against this engine's book
// without re-deriving it through the matching core or touching the WAL —
// used by the replay CLI (cmd/replay) to reconstruct a book from a WAL's
// event stream. The sequence source is advanced to the event's sequence
// number if that is higher than the current one. It does not re-validate
// the event's internal consistency; it trusts its source. Engines created
// by Registry are not replayed: they start with an empty book and only
// their sequence source is recovered from the WAL.
func (e *Engine) Apply(event common.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if seqNo := event.SequenceNumber(); seqNo > e.seq.Current() {
		e.seq.counter.Store(seqNo)
	}

	switch ev := event.(type) {
	case common.OrderPlaced:
		return e.book.Add(ev.Order)
	case common.OrderCancelled:
		e.book.Remove(ev.OrderID)
		return nil
	case common.TradeExecuted:
		return e.applyTrade(ev.Trade)
	default:
		return fmt.Errorf("engine: unknown event type %T", event)
	}
}

// applyTrade reduces the maker's resting quantity (removing it if it's now
// fully filled) to reflect a trade replayed from the WAL. The taker side of
// a trade is never resting in the book by definition, so only the maker
// needs updating here.
func (e *Engine) applyTrade(trade common.Trade) error {
	maker, ok := e.book.Get(trade.MakerOrderID)
	if !ok {
		// The maker may have already been fully consumed by an earlier
		// trade in the same replay and removed from the book; that's fine.
		return nil
	}
	maker.Fill(trade.Quantity, trade.Price)
	if maker.IsFilled() {
		e.book.Remove(maker.ID)
		return nil
	}
	return e.book.Update(maker)
}
