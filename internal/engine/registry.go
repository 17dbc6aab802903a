package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ironbook/internal/book"
	"ironbook/internal/common"
)

// WALOpener opens or creates a durable append log for a market and returns
// it along with the last sequence number recovered from disk. Satisfied by
// a function wrapping wal.Open, so the registry never imports the wal
// package directly.
type WALOpener func(marketID string) (WALAppender, int64, error)

// Registry owns one Engine per market, created lazily on first use, and
// implements the interface a transport layer dispatches against.
type Registry struct {
	openWAL WALOpener

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewRegistry constructs a registry that opens each market's WAL via
// openWAL the first time that market is touched.
func NewRegistry(openWAL WALOpener) *Registry {
	return &Registry{
		openWAL: openWAL,
		engines: make(map[string]*Engine),
	}
}

func (r *Registry) engineFor(marketID string) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.engines[marketID]; ok {
		return e, nil
	}

	wal, lastSeq, err := r.openWAL(marketID)
	if err != nil {
		return nil, fmt.Errorf("engine: open WAL for market %s: %w", marketID, err)
	}
	e := New(marketID, wal, lastSeq)
	r.engines[marketID] = e
	log.Info().Str("market", marketID).Int64("recoveredSequence", lastSeq).Msg("market engine created")
	return e, nil
}

// Place routes order to its market's engine, creating the engine on first
// use, and reports the resulting trades and terminal status.
func (r *Registry) Place(marketID string, order common.Order) ([]common.Trade, common.OrderStatus, error) {
	e, err := r.engineFor(marketID)
	if err != nil {
		return nil, common.Rejected, err
	}
	result, err := e.Place(order)
	if err != nil {
		return nil, common.Rejected, err
	}
	return result.Trades, result.Status, nil
}

// Cancel routes a cancellation to marketID's engine.
func (r *Registry) Cancel(marketID string, orderID uuid.UUID) (bool, error) {
	e, err := r.engineFor(marketID)
	if err != nil {
		return false, err
	}
	return e.Cancel(orderID)
}

// Status looks up an order's state on marketID's engine.
func (r *Registry) Status(marketID string, orderID uuid.UUID) (common.Order, bool, error) {
	e, err := r.engineFor(marketID)
	if err != nil {
		return common.Order{}, false, err
	}
	order, ok := e.Status(orderID)
	return order, ok, nil
}

// LogBook logs marketID's current top-of-book view at info level.
func (r *Registry) LogBook(marketID string) {
	e, err := r.engineFor(marketID)
	if err != nil {
		log.Error().Err(err).Str("market", marketID).Msg("unable to load book for logging")
		return
	}
	snap, seq := e.Snapshot(10)
	log.Info().
		Str("market", marketID).
		Int64("sequence", seq).
		Interface("bids", snap.Bids).
		Interface("asks", snap.Asks).
		Msg("book snapshot")
}

// Markets returns the ids of every market this registry has opened so far.
func (r *Registry) Markets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	return ids
}

// EngineFor exposes a market's Engine directly, for callers (e.g. the
// periodic snapshot writer) that need more than the narrow Place/Cancel/
// Status/LogBook surface.
func (r *Registry) EngineFor(marketID string) (*Engine, error) {
	return r.engineFor(marketID)
}

// ActiveOrders is a convenience passthrough used by the snapshot writer.
func (r *Registry) ActiveOrders(marketID string) ([]common.Order, error) {
	e, err := r.engineFor(marketID)
	if err != nil {
		return nil, err
	}
	return e.ActiveOrders(), nil
}

// Snapshot is a convenience passthrough used by the snapshot writer.
func (r *Registry) Snapshot(marketID string, depth int) (book.Snapshot, int64, error) {
	e, err := r.engineFor(marketID)
	if err != nil {
		return book.Snapshot{}, 0, err
	}
	snap, seq := e.Snapshot(depth)
	return snap, seq, nil
}
