package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironbook/internal/common"
)

func tempWALPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "market.wal")
}

func sampleOrderPlaced(seq int64) common.OrderPlaced {
	price := decimal.RequireFromString("50")
	order := common.NewOrder(uuid.New(), "BTC-USD", "user", common.Buy, common.Limit, &price, decimal.RequireFromString("10"), 1)
	order.SequenceNumber = seq
	return common.OrderPlaced{Order: order, Seq: seq, Ts: 1}
}

func TestOpen_FreshFileHasZeroRecoveredSequence(t *testing.T) {
	path := tempWALPath(t)
	w, lastSeq, err := Open(path)
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, int64(0), lastSeq)
}

func TestAppendThenReadAll_RoundTrips(t *testing.T) {
	path := tempWALPath(t)
	w, _, err := Open(path)
	require.NoError(t, err)

	ev1 := sampleOrderPlaced(1)
	ev2 := sampleOrderPlaced(2)
	require.NoError(t, w.Append(1, 1, ev1))
	require.NoError(t, w.Append(2, 2, ev2))
	require.NoError(t, w.Close())

	w2, lastSeq, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()
	assert.Equal(t, int64(2), lastSeq)

	entries, err := w2.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].SequenceNumber)
	assert.Equal(t, int64(2), entries[1].SequenceNumber)

	decoded, ok := entries[0].Event.(common.OrderPlaced)
	require.True(t, ok)
	assert.Equal(t, ev1.Order.ID, decoded.Order.ID)
}

func TestReadAll_DetectsCorruption(t *testing.T) {
	path := tempWALPath(t)
	w, _, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(1, 1, sampleOrderPlaced(1)))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a byte inside the payload (past the header and length prefix) to
	// corrupt the checksum.
	corruptAt := headerLen + lengthPrefix + 30
	require.Less(t, corruptAt, len(data))
	data[corruptAt] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	w2, _, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()

	_, err = w2.ReadAll()
	assert.ErrorIs(t, err, ErrCorruptEntry)
}

func TestReadAll_StopsCleanlyOnTornTail(t *testing.T) {
	path := tempWALPath(t)
	w, _, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(1, 1, sampleOrderPlaced(1)))
	require.NoError(t, w.Append(2, 2, sampleOrderPlaced(2)))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	truncated := data[:len(data)-5]
	require.NoError(t, os.WriteFile(path, truncated, 0o644))

	w2, lastSeq, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()

	entries, err := w2.ReadAll()
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the torn final record should be dropped, not fail the whole read")
	assert.Equal(t, int64(1), lastSeq, "recovery should land on the last clean record")
}
