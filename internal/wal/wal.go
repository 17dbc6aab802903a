// Package wal implements an append-only, length-prefixed, checksummed event
// log providing durability and replay-based recovery for a matching engine.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"ironbook/internal/common"
)

var (
	ErrBadMagic      = errors.New("wal: bad file header magic")
	ErrBadVersion    = errors.New("wal: unsupported file format version")
	ErrCorruptEntry  = errors.New("wal: checksum mismatch")
)

const (
	magic          = "FWAL"
	formatVersion  = uint16(1)
	headerLen      = 4 + 2 + 2 // magic + version + reserved
	lengthPrefix   = 8         // uint64 LE record length
	recordOverhead = 8 + 8 + 8 + 1 // seq + ts + checksum + event-kind byte is inside event bytes, counted separately
)

// Entry is one decoded WAL record.
type Entry struct {
	SequenceNumber int64
	TimestampNs    int64
	Event          common.Event
	Checksum       uint64
}

// WAL is a single-writer append log for one market. Append is serialized by
// mu; ReadAll is expected to run only when no append is in progress (e.g.
// at recovery).
type WAL struct {
	path string
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// Open creates or opens the WAL file at path, writing a fresh header if the
// file is new, and returns the WAL along with the last sequence number
// recovered by scanning forward from the start of the file. A
// torn/unreadable tail is treated as absent, to be overwritten by the next
// successful append.
func Open(path string) (*WAL, int64, error) {
	if dir := dirOf(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, 0, fmt.Errorf("wal: create directory: %w", err)
		}
	}

	existed := true
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		existed = false
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("wal: open %s: %w", path, err)
	}

	if !existed {
		if err := writeHeader(file); err != nil {
			file.Close()
			return nil, 0, err
		}
	} else if err := verifyHeader(file); err != nil {
		file.Close()
		return nil, 0, err
	}

	lastSeq, err := recoverLastSequence(path)
	if err != nil {
		file.Close()
		return nil, 0, err
	}

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("wal: seek to end: %w", err)
	}

	return &WAL{
		path: path,
		file: file,
		w:    bufio.NewWriter(file),
	}, lastSeq, nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}

// writeHeader writes the header to a fresh or empty file. The file is
// opened with O_APPEND, so WriteAt is unusable here (it always fails with
// "invalid use of WriteAt on file opened with O_APPEND"); a plain Write
// lands at offset 0 because the file is empty and O_APPEND appends at
// the current end.
func writeHeader(f *os.File) error {
	buf := make([]byte, headerLen)
	copy(buf[0:4], magic)
	binary.BigEndian.PutUint16(buf[4:6], formatVersion)
	// buf[6:8] reserved, left zero.
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("wal: write header: %w", err)
	}
	return nil
}

func verifyHeader(f *os.File) error {
	buf := make([]byte, headerLen)
	if _, err := f.ReadAt(buf, 0); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty pre-existing file (e.g. truncated by an external tool):
			// treat like a fresh file.
			return writeHeader(f)
		}
		return fmt.Errorf("wal: read header: %w", err)
	}
	if string(buf[0:4]) != magic {
		return ErrBadMagic
	}
	if binary.BigEndian.Uint16(buf[4:6]) != formatVersion {
		return ErrBadVersion
	}
	return nil
}

// Append assigns no sequence number itself: the caller's sequence source
// issues that before the event reaches here. Append computes the checksum,
// writes length + payload, and flushes to the OS before returning.
func (w *WAL) Append(sequenceNumber int64, timestampNs int64, event common.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	eventBytes := common.EncodeEvent(event)
	checksum := xxhash.Sum64(eventBytes)

	payload := encodeRecord(sequenceNumber, timestampNs, checksum, eventBytes)

	var lenBuf [lengthPrefix]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))

	if _, err := w.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wal: write length prefix: %w", err)
	}
	if _, err := w.w.Write(payload); err != nil {
		return fmt.Errorf("wal: write payload: %w", err)
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	return nil
}

func encodeRecord(seq int64, ts int64, checksum uint64, eventBytes []byte) []byte {
	buf := make([]byte, 8+8+8+len(eventBytes))
	binary.BigEndian.PutUint64(buf[0:8], uint64(seq))
	binary.BigEndian.PutUint64(buf[8:16], uint64(ts))
	binary.BigEndian.PutUint64(buf[16:24], checksum)
	copy(buf[24:], eventBytes)
	return buf
}

func decodeRecord(payload []byte) (Entry, error) {
	if len(payload) < 24 {
		return Entry{}, fmt.Errorf("wal: record too short (%d bytes)", len(payload))
	}
	seq := int64(binary.BigEndian.Uint64(payload[0:8]))
	ts := int64(binary.BigEndian.Uint64(payload[8:16]))
	checksum := binary.BigEndian.Uint64(payload[16:24])
	eventBytes := payload[24:]

	if xxhash.Sum64(eventBytes) != checksum {
		return Entry{}, fmt.Errorf("%w: sequence %d", ErrCorruptEntry, seq)
	}

	event, err := common.DecodeEvent(eventBytes, seq, ts)
	if err != nil {
		return Entry{}, fmt.Errorf("wal: decode event at sequence %d: %w", seq, err)
	}

	return Entry{SequenceNumber: seq, TimestampNs: ts, Event: event, Checksum: checksum}, nil
}

// ReadAll iterates every record in file order, verifying each checksum. A
// checksum mismatch fails with ErrCorruptEntry citing the offending
// sequence number. A torn final record (short read) stops cleanly with a
// logged warning rather than failing the whole read.
func (w *WAL) ReadAll() ([]Entry, error) {
	return readAll(w.path)
}

func readAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s for read: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(headerLen, io.SeekStart); err != nil {
		return nil, fmt.Errorf("wal: seek past header: %w", err)
	}

	r := bufio.NewReader(f)
	var entries []Entry

	for {
		var lenBuf [lengthPrefix]byte
		n, err := io.ReadFull(r, lenBuf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			if n > 0 {
				log.Warn().Str("path", path).Msg("wal: torn length prefix at end of file, stopping replay")
			}
			break
		}

		length := binary.LittleEndian.Uint64(lenBuf[:])
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			log.Warn().Str("path", path).Msg("wal: torn final record, stopping replay")
			break
		}

		entry, err := decodeRecord(payload)
		if err != nil {
			if errors.Is(err, ErrCorruptEntry) {
				return entries, err
			}
			return entries, fmt.Errorf("wal: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// recoverLastSequence scans forward from the start of the file, returning
// the sequence number of the last cleanly-decoded record, or 0 if the file
// has none (a fresh market). When the scan ends at a torn tail rather than
// a checksum mismatch, the file is truncated to the end of the last clean
// record.
func recoverLastSequence(path string) (int64, error) {
	entries, err := readAll(path)
	if err != nil && !errors.Is(err, ErrCorruptEntry) {
		return 0, err
	}
	if err == nil {
		// Cut off any torn tail so the next append starts on a record
		// boundary instead of after bytes that do not parse as a record.
		end := int64(headerLen)
		for _, e := range entries {
			end += lengthPrefix + 8 + 8 + 8 + int64(len(common.EncodeEvent(e.Event)))
		}
		if err := os.Truncate(path, end); err != nil {
			return 0, fmt.Errorf("wal: truncate torn tail: %w", err)
		}
	}
	if len(entries) == 0 {
		return 0, nil
	}
	return entries[len(entries)-1].SequenceNumber, nil
}

// Close flushes and closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("wal: flush on close: %w", err)
	}
	return w.file.Close()
}
