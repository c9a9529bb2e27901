package wal

import (
	"context"
	"errors"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
)

// Errors for WAL operations.
var (
	ErrCorruptedEntry   = errors.New("wal: corrupted entry")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
	ErrInvalidEntryType = errors.New("wal: invalid entry type")
	ErrCorrupted        = errors.New("wal: corrupted segment")
	ErrClosed           = errors.New("wal: closed")
	ErrWriterBusy       = errors.New("wal: shard already has an open writer")
	ErrTimeout          = errors.New("wal: operation timed out")
)

// IsTransient reports whether err may succeed on retry. Timeouts and a
// writer still held by a previous owner are transient; everything else is
// treated as unrecoverable for the operation at hand.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrWriterBusy)
}

// EntryType is the frame type byte.
type EntryType uint8

const (
	EntryTypeUnspecified EntryType = iota
	EntryTypeData
	EntryTypeMarker
)

// Position locates an appended entry.
type Position struct {
	Offset int64
	Size   int // encoded frame bytes
}

// Log is a set of per-shard write-ahead logs.
type Log interface {
	// OpenWriter opens the single writer of a shard. Offsets continue
	// from the last durable entry.
	OpenWriter(ctx context.Context, shardID int32) (Writer, error)

	// OpenReader reads the shard starting at the first entry with offset >= from.
	OpenReader(ctx context.Context, shardID int32, from int64) (Reader, error)

	Close() error
}

// Writer appends entries to one shard. Not safe for concurrent use.
type Writer interface {
	// Append durably writes entry and returns its offset. An entry is
	// either fully written or not written at all.
	Append(ctx context.Context, entry domain.LogEntry) (Position, error)

	// LastOffset returns the offset of the last durable entry, or -1.
	LastOffset() int64

	Close() error
}

// Reader iterates a shard's entries in offset order.
type Reader interface {
	// Next returns the next entry, or io.EOF at the end of the log.
	Next() (domain.ReplayedEntry, error)

	Close() error
}
