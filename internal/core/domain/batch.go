package domain

import (
	"crypto/rand"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// SnapshotUninitialized is the value of a snapshot counter that has never
// been set by the coordinator. It must never be stamped onto data.
const SnapshotUninitialized int64 = -1

// NoMinSnapshot means the batch declares no snapshot dependency.
const NoMinSnapshot int64 = -1

// RequestIDPrefix is the prefix for generated request IDs.
const RequestIDPrefix = "gmrq-"

// OperationBatch is an ordered group of operations submitted as one unit.
//
// A batch is immutable once built. The zero value is not a valid batch;
// use NewBatch or MarkerBatch.
type OperationBatch struct {
	ops         []Operation
	minSnapshot int64
	marker      bool
}

// BatchOption configures NewBatch.
type BatchOption func(*OperationBatch)

// WithMinSnapshot declares the minimum snapshot the batch must be ordered after.
func WithMinSnapshot(snapshot int64) BatchOption {
	return func(b *OperationBatch) {
		b.minSnapshot = snapshot
	}
}

// NewBatch builds a data batch from ops. The slice is copied.
func NewBatch(ops []Operation, opts ...BatchOption) (OperationBatch, error) {
	if len(ops) == 0 {
		return OperationBatch{}, ErrInvalidBatch.WithDetails("batch is empty")
	}
	if len(ops) > MaxBatchOps {
		return OperationBatch{}, ErrInvalidBatch.WithDetailsf("batch has %d operations, limit %d", len(ops), MaxBatchOps)
	}
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return OperationBatch{}, ErrInvalidBatch.WithDetailsf("operation %d: %s", i, detailsOf(err)).WithCause(err)
		}
	}

	b := OperationBatch{
		ops:         slices.Clone(ops),
		minSnapshot: NoMinSnapshot,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b, nil
}

// MarkerBatch returns the content-free batch used as a snapshot barrier token.
func MarkerBatch() OperationBatch {
	return OperationBatch{minSnapshot: NoMinSnapshot, marker: true}
}

// Operations returns a copy of the batch's operations.
func (b OperationBatch) Operations() []Operation {
	return slices.Clone(b.ops)
}

// Len returns the number of operations.
func (b OperationBatch) Len() int {
	return len(b.ops)
}

// MinSnapshot returns the declared minimum snapshot, or NoMinSnapshot.
func (b OperationBatch) MinSnapshot() int64 {
	return b.minSnapshot
}

// IsMarker reports whether b is a barrier marker.
func (b OperationBatch) IsMarker() bool {
	return b.marker
}

// Valid reports whether b was built by NewBatch or MarkerBatch.
func (b OperationBatch) Valid() bool {
	return b.marker || len(b.ops) > 0
}

func (b OperationBatch) String() string {
	if b.marker {
		return "marker"
	}
	return fmt.Sprintf("batch(ops=%d, min_snapshot=%d)", len(b.ops), b.minSnapshot)
}

// RestoreBatch rebuilds a batch read back from durable storage. It skips
// validation; the data was validated before it was first written.
func RestoreBatch(ops []Operation, minSnapshot int64, marker bool) OperationBatch {
	if marker {
		return OperationBatch{minSnapshot: NoMinSnapshot, marker: true}
	}
	return OperationBatch{ops: ops, minSnapshot: minSnapshot}
}

// GenerateRequestID generates a new request ID.
// Format: gmrq-{ulid_lowercase}.
func GenerateRequestID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrInternal.WithCause(err)
	}
	return RequestIDPrefix + strings.ToLower(id.String()), nil
}

func detailsOf(err error) string {
	if de, ok := err.(*DomainError); ok && de.Details != "" {
		return de.Details
	}
	return err.Error()
}
