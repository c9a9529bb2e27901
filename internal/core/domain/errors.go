// Package domain defines the core domain models for GraphMesh.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
//
// Codes have the form GM-<AREA>-<NNNN>; the numeric part follows HTTP status
// semantics (4xxx caller error, 5xxx server side) plus a one-digit discriminator.
type DomainError struct {
	Code    string // Error code (e.g., "GM-INGEST-4290")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithDetailsf is WithDetails with fmt formatting.
func (e *DomainError) WithDetailsf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Ingestion Errors (INGEST)
// ============================================================================

var (
	// ErrNotReady indicates the node or shard is not accepting writes.
	ErrNotReady = NewDomainError("GM-INGEST-5030", "ingestion not ready")

	// ErrSnapshotUninitialized indicates the shared snapshot counter has not
	// been set by the coordinator yet.
	ErrSnapshotUninitialized = NewDomainError("GM-INGEST-5031", "snapshot counter not initialized")

	// ErrOverloaded indicates the admission buffer is full. Retriable.
	ErrOverloaded = NewDomainError("GM-INGEST-4290", "admission buffer full")

	// ErrStaleSnapshotDependency indicates a declared minimum snapshot ahead of
	// the node, or an attempt to move the snapshot counter backwards.
	ErrStaleSnapshotDependency = NewDomainError("GM-INGEST-4091", "bad snapshot dependency")

	// ErrDurabilityFailure indicates an unrecoverable WAL I/O error.
	ErrDurabilityFailure = NewDomainError("GM-INGEST-5001", "wal durability failure")

	// ErrUnknownShard indicates the shard is not owned by this node.
	ErrUnknownShard = NewDomainError("GM-INGEST-4040", "unknown shard")
)

// ============================================================================
// Delivery Errors (DELIV)
// ============================================================================

var (
	// ErrDeliveryAborted indicates a delivery was abandoned because its shard stopped.
	ErrDeliveryAborted = NewDomainError("GM-DELIV-4990", "delivery aborted")
)

// ============================================================================
// Store Errors (STORE)
// ============================================================================

var (
	// ErrStoreBusy indicates the destination store has no free apply slots. Retriable.
	ErrStoreBusy = NewDomainError("GM-STORE-4290", "store buffer full")
)

// ============================================================================
// Coordinator Errors (COORD)
// ============================================================================

var (
	// ErrNotLeader indicates the coordinator node does not hold raft leadership.
	ErrNotLeader = NewDomainError("GM-COORD-4210", "not the coordinator leader")

	// ErrStoreUnavailable indicates an expected store could not report its progress.
	ErrStoreUnavailable = NewDomainError("GM-COORD-5030", "store unavailable")
)

// ============================================================================
// Routing Errors (ROUTE)
// ============================================================================

var (
	// ErrUnknownPartition indicates no store could be resolved for a partition.
	ErrUnknownPartition = NewDomainError("GM-ROUTE-4040", "unknown partition")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidBatch indicates a malformed operation batch.
	ErrInvalidBatch = NewDomainError("GM-ARG-4001", "invalid batch")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternal indicates an internal server error.
	ErrInternal = NewDomainError("GM-SYS-5000", "internal server error")
)
