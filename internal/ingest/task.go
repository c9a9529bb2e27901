package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
)

// Callback receives the outcome of a submitted batch. Exactly one of its
// methods is called, once, unless Submit itself returned an error.
type Callback interface {
	// OnSuccess is called after the batch is durable in the WAL.
	OnSuccess(snapshotID int64)

	// OnError is called when the batch will never be written.
	OnError(err error)
}

// CallbackFuncs adapts a pair of functions to Callback.
type CallbackFuncs struct {
	Success func(snapshotID int64)
	Error   func(err error)
}

func (f CallbackFuncs) OnSuccess(snapshotID int64) {
	if f.Success != nil {
		f.Success(snapshotID)
	}
}

func (f CallbackFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// Result is a Callback that can be waited on.
type Result struct {
	once     sync.Once
	done     chan struct{}
	snapshot int64
	err      error
}

// NewResult creates a pending result.
func NewResult() *Result {
	return &Result{done: make(chan struct{})}
}

func (r *Result) OnSuccess(snapshotID int64) {
	r.once.Do(func() {
		r.snapshot = snapshotID
		close(r.done)
	})
}

func (r *Result) OnError(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Done is closed once the outcome is known.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the outcome is known or ctx ends.
func (r *Result) Wait(ctx context.Context) (int64, error) {
	select {
	case <-r.done:
		return r.snapshot, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// task is one queued submission. It lives only in memory; the WAL
// persists the LogEntry it produces.
type task struct {
	requestID string
	batch     domain.OperationBatch
	callback  Callback
	enqueued  time.Time
}
