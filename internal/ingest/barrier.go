package ingest

import (
	"context"
	"sync"
)

// barrier is a counted completion: it resolves after n successes or the
// first failure, whichever comes first. It is used as the Callback of every
// marker in a snapshot advance.
type barrier struct {
	mu        sync.Mutex
	remaining int
	err       error
	done      chan struct{}
}

func newBarrier(n int) *barrier {
	b := &barrier{remaining: n, done: make(chan struct{})}
	if n <= 0 {
		close(b.done)
	}
	return b
}

func (b *barrier) OnSuccess(int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return
	}
	b.remaining--
	if b.remaining == 0 && b.err == nil {
		close(b.done)
	}
}

func (b *barrier) OnError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil || b.remaining <= 0 {
		return
	}
	b.err = err
	close(b.done)
}

// Wait returns nil once every party succeeded, the first failure, or the
// context error.
func (b *barrier) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
