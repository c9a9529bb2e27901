package ingest

import (
	"sync/atomic"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
)

// SnapshotCounter is the node's shared snapshot counter. Shard workers read
// it; only the service moves it, through Advance.
type SnapshotCounter struct {
	v atomic.Int64
}

// NewSnapshotCounter returns an uninitialized counter.
func NewSnapshotCounter() *SnapshotCounter {
	c := &SnapshotCounter{}
	c.v.Store(domain.SnapshotUninitialized)
	return c
}

// Load returns the current value.
func (c *SnapshotCounter) Load() int64 {
	return c.v.Load()
}

// Initialized reports whether the counter has been set at least once.
func (c *SnapshotCounter) Initialized() bool {
	return c.v.Load() != domain.SnapshotUninitialized
}

// Advance moves the counter to next and returns the previous value.
// next must be non-negative and strictly greater than the current value;
// otherwise the counter is left unchanged.
func (c *SnapshotCounter) Advance(next int64) (int64, error) {
	if next < 0 {
		return 0, domain.ErrStaleSnapshotDependency.WithDetailsf("snapshot %d is negative", next)
	}
	for {
		cur := c.v.Load()
		if next <= cur {
			return cur, domain.ErrStaleSnapshotDependency.WithDetailsf(
				"snapshot %d is not ahead of current %d", next, cur)
		}
		if c.v.CompareAndSwap(cur, next) {
			return cur, nil
		}
	}
}
