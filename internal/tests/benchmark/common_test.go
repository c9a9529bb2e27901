package benchmark

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
)

// BatchSizes are the operation counts per batch used across benchmarks.
var BatchSizes = []int{1, 16, 128}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// vertexOps returns n AddVertex operations spread over 8 partitions.
func vertexOps(n, seq int) []domain.Operation {
	ops := make([]domain.Operation, n)
	for i := range ops {
		ops[i] = domain.Operation{
			Kind:        domain.OpAddVertex,
			PartitionID: int32(i % 8),
			Label:       "person",
			ID:          fmt.Sprintf("p-%d-%d", seq, i),
			Properties:  map[string]any{"name": "bench", "age": i},
		}
	}
	return ops
}

func newBatch(b *testing.B, n, seq int) domain.OperationBatch {
	b.Helper()
	batch, err := domain.NewBatch(vertexOps(n, seq))
	if err != nil {
		b.Fatalf("NewBatch: %v", err)
	}
	return batch
}

// nopStores acknowledges every delivery.
type nopStores struct{}

func (nopStores) ApplyBatch(context.Context, string, domain.ApplyRequest) error { return nil }

// emptyTails reports that nothing has been applied yet.
type emptyTails struct{}

func (emptyTails) GetTailOffsets(_ context.Context, shards []int32) ([]int64, error) {
	out := make([]int64, len(shards))
	for i := range out {
		out[i] = -1
	}
	return out, nil
}
