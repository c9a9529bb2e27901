package benchmark

import (
	"context"
	"testing"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
	"github.com/yndnr/graphmesh-go/internal/storage"
)

// BenchmarkGraphStoreApply measures applying one 16-op entry per
// iteration on each KV engine.
func BenchmarkGraphStoreApply(b *testing.B) {
	for _, engine := range storage.EngineNames() {
		b.Run(engine, func(b *testing.B) {
			cfg := storage.DefaultKVConfig(b.TempDir())
			cfg.Engine = engine
			cfg.GCInterval = "1h"
			kv, err := storage.OpenKV(cfg, quietLogger())
			if err != nil {
				b.Fatalf("OpenKV(%s): %v", engine, err)
			}
			b.Cleanup(func() { kv.Close() })
			gs := storage.NewGraphStore(kv, quietLogger())
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				req := domain.ApplyRequest{ShardID: 0, Offset: int64(i), Ops: vertexOps(16, i)}
				if _, err := gs.Apply(ctx, req); err != nil {
					b.Fatalf("Apply: %v", err)
				}
			}
		})
	}
}

// BenchmarkGraphStoreDuplicate measures acknowledging replayed offsets.
func BenchmarkGraphStoreDuplicate(b *testing.B) {
	cfg := storage.DefaultKVConfig(b.TempDir())
	cfg.GCInterval = "1h"
	kv, err := storage.OpenKV(cfg, quietLogger())
	if err != nil {
		b.Fatalf("OpenKV: %v", err)
	}
	b.Cleanup(func() { kv.Close() })
	gs := storage.NewGraphStore(kv, quietLogger())
	ctx := context.Background()

	req := domain.ApplyRequest{ShardID: 0, Offset: 0, Ops: vertexOps(16, 0)}
	if _, err := gs.Apply(ctx, req); err != nil {
		b.Fatalf("Apply: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if applied, err := gs.Apply(ctx, req); err != nil || applied {
			b.Fatalf("duplicate Apply = %v, %v", applied, err)
		}
	}
}
