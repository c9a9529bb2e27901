package benchmark

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yndnr/graphmesh-go/internal/cluster"
	"github.com/yndnr/graphmesh-go/internal/core/domain"
	"github.com/yndnr/graphmesh-go/internal/ingest"
	"github.com/yndnr/graphmesh-go/internal/storage/wal"
)

// BenchmarkIngestWrite measures Service.Write from submit to durable ack,
// with deliveries acknowledged immediately.
func BenchmarkIngestWrite(b *testing.B) {
	for _, shards := range []int{1, 8} {
		b.Run(fmt.Sprintf("shards=%d", shards), func(b *testing.B) {
			svc := newReadyService(b, shards)
			batch := newBatch(b, 16, 0)
			ctx := context.Background()
			var seq atomic.Int64

			b.ReportAllocs()
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					n := seq.Add(1)
					shard := int32(n % int64(shards))
					if _, err := svc.Write(ctx, fmt.Sprintf("%sbench-%d", domain.RequestIDPrefix, n), shard, batch); err != nil {
						b.Errorf("Write: %v", err)
						return
					}
				}
			})
		})
	}
}

func newReadyService(b *testing.B, shards int) *ingest.Service {
	b.Helper()
	stores := []string{"st-0", "st-1"}
	sm, err := cluster.NewShardMap(cluster.ShardMapConfig{
		LocalNode:  "in-0",
		ShardCount: shards,
		Ingestors:  []string{"in-0"},
		Stores:     stores,
		Strategy:   "modulo",
	})
	if err != nil {
		b.Fatalf("NewShardMap: %v", err)
	}

	wcfg := wal.DefaultConfig(b.TempDir())
	wcfg.SyncMode = wal.SyncModeNone
	wcfg.Logger = quietLogger()
	log, err := wal.Open(wcfg)
	if err != nil {
		b.Fatalf("wal.Open: %v", err)
	}

	sender := ingest.NewBatchSender(ingest.DefaultSenderConfig(), sm, nopStores{}, quietLogger(), nil)
	cfg := ingest.DefaultServiceConfig()
	cfg.ReadinessInterval = 5 * time.Millisecond
	cfg.Processor.QueueCapacity = 4096
	svc := ingest.NewService(cfg, sm, log, sender, emptyTails{}, nil, quietLogger(), nil)
	b.Cleanup(func() {
		svc.Stop()
		sender.Close()
		log.Close()
	})

	if err := svc.Start(context.Background()); err != nil {
		b.Fatalf("Start: %v", err)
	}
	for _, id := range stores {
		svc.MemberJoined(domain.RoleStore, id)
	}
	deadline := time.Now().Add(10 * time.Second)
	for svc.State() != ingest.StateReady {
		if time.Now().After(deadline) {
			b.Fatal("service did not become ready")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := svc.AdvanceSnapshot(ctx, 0); err != nil {
		b.Fatalf("AdvanceSnapshot: %v", err)
	}
	return svc
}
