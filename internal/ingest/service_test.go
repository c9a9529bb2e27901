package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
	"github.com/yndnr/graphmesh-go/internal/storage/wal"
)

var testStores = []string{"s0", "s1", "s2"}

type serviceFixture struct {
	log      wal.Log
	stores   *memStores
	sender   *BatchSender
	progress *fixedProgress
	svc      *Service
}

func newServiceFixture(t *testing.T, log wal.Log, shards []int32) *serviceFixture {
	t.Helper()
	topo := staticTopology{shards: shards, staticRouter: staticRouter{stores: testStores}}
	f := &serviceFixture{
		log:      log,
		stores:   newMemStores(),
		progress: &fixedProgress{tail: -1},
	}
	f.sender = NewBatchSender(testSenderConfig(), topo, f.stores, quietLogger(), nil)

	cfg := DefaultServiceConfig()
	cfg.Processor = testProcessorConfig()
	cfg.ReadinessInterval = 10 * time.Millisecond
	cfg.StartTimeout = 5 * time.Second
	f.svc = NewService(cfg, topo, log, f.sender, f.progress, nil, quietLogger(), nil)

	t.Cleanup(func() {
		f.svc.Stop()
		f.sender.Close()
	})
	return f
}

func (f *serviceFixture) joinAll() {
	for _, id := range testStores {
		f.svc.MemberJoined(RoleStore, id)
	}
}

func (f *serviceFixture) startReady(t *testing.T) {
	t.Helper()
	if err := f.svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.joinAll()
	waitFor(t, "ready", func() bool { return f.svc.State() == StateReady })
}

func TestService_NotReadyUntilAllStoresPresent(t *testing.T) {
	f := newServiceFixture(t, openTestLog(t, t.TempDir()), []int32{0, 1})

	if err := f.svc.Route("req", 0, testBatch(t, "a"), NewResult()); !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("Route() before Start error = %v, want ErrNotReady", err)
	}

	if err := f.svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.svc.MemberJoined(RoleStore, "s0")
	f.svc.MemberJoined(RoleStore, "s1")
	f.svc.MemberJoined("ingestor", "s2") // wrong role

	time.Sleep(50 * time.Millisecond)
	if st := f.svc.State(); st != StateNotReady {
		t.Fatalf("State() = %s with 2 of 3 stores, want not_ready", st)
	}
	if err := f.svc.Route("req", 0, testBatch(t, "a"), NewResult()); !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("Route() error = %v, want ErrNotReady", err)
	}

	f.svc.MemberJoined(RoleStore, "s2")
	waitFor(t, "ready", func() bool { return f.svc.State() == StateReady })
}

func TestService_FailClosedReadiness(t *testing.T) {
	f := newServiceFixture(t, openTestLog(t, t.TempDir()), []int32{0, 1, 2})
	f.startReady(t)
	if _, err := f.svc.AdvanceSnapshot(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := f.svc.Write(ctx, "req", 1, testBatch(t, "a")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// Losing one store refuses writes on every shard before MemberLeft
	// returns; the processors stop shortly after.
	f.svc.MemberLeft(RoleStore, "s1")
	if st := f.svc.State(); st != StateNotReady {
		t.Fatalf("State() after MemberLeft = %s, want not_ready", st)
	}
	for _, shard := range []int32{0, 1, 2} {
		if err := f.svc.Route("req", shard, testBatch(t, "b"), NewResult()); !errors.Is(err, domain.ErrNotReady) {
			t.Errorf("Route(shard %d) error = %v, want ErrNotReady", shard, err)
		}
	}
	for _, shard := range []int32{0, 1, 2} {
		p, _ := f.svc.Processor(shard)
		waitFor(t, "processor stopped", func() bool { return p.State() == ProcessorStopped })
	}

	// Restoring it resumes acceptance after a replay-then-start on every shard.
	callsBefore := f.progressCalls()
	f.svc.MemberJoined(RoleStore, "s1")
	waitFor(t, "ready again", func() bool { return f.svc.State() == StateReady })
	if f.progressCalls() <= callsBefore {
		t.Error("tail offsets were not fetched on restart")
	}
	for _, shard := range []int32{0, 1, 2} {
		p, _ := f.svc.Processor(shard)
		if st := p.State(); st != ProcessorRunning {
			t.Errorf("shard %d state = %s, want running", shard, st)
		}
	}
	if got := f.svc.Stats().Shards[1].Replayed; got == 0 {
		t.Error("shard 1 did not replay its wal on restart")
	}
	if _, err := f.svc.Write(ctx, "req", 1, testBatch(t, "c")); err != nil {
		t.Errorf("Write() after recovery error = %v", err)
	}
}

func (f *serviceFixture) progressCalls() int {
	f.progress.mu.Lock()
	defer f.progress.mu.Unlock()
	return f.progress.calls
}

func TestService_StartFailureStaysNotReady(t *testing.T) {
	f := newServiceFixture(t, openTestLog(t, t.TempDir()), []int32{0, 1})
	f.progress.err = errors.New("coordinator unreachable")

	if err := f.svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.joinAll()
	waitFor(t, "a start attempt", func() bool { return f.progressCalls() > 1 })
	if st := f.svc.State(); st != StateNotReady {
		t.Fatalf("State() = %s, want not_ready", st)
	}

	f.progress.mu.Lock()
	f.progress.err = nil
	f.progress.mu.Unlock()
	waitFor(t, "ready", func() bool { return f.svc.State() == StateReady })
}

func TestService_RouteUnknownShard(t *testing.T) {
	f := newServiceFixture(t, openTestLog(t, t.TempDir()), []int32{0})
	f.startReady(t)

	if err := f.svc.Route("req", 42, testBatch(t, "a"), NewResult()); !errors.Is(err, domain.ErrUnknownShard) {
		t.Errorf("Route() error = %v, want ErrUnknownShard", err)
	}
}

func TestService_AdvanceSnapshotBarrier(t *testing.T) {
	log := openTestLog(t, t.TempDir())
	shards := []int32{0, 1, 2, 3}
	f := newServiceFixture(t, log, shards)
	f.startReady(t)
	ctx := context.Background()

	prev, err := f.svc.AdvanceSnapshot(ctx, 1)
	if err != nil || prev != domain.SnapshotUninitialized {
		t.Fatalf("AdvanceSnapshot(1) = %d, %v", prev, err)
	}

	snap, err := f.svc.Write(ctx, "req", 2, testBatch(t, "a"))
	if err != nil || snap != 1 {
		t.Fatalf("Write() = %d, %v; want 1", snap, err)
	}

	prev, err = f.svc.AdvanceSnapshot(ctx, 5)
	if err != nil || prev != 1 {
		t.Fatalf("AdvanceSnapshot(5) = %d, %v; want 1", prev, err)
	}

	// Every shard has a durable marker stamped >= 5 once the call returns.
	f.svc.Stop()
	for _, shard := range shards {
		r, err := log.OpenReader(ctx, shard, 0)
		if err != nil {
			t.Fatal(err)
		}
		entries, err := wal.ReadAll(r)
		r.Close()
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, e := range entries {
			if e.Entry.Batch.IsMarker() && e.Entry.SnapshotID >= 5 {
				found = true
			}
		}
		if !found {
			t.Errorf("shard %d has no marker stamped >= 5", shard)
		}
	}
}

func TestService_AdvanceSnapshotMonotonic(t *testing.T) {
	f := newServiceFixture(t, openTestLog(t, t.TempDir()), []int32{0, 1})
	f.startReady(t)
	ctx := context.Background()

	if _, err := f.svc.AdvanceSnapshot(ctx, 10); err != nil {
		t.Fatal(err)
	}
	for _, next := range []int64{10, 3} {
		if _, err := f.svc.AdvanceSnapshot(ctx, next); !errors.Is(err, domain.ErrStaleSnapshotDependency) {
			t.Errorf("AdvanceSnapshot(%d) error = %v, want ErrStaleSnapshotDependency", next, err)
		}
		if got := f.svc.Counter().Load(); got != 10 {
			t.Errorf("counter = %d after rejected advance, want 10", got)
		}
	}
}

func TestService_AdvanceFailsOnStoppedShard(t *testing.T) {
	f := newServiceFixture(t, openTestLog(t, t.TempDir()), []int32{0, 1})
	if err := f.svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Shards are stopped while the node is not ready: the counter still
	// moves, but the barrier reports the failure instead of hanging.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	prev, err := f.svc.AdvanceSnapshot(ctx, 1)
	if !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("AdvanceSnapshot() error = %v, want ErrNotReady", err)
	}
	if prev != domain.SnapshotUninitialized {
		t.Errorf("prev = %d, want %d", prev, domain.SnapshotUninitialized)
	}
	if got := f.svc.Counter().Load(); got != 1 {
		t.Errorf("counter = %d, want 1 (no rollback)", got)
	}
}

func TestService_AdvanceFailsWhenShardStopsMidBarrier(t *testing.T) {
	gate := make(chan struct{})
	flog := &faultLog{Log: openTestLog(t, t.TempDir()), gate: gate}
	f := newServiceFixture(t, flog, []int32{0, 1})
	f.startReady(t)

	errc := make(chan error, 1)
	go func() {
		_, err := f.svc.AdvanceSnapshot(context.Background(), 1)
		errc <- err
	}()

	waitFor(t, "markers queued", func() bool {
		return f.svc.Counter().Load() == 1
	})
	f.svc.MemberLeft(RoleStore, "s0")

	select {
	case err := <-errc:
		if !errors.Is(err, domain.ErrNotReady) {
			t.Errorf("AdvanceSnapshot() error = %v, want ErrNotReady", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("AdvanceSnapshot() hung after a shard stopped")
	}
}

func TestService_MemberLeftDuringStart(t *testing.T) {
	f := newServiceFixture(t, openTestLog(t, t.TempDir()), []int32{0, 1})
	gate := make(chan struct{})
	f.progress.mu.Lock()
	f.progress.gate = gate
	f.progress.mu.Unlock()

	if err := f.svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.joinAll()
	waitFor(t, "start blocked on tails", func() bool { return f.progressCalls() > 0 })

	// The start holds the lifecycle lock; MemberLeft must not wait for it.
	left := make(chan struct{})
	go func() {
		f.svc.MemberLeft(RoleStore, "s2")
		close(left)
	}()
	select {
	case <-left:
	case <-time.After(time.Second):
		t.Fatal("MemberLeft blocked behind a start in progress")
	}

	// The aborted start leaves the node not ready with every shard stopped.
	time.Sleep(50 * time.Millisecond)
	if st := f.svc.State(); st != StateNotReady {
		t.Errorf("State() = %s, want not_ready", st)
	}
	for _, shard := range []int32{0, 1} {
		p, _ := f.svc.Processor(shard)
		if st := p.State(); st != ProcessorStopped {
			t.Errorf("shard %d state = %s, want stopped", shard, st)
		}
	}

	// Once the store is back and tails flow, the node becomes ready.
	close(gate)
	f.svc.MemberJoined(RoleStore, "s2")
	waitFor(t, "ready", func() bool { return f.svc.State() == StateReady })
}

func TestService_Stats(t *testing.T) {
	f := newServiceFixture(t, openTestLog(t, t.TempDir()), []int32{0, 1})
	if got := f.svc.Stats(); got.State != "stopped" || len(got.Shards) != 0 {
		t.Errorf("Stats() before Start = %+v", got)
	}

	f.startReady(t)
	if _, err := f.svc.AdvanceSnapshot(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Write(context.Background(), "req", 0, testBatch(t, "a")); err != nil {
		t.Fatal(err)
	}

	stats := f.svc.Stats()
	if stats.State != "ready" || stats.Snapshot != 2 || stats.Stores != 3 || len(stats.Shards) != 2 {
		t.Errorf("Stats() = %+v", stats)
	}
	// One marker plus one write on shard 0.
	if stats.Shards[0].Accepted != 2 {
		t.Errorf("shard 0 accepted = %d, want 2", stats.Shards[0].Accepted)
	}

	shardStats := f.svc.ShardStats()
	if len(shardStats) != 2 || !shardStats[0].Running || shardStats[0].LastOffset != 1 {
		t.Errorf("ShardStats() = %+v", shardStats)
	}
}

func TestService_StartStopIdempotent(t *testing.T) {
	f := newServiceFixture(t, openTestLog(t, t.TempDir()), []int32{0})
	ctx := context.Background()
	if err := f.svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Start(ctx); err != nil {
		t.Errorf("second Start() error = %v", err)
	}
	f.svc.Stop()
	f.svc.Stop()
	if st := f.svc.State(); st != StateStopped {
		t.Errorf("State() = %s, want stopped", st)
	}
	if err := f.svc.Start(ctx); !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("Start() after Stop error = %v, want ErrNotReady", err)
	}
}
