package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
	"github.com/yndnr/graphmesh-go/internal/storage/wal"
)

type processorFixture struct {
	log     wal.Log
	stores  *memStores
	sender  *BatchSender
	counter *SnapshotCounter
	proc    *Processor
}

func newProcessorFixture(t *testing.T, log wal.Log, cfg ProcessorConfig) *processorFixture {
	t.Helper()
	f := &processorFixture{log: log, stores: newMemStores(), counter: NewSnapshotCounter()}
	f.sender = NewBatchSender(testSenderConfig(), staticRouter{stores: []string{"s0"}}, f.stores, quietLogger(), nil)
	f.proc = NewProcessor(0, cfg, log, f.sender, f.counter, quietLogger(), nil)
	t.Cleanup(func() {
		f.proc.Stop()
		f.sender.Close()
	})
	return f
}

func (f *processorFixture) write(t *testing.T, batch domain.OperationBatch) (int64, error) {
	t.Helper()
	res := NewResult()
	if err := f.proc.Submit("req", batch, res); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return res.Wait(ctx)
}

func TestProcessor_SubmitBeforeStart(t *testing.T) {
	f := newProcessorFixture(t, openTestLog(t, t.TempDir()), testProcessorConfig())
	f.counter.Advance(1)

	err := f.proc.Submit("req", testBatch(t, "a"), NewResult())
	if !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("Submit() error = %v, want ErrNotReady", err)
	}
}

func TestProcessor_SubmitUninitializedCounter(t *testing.T) {
	f := newProcessorFixture(t, openTestLog(t, t.TempDir()), testProcessorConfig())
	if err := f.proc.Start(context.Background(), -1); err != nil {
		t.Fatal(err)
	}

	err := f.proc.Submit("req", testBatch(t, "a"), NewResult())
	if !errors.Is(err, domain.ErrSnapshotUninitialized) {
		t.Errorf("Submit() error = %v, want ErrSnapshotUninitialized", err)
	}
}

func TestProcessor_SubmitArguments(t *testing.T) {
	f := newProcessorFixture(t, openTestLog(t, t.TempDir()), testProcessorConfig())
	f.counter.Advance(1)
	if err := f.proc.Start(context.Background(), -1); err != nil {
		t.Fatal(err)
	}

	if err := f.proc.Submit("req", domain.OperationBatch{}, NewResult()); !errors.Is(err, domain.ErrInvalidBatch) {
		t.Errorf("Submit(zero batch) error = %v, want ErrInvalidBatch", err)
	}
	if err := f.proc.Submit("req", testBatch(t, "a"), nil); !errors.Is(err, domain.ErrInvalidBatch) {
		t.Errorf("Submit(nil callback) error = %v, want ErrInvalidBatch", err)
	}
}

func TestProcessor_Ordering(t *testing.T) {
	dir := t.TempDir()
	log := openTestLog(t, dir)
	f := newProcessorFixture(t, log, testProcessorConfig())
	f.counter.Advance(1)
	if err := f.proc.Start(context.Background(), -1); err != nil {
		t.Fatal(err)
	}

	const n = 30
	var (
		mu    sync.Mutex
		order []int
		snaps []int64
		wg    sync.WaitGroup
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		if i == n/2 {
			f.counter.Advance(2)
		}
		err := f.proc.Submit("req", testBatch(t, "v"), CallbackFuncs{
			Success: func(snap int64) {
				mu.Lock()
				order = append(order, i)
				snaps = append(snaps, snap)
				mu.Unlock()
				wg.Done()
			},
			Error: func(err error) {
				t.Errorf("task %d failed: %v", i, err)
				wg.Done()
			},
		})
		if err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
	}
	wg.Wait()

	for i := range order {
		if order[i] != i {
			t.Fatalf("callbacks fired out of order: %v", order)
		}
		if i > 0 && snaps[i] < snaps[i-1] {
			t.Fatalf("snapshot went backwards at %d: %v", i, snaps)
		}
	}

	if got := f.proc.Stats().LastOffset; got != n-1 {
		t.Errorf("LastOffset = %d, want %d", got, n-1)
	}

	// Offsets in the WAL follow acceptance order.
	f.proc.Stop()
	r, err := log.OpenReader(context.Background(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	entries, err := wal.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != n {
		t.Fatalf("wal holds %d entries, want %d", len(entries), n)
	}
	for i, e := range entries {
		if e.Offset != int64(i) || e.Entry.SnapshotID != snaps[i] {
			t.Errorf("entry %d = offset %d snapshot %d, want offset %d snapshot %d",
				i, e.Offset, e.Entry.SnapshotID, i, snaps[i])
		}
	}
}

func TestProcessor_StaleSnapshotDependency(t *testing.T) {
	f := newProcessorFixture(t, openTestLog(t, t.TempDir()), testProcessorConfig())
	f.counter.Advance(3)
	if err := f.proc.Start(context.Background(), -1); err != nil {
		t.Fatal(err)
	}

	ahead, _ := domain.NewBatch(testBatch(t, "a").Operations(), domain.WithMinSnapshot(4))
	if _, err := f.write(t, ahead); !errors.Is(err, domain.ErrStaleSnapshotDependency) {
		t.Errorf("write(min=4) error = %v, want ErrStaleSnapshotDependency", err)
	}

	reached, _ := domain.NewBatch(testBatch(t, "a").Operations(), domain.WithMinSnapshot(3))
	snap, err := f.write(t, reached)
	if err != nil || snap != 3 {
		t.Errorf("write(min=3) = %d, %v; want 3, nil", snap, err)
	}

	// The shard keeps serving after a rejected task.
	if got := f.proc.Stats().Failed; got != 1 {
		t.Errorf("Failed = %d, want 1", got)
	}
}

func TestProcessor_DurableBeforeAck(t *testing.T) {
	dir := t.TempDir()
	log := openTestLog(t, dir)
	f := newProcessorFixture(t, log, testProcessorConfig())
	f.counter.Advance(7)
	if err := f.proc.Start(context.Background(), -1); err != nil {
		t.Fatal(err)
	}

	snap, err := f.write(t, testBatch(t, "durable"))
	if err != nil {
		t.Fatal(err)
	}

	// Simulated crash: drop the processor and the log without a clean
	// stop, then reopen the directory.
	f.sender.Close()
	log.Close()

	reopened := openTestLog(t, dir)
	r, err := reopened.OpenReader(context.Background(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	entries, err := wal.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("replayed %d entries, want 1", len(entries))
	}
	e := entries[0]
	ops := e.Entry.Batch.Operations()
	if e.Offset != 0 || e.Entry.SnapshotID != snap || len(ops) != 1 || ops[0].ID != "durable" {
		t.Errorf("replayed entry = %+v", e)
	}
}

func TestProcessor_ReplayOnStart(t *testing.T) {
	log := openTestLog(t, t.TempDir())
	f := newProcessorFixture(t, log, testProcessorConfig())
	f.counter.Advance(1)
	if err := f.proc.Start(context.Background(), -1); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := f.write(t, testBatch(t, "v")); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "initial delivery", func() bool { return f.stores.offset("s0", 0) == 4 })

	// Restart twice from an old tail: every entry after it is re-delivered,
	// and the store ignores the duplicates.
	for round := 0; round < 2; round++ {
		f.proc.Stop()
		if err := f.proc.Start(context.Background(), 1); err != nil {
			t.Fatalf("restart %d: %v", round, err)
		}
		waitFor(t, "replayed duplicates", func() bool { return f.stores.duplicates() == 3*(round+1) })
	}

	if got := len(f.stores.appliedTo("s0")); got != 5 {
		t.Errorf("store applied %d entries, want 5", got)
	}
	if got := f.proc.Stats().Replayed; got != 6 {
		t.Errorf("Replayed = %d, want 6", got)
	}

	// New writes continue after the replayed history.
	if _, err := f.write(t, testBatch(t, "after")); err != nil {
		t.Fatal(err)
	}
	if got := f.proc.Stats().LastOffset; got != 5 {
		t.Errorf("LastOffset = %d, want 5", got)
	}
}

func TestProcessor_ReplayFailureAbortsStart(t *testing.T) {
	flog := &faultLog{Log: openTestLog(t, t.TempDir()), readerErr: wal.ErrCorrupted}
	f := newProcessorFixture(t, flog, testProcessorConfig())
	f.counter.Advance(1)

	err := f.proc.Start(context.Background(), -1)
	if !errors.Is(err, domain.ErrDurabilityFailure) || !errors.Is(err, wal.ErrCorrupted) {
		t.Fatalf("Start() error = %v, want ErrDurabilityFailure wrapping ErrCorrupted", err)
	}
	if st := f.proc.State(); st != ProcessorStopped {
		t.Errorf("State() = %s, want stopped", st)
	}
	if err := f.proc.Submit("req", testBatch(t, "a"), NewResult()); !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("Submit() after failed start error = %v, want ErrNotReady", err)
	}
}

func TestProcessor_StartRejectsWALBehindTail(t *testing.T) {
	f := newProcessorFixture(t, openTestLog(t, t.TempDir()), testProcessorConfig())
	f.counter.Advance(1)

	err := f.proc.Start(context.Background(), 5)
	if !errors.Is(err, domain.ErrDurabilityFailure) {
		t.Fatalf("Start() error = %v, want ErrDurabilityFailure", err)
	}
	if st := f.proc.State(); st != ProcessorStopped {
		t.Errorf("State() = %s, want stopped", st)
	}
	if err := f.proc.Submit("req", testBatch(t, "lost"), NewResult()); !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("Submit() error = %v, want ErrNotReady", err)
	}

	// The writer was released, so a start from a matching tail works.
	if err := f.proc.Start(context.Background(), -1); err != nil {
		t.Fatalf("Start(-1) error = %v", err)
	}
	if _, err := f.write(t, testBatch(t, "kept")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "delivery", func() bool { return f.stores.offset("s0", 0) == 0 })
}

func TestProcessor_ReplayRetriesTransientOpen(t *testing.T) {
	flog := &faultLog{Log: openTestLog(t, t.TempDir()), readerErr: wal.ErrTimeout}
	f := newProcessorFixture(t, flog, testProcessorConfig())
	f.counter.Advance(1)

	go func() {
		time.Sleep(20 * time.Millisecond)
		flog.mu.Lock()
		flog.readerErr = nil
		flog.mu.Unlock()
	}()

	if err := f.proc.Start(context.Background(), -1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if st := f.proc.State(); st != ProcessorRunning {
		t.Errorf("State() = %s, want running", st)
	}
}

func TestProcessor_AppendErrors(t *testing.T) {
	flog := &faultLog{Log: openTestLog(t, t.TempDir())}
	f := newProcessorFixture(t, flog, testProcessorConfig())
	f.counter.Advance(1)
	if err := f.proc.Start(context.Background(), -1); err != nil {
		t.Fatal(err)
	}

	t.Run("transient errors are retried", func(t *testing.T) {
		flog.mu.Lock()
		flog.appendErrs = []error{wal.ErrTimeout, context.DeadlineExceeded}
		flog.mu.Unlock()

		if _, err := f.write(t, testBatch(t, "a")); err != nil {
			t.Errorf("write() error = %v", err)
		}
	})

	t.Run("io failure fails the task only", func(t *testing.T) {
		ioErr := errors.New("disk on fire")
		flog.mu.Lock()
		flog.appendErrs = []error{ioErr}
		flog.mu.Unlock()

		_, err := f.write(t, testBatch(t, "b"))
		if !errors.Is(err, domain.ErrDurabilityFailure) || !errors.Is(err, ioErr) {
			t.Errorf("write() error = %v, want ErrDurabilityFailure wrapping the io error", err)
		}

		// The writer is reopened and the next task succeeds.
		if _, err := f.write(t, testBatch(t, "c")); err != nil {
			t.Errorf("write() after failure error = %v", err)
		}
	})

	if got := f.proc.Stats().LastOffset; got != 1 {
		t.Errorf("LastOffset = %d, want 1 (no gap for the failed task)", got)
	}
}

func TestProcessor_Backpressure(t *testing.T) {
	gate := make(chan struct{})
	flog := &faultLog{Log: openTestLog(t, t.TempDir()), gate: gate}
	cfg := testProcessorConfig()
	cfg.QueueCapacity = 4
	f := newProcessorFixture(t, flog, cfg)
	f.counter.Advance(1)
	if err := f.proc.Start(context.Background(), -1); err != nil {
		t.Fatal(err)
	}

	var (
		results    []*Result
		overloaded int
	)
	for i := 0; i < cfg.QueueCapacity+2; i++ {
		res := NewResult()
		err := f.proc.Submit("req", testBatch(t, "v"), res)
		switch {
		case err == nil:
			results = append(results, res)
		case errors.Is(err, domain.ErrOverloaded):
			overloaded++
		default:
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
	}
	if overloaded == 0 {
		t.Fatal("no submission was rejected with ErrOverloaded")
	}

	close(gate)

	// Every accepted task completes successfully.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i, res := range results {
		if _, err := res.Wait(ctx); err != nil {
			t.Errorf("accepted task %d error = %v", i, err)
		}
	}
	if got := f.proc.Stats().Accepted; got != uint64(len(results)) {
		t.Errorf("Accepted = %d, want %d", got, len(results))
	}
}

func TestProcessor_StopFailsQueuedTasks(t *testing.T) {
	gate := make(chan struct{})
	flog := &faultLog{Log: openTestLog(t, t.TempDir()), gate: gate}
	f := newProcessorFixture(t, flog, testProcessorConfig())
	f.counter.Advance(1)
	if err := f.proc.Start(context.Background(), -1); err != nil {
		t.Fatal(err)
	}

	results := make([]*Result, 3)
	for i := range results {
		results[i] = NewResult()
		if err := f.proc.Submit("req", testBatch(t, "v"), results[i]); err != nil {
			t.Fatal(err)
		}
	}

	f.proc.Stop()

	for i, res := range results {
		select {
		case <-res.Done():
		default:
			t.Fatalf("task %d unresolved after Stop", i)
		}
		if _, err := res.Wait(context.Background()); !errors.Is(err, domain.ErrNotReady) {
			t.Errorf("task %d error = %v, want ErrNotReady", i, err)
		}
	}
	if st := f.proc.State(); st != ProcessorStopped {
		t.Errorf("State() = %s, want stopped", st)
	}

	// Stop is idempotent.
	f.proc.Stop()
}

func TestProcessor_StartIsIdempotent(t *testing.T) {
	f := newProcessorFixture(t, openTestLog(t, t.TempDir()), testProcessorConfig())
	f.counter.Advance(1)
	for i := 0; i < 2; i++ {
		if err := f.proc.Start(context.Background(), -1); err != nil {
			t.Fatalf("Start() #%d error = %v", i+1, err)
		}
	}
	if _, err := f.write(t, testBatch(t, "v")); err != nil {
		t.Fatal(err)
	}
}

func TestProcessor_CompactOnStart(t *testing.T) {
	dir := t.TempDir()
	cfg := wal.DefaultConfig(dir)
	cfg.SyncMode = wal.SyncModeNone
	cfg.MaxEntryCount = 2
	cfg.Logger = quietLogger()
	log, err := wal.Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	pcfg := testProcessorConfig()
	pcfg.CompactOnStart = true
	f := newProcessorFixture(t, log, pcfg)
	f.counter.Advance(1)
	if err := f.proc.Start(context.Background(), -1); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 6; i++ {
		if _, err := f.write(t, testBatch(t, "v")); err != nil {
			t.Fatal(err)
		}
	}
	before, _ := log.Stats(0)

	f.proc.Stop()
	if err := f.proc.Start(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	after, _ := log.Stats(0)
	if after.Segments >= before.Segments {
		t.Errorf("segments after compaction = %d, before = %d", after.Segments, before.Segments)
	}
}
