package ingest

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
	"github.com/yndnr/graphmesh-go/internal/storage/wal"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestLog(t *testing.T, dir string) *wal.FileLog {
	t.Helper()
	cfg := wal.DefaultConfig(dir)
	cfg.SyncMode = wal.SyncModeNone
	cfg.Logger = quietLogger()
	log, err := wal.Open(cfg)
	if err != nil {
		t.Fatalf("wal.Open() error = %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func testBatch(t *testing.T, ids ...string) domain.OperationBatch {
	t.Helper()
	ops := make([]domain.Operation, 0, len(ids))
	for i, id := range ids {
		ops = append(ops, domain.Operation{
			Kind:        domain.OpAddVertex,
			PartitionID: int32(i),
			Label:       "person",
			ID:          id,
		})
	}
	b, err := domain.NewBatch(ops)
	if err != nil {
		t.Fatalf("NewBatch() error = %v", err)
	}
	return b
}

func testSenderConfig() SenderConfig {
	return SenderConfig{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func testProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		QueueCapacity: 64,
		RetryBackoff:  time.Millisecond,
		AppendTimeout: time.Second,
	}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// staticRouter maps partition p to stores[p % len(stores)].
type staticRouter struct {
	stores []string
}

func (r staticRouter) StoreIDs() []string { return r.stores }

func (r staticRouter) StoreForPartition(p int32) (string, error) {
	if len(r.stores) == 0 {
		return "", domain.ErrUnknownPartition
	}
	return r.stores[int(p)%len(r.stores)], nil
}

type staticTopology struct {
	shards []int32
	staticRouter
}

func (t staticTopology) OwnedShards() []int32 { return t.shards }

// memStores is an in-memory storage tier. It ignores duplicate
// (shard, offset) deliveries per store, like the real store.
type memStores struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	dupes     int
	watermark map[string]map[int32]int64
	applied   map[string][]domain.ApplyRequest
}

func newMemStores() *memStores {
	return &memStores{
		watermark: make(map[string]map[int32]int64),
		applied:   make(map[string][]domain.ApplyRequest),
	}
}

func (m *memStores) ApplyBatch(ctx context.Context, storeID string, req domain.ApplyRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.calls <= m.failFirst {
		return domain.ErrStoreBusy
	}

	shards, ok := m.watermark[storeID]
	if !ok {
		shards = make(map[int32]int64)
		m.watermark[storeID] = shards
	}
	if wm, ok := shards[req.ShardID]; ok && req.Offset <= wm {
		m.dupes++
		return nil
	}
	shards[req.ShardID] = req.Offset
	m.applied[storeID] = append(m.applied[storeID], req)
	return nil
}

func (m *memStores) appliedTo(storeID string) []domain.ApplyRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ApplyRequest(nil), m.applied[storeID]...)
}

func (m *memStores) duplicates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dupes
}

func (m *memStores) offset(storeID string, shardID int32) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wm, ok := m.watermark[storeID][shardID]; ok {
		return wm
	}
	return -1
}

// fixedProgress reports the same tail for every shard.
// A non-nil gate holds every call until it is closed or ctx ends.
type fixedProgress struct {
	mu    sync.Mutex
	tail  int64
	err   error
	calls int
	gate  chan struct{}
}

func (f *fixedProgress) GetTailOffsets(ctx context.Context, shardIDs []int32) ([]int64, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]int64, len(shardIDs))
	for i := range out {
		out[i] = f.tail
	}
	return out, nil
}

// faultLog wraps a wal.Log and injects errors.
type faultLog struct {
	wal.Log

	mu         sync.Mutex
	readerErr  error
	appendErrs []error // consumed one per Append call
	gate       chan struct{}
}

func (f *faultLog) OpenReader(ctx context.Context, shardID int32, from int64) (wal.Reader, error) {
	f.mu.Lock()
	err := f.readerErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Log.OpenReader(ctx, shardID, from)
}

func (f *faultLog) OpenWriter(ctx context.Context, shardID int32) (wal.Writer, error) {
	w, err := f.Log.OpenWriter(ctx, shardID)
	if err != nil {
		return nil, err
	}
	return &faultWriter{Writer: w, log: f}, nil
}

func (f *faultLog) nextAppendErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.appendErrs) == 0 {
		return nil
	}
	err := f.appendErrs[0]
	f.appendErrs = f.appendErrs[1:]
	return err
}

type faultWriter struct {
	wal.Writer
	log *faultLog
}

func (w *faultWriter) Append(ctx context.Context, entry domain.LogEntry) (wal.Position, error) {
	if gate := w.log.gate; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return wal.Position{}, ctx.Err()
		}
	}
	if err := w.log.nextAppendErr(); err != nil {
		return wal.Position{}, err
	}
	return w.Writer.Append(ctx, entry)
}
