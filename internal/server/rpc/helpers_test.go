package rpc

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// staticResolver is an in-memory address book.
type staticResolver struct {
	mu    sync.Mutex
	addrs map[string]string
	roles map[string][]string
}

func newResolver() *staticResolver {
	return &staticResolver{addrs: make(map[string]string), roles: make(map[string][]string)}
}

func (r *staticResolver) add(id, role, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addrs[id] = addr
	r.roles[role] = append(r.roles[role], id)
}

func (r *staticResolver) Resolve(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.addrs[id]
	return addr, ok
}

func (r *staticResolver) IDs(role string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.roles[role]...)
}

// serve starts s on an httptest server and returns its host:port.
func serve(t *testing.T, s *Server) string {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return strings.TrimPrefix(ts.URL, "http://")
}

type fakeIngest struct {
	mu       sync.Mutex
	writes   []int32
	ids      []string
	err      error
	advErr   error
	snapshot int64
	block    chan struct{}
}

func (f *fakeIngest) Write(ctx context.Context, requestID string, shardID int32, batch domain.OperationBatch) (int64, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return 0, domain.ErrNotReady.WithCause(ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.writes = append(f.writes, shardID)
	f.ids = append(f.ids, requestID)
	return f.snapshot, nil
}

func (f *fakeIngest) AdvanceSnapshot(_ context.Context, next int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advErr != nil {
		return 0, f.advErr
	}
	prev := f.snapshot
	f.snapshot = next
	return prev, nil
}

type keyShards map[string]int32

func (k keyShards) ShardForKey(key string) int32 { return k[key] }

type fakeApplier struct {
	mu      sync.Mutex
	applied map[int32]int64
	err     error
	gate    chan struct{}
	entered chan struct{}
}

func newFakeApplier() *fakeApplier {
	return &fakeApplier{applied: make(map[int32]int64)}
}

func (f *fakeApplier) Apply(ctx context.Context, req domain.ApplyRequest) (bool, error) {
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if last, ok := f.applied[req.ShardID]; ok && req.Offset <= last {
		return false, nil
	}
	f.applied[req.ShardID] = req.Offset
	return true, nil
}

func (f *fakeApplier) AppliedOffsets(_ context.Context, shards []int32) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(shards))
	for i, s := range shards {
		off, ok := f.applied[s]
		if !ok {
			off = -1
		}
		out[i] = off
	}
	return out, nil
}

type fakeTails struct {
	offsets []int64
	err     error
}

func (f *fakeTails) GetTailOffsets(_ context.Context, shards []int32) ([]int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.offsets[:len(shards)], nil
}

func vertexOp(id string) domain.Operation {
	return domain.Operation{Kind: domain.OpAddVertex, Label: "person", ID: id}
}

func ptr[T any](v T) *T { return &v }
