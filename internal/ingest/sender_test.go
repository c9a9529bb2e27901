package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
)

func TestBatchSender_SplitsByStore(t *testing.T) {
	stores := newMemStores()
	s := NewBatchSender(testSenderConfig(), staticRouter{stores: []string{"s0", "s1"}}, stores, quietLogger(), nil)
	s.OpenLane(1)
	defer s.Close()

	// Partitions 0 and 2 go to s0, partition 1 to s1.
	batch := testBatch(t, "a", "b", "c")
	d := s.Deliver("req-1", 1, 4, 0, batch)
	if err := d.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	s0, s1 := stores.appliedTo("s0"), stores.appliedTo("s1")
	if len(s0) != 1 || len(s1) != 1 {
		t.Fatalf("applies: s0=%d s1=%d, want 1 each", len(s0), len(s1))
	}
	if len(s0[0].Ops) != 2 || s0[0].Ops[0].ID != "a" || s0[0].Ops[1].ID != "c" {
		t.Errorf("s0 ops = %+v", s0[0].Ops)
	}
	if len(s1[0].Ops) != 1 || s1[0].Ops[0].ID != "b" {
		t.Errorf("s1 ops = %+v", s1[0].Ops)
	}
	for _, req := range []domain.ApplyRequest{s0[0], s1[0]} {
		if req.ShardID != 1 || req.SnapshotID != 4 || req.Offset != 0 {
			t.Errorf("request header = %+v", req)
		}
	}
}

func TestBatchSender_EveryStoreSeesEveryOffset(t *testing.T) {
	stores := newMemStores()
	s := NewBatchSender(testSenderConfig(), staticRouter{stores: []string{"s0", "s1", "s2"}}, stores, quietLogger(), nil)
	s.OpenLane(0)
	defer s.Close()

	var last *Delivery
	for off := int64(0); off < 20; off++ {
		// Single-op batches touch only one store.
		last = s.Deliver("req", 0, 1, off, testBatch(t, "v"))
	}
	last = s.Deliver("marker", 0, 2, 20, domain.MarkerBatch())
	if err := last.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"s0", "s1", "s2"} {
		got := stores.appliedTo(id)
		if len(got) != 21 {
			t.Fatalf("%s received %d requests, want 21", id, len(got))
		}
		for i, req := range got {
			if req.Offset != int64(i) {
				t.Fatalf("%s request %d has offset %d; deliveries out of order", id, i, req.Offset)
			}
		}
		if !got[20].Marker {
			t.Errorf("%s last request is not a marker", id)
		}
	}
}

func TestBatchSender_RetriesUntilApplied(t *testing.T) {
	stores := newMemStores()
	stores.failFirst = 5
	s := NewBatchSender(testSenderConfig(), staticRouter{stores: []string{"s0"}}, stores, quietLogger(), nil)
	s.OpenLane(0)
	defer s.Close()

	d := s.Deliver("req", 0, 1, 0, testBatch(t, "v"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got := len(stores.appliedTo("s0")); got != 1 {
		t.Errorf("applied %d times, want 1", got)
	}
}

func TestBatchSender_CloseLaneAbortsPending(t *testing.T) {
	stores := newMemStores()
	stores.failFirst = 1 << 30 // never succeeds
	s := NewBatchSender(testSenderConfig(), staticRouter{stores: []string{"s0"}}, stores, quietLogger(), nil)
	s.OpenLane(3)

	first := s.Deliver("r1", 3, 1, 0, testBatch(t, "a"))
	second := s.Deliver("r2", 3, 1, 1, testBatch(t, "b"))
	waitFor(t, "first attempt", func() bool {
		stores.mu.Lock()
		defer stores.mu.Unlock()
		return stores.calls > 0
	})
	if got := s.Pending(3); got != 2 {
		t.Errorf("Pending() = %d, want 2", got)
	}

	s.CloseLane(3)

	for _, d := range []*Delivery{first, second} {
		select {
		case <-d.Done():
		default:
			t.Fatal("delivery not resolved after CloseLane")
		}
		if !errors.Is(d.Err(), domain.ErrDeliveryAborted) {
			t.Errorf("Err() = %v, want ErrDeliveryAborted", d.Err())
		}
	}
	if got := s.Pending(3); got != 0 {
		t.Errorf("Pending() after close = %d, want 0", got)
	}
}

func TestBatchSender_DeliverWithoutLane(t *testing.T) {
	s := NewBatchSender(testSenderConfig(), staticRouter{stores: []string{"s0"}}, newMemStores(), quietLogger(), nil)

	d := s.Deliver("req", 9, 1, 0, testBatch(t, "v"))
	if err := d.Wait(context.Background()); !errors.Is(err, domain.ErrDeliveryAborted) {
		t.Errorf("Wait() error = %v, want ErrDeliveryAborted", err)
	}
}

func TestBatchSender_Backoff(t *testing.T) {
	s := NewBatchSender(SenderConfig{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     80 * time.Millisecond,
	}, staticRouter{}, newMemStores(), quietLogger(), nil)

	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{4, 80 * time.Millisecond},
		{10, 80 * time.Millisecond},
	}
	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			got := s.backoff(tt.attempt)
			lo := time.Duration(float64(tt.base) * 0.8)
			hi := time.Duration(float64(tt.base) * 1.2)
			if got < lo || got > hi {
				t.Fatalf("backoff(%d) = %v, want within [%v, %v]", tt.attempt, got, lo, hi)
			}
		}
	}
}

func TestBatchSender_UnroutableRetries(t *testing.T) {
	stores := newMemStores()
	s := NewBatchSender(testSenderConfig(), staticRouter{}, stores, quietLogger(), nil)
	s.OpenLane(0)

	d := s.Deliver("req", 0, 1, 0, testBatch(t, "v"))
	time.Sleep(20 * time.Millisecond)
	select {
	case <-d.Done():
		t.Fatal("delivery resolved without any store")
	default:
	}

	s.CloseLane(0)
	if !errors.Is(d.Err(), domain.ErrDeliveryAborted) {
		t.Errorf("Err() = %v, want ErrDeliveryAborted", d.Err())
	}
}
