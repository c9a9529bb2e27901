package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
	"github.com/yndnr/graphmesh-go/internal/storage/wal"
	"github.com/yndnr/graphmesh-go/internal/telemetry/metric"
)

// RoleStore is the membership role of storage-tier nodes.
const RoleStore = domain.RoleStore

// Topology describes what this node owns and which stores must be present.
type Topology interface {
	// OwnedShards returns the shards this node writes.
	OwnedShards() []int32

	// StoreIDs returns every expected storage-tier member.
	StoreIDs() []string
}

// ProgressSource reports how far the storage tier has applied each shard.
type ProgressSource interface {
	// GetTailOffsets returns, per shard, the highest offset applied by
	// every store, or -1.
	GetTailOffsets(ctx context.Context, shardIDs []int32) ([]int64, error)
}

// ServiceState is the lifecycle state of the service.
type ServiceState int32

const (
	StateStopped ServiceState = iota
	StateStarting
	StateNotReady
	StateReady
	StateStopping
)

func (s ServiceState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateNotReady:
		return "not_ready"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ServiceConfig configures the ingest service.
type ServiceConfig struct {
	Processor ProcessorConfig

	// ReadinessInterval is the period of the readiness check.
	// Default: 1s
	ReadinessInterval time.Duration

	// StartTimeout bounds fetching tail offsets and starting every shard.
	// Default: 1m
	StartTimeout time.Duration

	// MarkerRetry is the pause between marker submissions refused with
	// ErrOverloaded.
	// Default: 5ms
	MarkerRetry time.Duration
}

// DefaultServiceConfig returns the default service configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Processor:         DefaultProcessorConfig(),
		ReadinessInterval: time.Second,
		StartTimeout:      time.Minute,
		MarkerRetry:       5 * time.Millisecond,
	}
}

// ServiceStats is a point-in-time view of the service.
type ServiceStats struct {
	State    string           `json:"state"`
	Snapshot int64            `json:"snapshot"`
	Stores   int              `json:"stores_present"`
	Shards   []ProcessorStats `json:"shards"`
}

// Service owns every shard processor of a node.
//
// It opens processors only while every expected store is a cluster member
// and stops all of them as soon as one leaves. It also advances the shared
// snapshot counter and waits for a marker to become durable on every shard.
type Service struct {
	cfg      ServiceConfig
	topology Topology
	log      wal.Log
	sender   Deliverer
	progress ProgressSource
	counter  *SnapshotCounter
	logger   *slog.Logger
	metrics  *metric.Registry

	// lifecycle serializes every start/stop transition of the node.
	lifecycle  sync.Mutex
	state      atomic.Int32
	shardIDs   []int32
	processors map[int32]*Processor
	running    bool

	// membersMu also orders the READY flip against MemberLeft.
	membersMu sync.Mutex
	members   map[string]struct{}

	startMu     sync.Mutex
	startCancel context.CancelFunc

	kick     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService creates a stopped service.
func NewService(cfg ServiceConfig, topology Topology, log wal.Log, sender Deliverer,
	progress ProgressSource, counter *SnapshotCounter, logger *slog.Logger, metrics *metric.Registry) *Service {
	def := DefaultServiceConfig()
	if cfg.ReadinessInterval <= 0 {
		cfg.ReadinessInterval = def.ReadinessInterval
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = def.StartTimeout
	}
	if cfg.MarkerRetry <= 0 {
		cfg.MarkerRetry = def.MarkerRetry
	}
	if counter == nil {
		counter = NewSnapshotCounter()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		topology: topology,
		log:      log,
		sender:   sender,
		progress: progress,
		counter:  counter,
		logger:   logger,
		metrics:  metrics,
		members:  make(map[string]struct{}),
		kick:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// State returns the current state.
func (s *Service) State() ServiceState {
	return ServiceState(s.state.Load())
}

func (s *Service) setState(st ServiceState) {
	s.state.Store(int32(st))
	s.metrics.SetReady(st == StateReady)
}

// Counter returns the shared snapshot counter.
func (s *Service) Counter() *SnapshotCounter {
	return s.counter
}

// Start creates a stopped processor per owned shard and begins the
// readiness check. Starting twice is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.State() != StateStopped {
		return nil
	}
	select {
	case <-s.stopCh:
		return domain.ErrNotReady.WithDetails("service already shut down")
	default:
	}
	s.setState(StateStarting)

	shards := slices.Clone(s.topology.OwnedShards())
	slices.Sort(shards)
	shards = slices.Compact(shards)

	s.shardIDs = shards
	s.processors = make(map[int32]*Processor, len(shards))
	for _, id := range shards {
		s.processors[id] = NewProcessor(id, s.cfg.Processor, s.log, s.sender, s.counter, s.logger, s.metrics)
	}
	s.setState(StateNotReady)

	s.wg.Add(1)
	go s.readinessLoop()

	s.logger.Info("ingest service started",
		"shards", len(shards),
		"expected_stores", len(s.topology.StoreIDs()))
	return nil
}

// Stop stops every processor and the readiness check.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.State() == StateStopped {
		return
	}
	s.setState(StateStopping)
	s.stopProcessors()
	s.running = false
	s.setState(StateStopped)
	s.logger.Info("ingest service stopped")
}

func (s *Service) readinessLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ReadinessInterval)
	defer ticker.Stop()

	s.reconcile()
	for {
		select {
		case <-ticker.C:
			s.reconcile()
		case <-s.kick:
			s.reconcile()
		case <-s.stopCh:
			return
		}
	}
}

// MemberJoined records a cluster member. Readiness follows on the next
// periodic check.
func (s *Service) MemberJoined(role, id string) {
	if role != RoleStore {
		return
	}
	s.membersMu.Lock()
	s.members[id] = struct{}{}
	s.membersMu.Unlock()
	s.logger.Info("store joined", "store_id", id)
}

// MemberLeft records a departed member. Losing an expected store refuses
// writes before MemberLeft returns; the processors are stopped by the
// readiness loop. MemberLeft never waits for a start or stop in progress,
// so it is safe to call from membership callbacks.
func (s *Service) MemberLeft(role, id string) {
	if role != RoleStore {
		return
	}
	expected := slices.Contains(s.topology.StoreIDs(), id)

	s.membersMu.Lock()
	delete(s.members, id)
	if expected {
		s.state.CompareAndSwap(int32(StateReady), int32(StateNotReady))
	}
	s.membersMu.Unlock()
	s.logger.Warn("store left", "store_id", id)
	if !expected {
		return
	}

	s.metrics.SetReady(s.State() == StateReady)
	s.cancelStart()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// cancelStart aborts a start in progress, if any.
func (s *Service) cancelStart() {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.startCancel != nil {
		s.startCancel()
	}
}

// storesComplete reports whether every expected store is present.
func (s *Service) storesComplete() (bool, int) {
	s.membersMu.Lock()
	defer s.membersMu.Unlock()
	return s.storesCompleteLocked()
}

func (s *Service) storesCompleteLocked() (bool, int) {
	expected := s.topology.StoreIDs()
	present := 0
	for _, id := range expected {
		if _, ok := s.members[id]; ok {
			present++
		}
	}
	return len(expected) > 0 && present == len(expected), present
}

// reconcile moves the node between NOT_READY and READY according to the
// current membership.
func (s *Service) reconcile() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	switch s.State() {
	case StateReady, StateNotReady:
	default:
		return
	}

	complete, present := s.storesComplete()
	if !complete {
		s.state.CompareAndSwap(int32(StateReady), int32(StateNotReady))
		s.metrics.SetReady(false)
		if s.running {
			s.logger.Warn("storage tier incomplete, stopping all shards", "stores_present", present)
			s.stopProcessors()
			s.running = false
		}
		return
	}
	if s.running {
		if s.State() == StateReady {
			return
		}
		// A store left and came back before the loop ran; restart so
		// every shard replays from the current tail.
		s.stopProcessors()
		s.running = false
	}

	if err := s.startProcessors(); err != nil {
		s.logger.Error("failed to start shards", "error", err)
		s.stopProcessors()
		return
	}
	s.running = true

	// Membership may have changed while shards were starting.
	s.membersMu.Lock()
	complete, _ = s.storesCompleteLocked()
	if complete {
		s.setState(StateReady)
	}
	s.membersMu.Unlock()
	if !complete {
		s.logger.Warn("storage tier changed during start, stopping all shards")
		s.stopProcessors()
		s.running = false
		return
	}
	s.logger.Info("ingest ready", "shards", len(s.shardIDs))
}

func (s *Service) startProcessors() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StartTimeout)
	defer cancel()

	s.startMu.Lock()
	s.startCancel = cancel
	s.startMu.Unlock()
	defer func() {
		s.startMu.Lock()
		s.startCancel = nil
		s.startMu.Unlock()
	}()

	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	tails, err := s.progress.GetTailOffsets(ctx, s.shardIDs)
	if err != nil {
		return fmt.Errorf("get tail offsets: %w", err)
	}
	if len(tails) != len(s.shardIDs) {
		return fmt.Errorf("get tail offsets: got %d offsets for %d shards", len(tails), len(s.shardIDs))
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range s.shardIDs {
		p, tail := s.processors[id], tails[i]
		g.Go(func() error {
			return p.Start(gctx, tail)
		})
	}
	return g.Wait()
}

func (s *Service) stopProcessors() {
	var wg sync.WaitGroup
	for _, p := range s.processors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Stop()
		}()
	}
	wg.Wait()
}

// Route hands a batch to the processor of shardID.
func (s *Service) Route(requestID string, shardID int32, batch domain.OperationBatch, cb Callback) error {
	if st := s.State(); st != StateReady {
		s.metrics.RecordRejected(metric.ReasonNotReady)
		return domain.ErrNotReady.WithDetailsf("node is %s", st)
	}
	p, ok := s.processors[shardID]
	if !ok {
		return domain.ErrUnknownShard.WithDetailsf("shard %d", shardID)
	}
	return p.Submit(requestID, batch, cb)
}

// Write routes a batch and waits until it is durable. It returns the
// snapshot id the batch was stamped with.
func (s *Service) Write(ctx context.Context, requestID string, shardID int32, batch domain.OperationBatch) (int64, error) {
	res := NewResult()
	if err := s.Route(requestID, shardID, batch, res); err != nil {
		return 0, err
	}
	return res.Wait(ctx)
}

// AdvanceSnapshot moves the counter to next and waits until a marker
// stamped with at least next is durable on every shard. It returns the
// previous counter value.
//
// The counter is not rolled back if a marker fails; the caller learns that
// writes stamped with older snapshots may not all be durable yet.
func (s *Service) AdvanceSnapshot(ctx context.Context, next int64) (int64, error) {
	switch st := s.State(); st {
	case StateStopped, StateStarting, StateStopping:
		return 0, domain.ErrNotReady.WithDetailsf("node is %s", st)
	}

	start := time.Now()
	prev, err := s.counter.Advance(next)
	if err != nil {
		return prev, err
	}
	s.metrics.SetSnapshot(next)

	b := newBarrier(len(s.shardIDs))
	for _, id := range s.shardIDs {
		s.submitMarker(ctx, s.processors[id], b)
	}

	err = b.Wait(ctx)
	s.metrics.RecordBarrier(time.Since(start), err)
	if err != nil {
		s.logger.Warn("snapshot barrier failed", "snapshot", next, "previous", prev, "error", err)
		return prev, fmt.Errorf("advance snapshot to %d: %w", next, err)
	}
	s.logger.Debug("snapshot advanced", "snapshot", next, "previous", prev, "elapsed", time.Since(start))
	return prev, nil
}

// submitMarker submits a marker, retrying while the shard's buffer is full.
// Any other refusal fails the barrier.
func (s *Service) submitMarker(ctx context.Context, p *Processor, b *barrier) {
	requestID, err := domain.GenerateRequestID()
	if err != nil {
		b.OnError(err)
		return
	}
	for {
		err := p.Submit(requestID, domain.MarkerBatch(), b)
		if err == nil {
			return
		}
		if !errors.Is(err, domain.ErrOverloaded) {
			b.OnError(fmt.Errorf("shard %d: %w", p.ShardID(), err))
			return
		}
		if err := sleepCtx(ctx, s.cfg.MarkerRetry); err != nil {
			b.OnError(fmt.Errorf("shard %d: %w", p.ShardID(), err))
			return
		}
	}
}

// Processor returns the processor of a shard.
func (s *Service) Processor(shardID int32) (*Processor, bool) {
	if s.shards() == nil {
		return nil, false
	}
	p, ok := s.processors[shardID]
	return p, ok
}

// shards returns the owned shard ids once Start has built the processors.
func (s *Service) shards() []int32 {
	switch s.State() {
	case StateStopped, StateStarting:
		return nil
	}
	return s.shardIDs
}

// Stats returns a point-in-time view of the service.
func (s *Service) Stats() ServiceStats {
	_, present := s.storesComplete()
	shards := s.shards()
	stats := ServiceStats{
		State:    s.State().String(),
		Snapshot: s.counter.Load(),
		Stores:   present,
		Shards:   make([]ProcessorStats, 0, len(shards)),
	}
	for _, id := range shards {
		stats.Shards = append(stats.Shards, s.processors[id].Stats())
	}
	return stats
}

// ShardStats implements metric.StatsSource.
func (s *Service) ShardStats() []metric.ShardStat {
	shards := s.shards()
	out := make([]metric.ShardStat, 0, len(shards))
	for _, id := range shards {
		ps := s.processors[id].Stats()
		out = append(out, metric.ShardStat{
			ShardID:    id,
			QueueDepth: ps.QueueDepth,
			LastOffset: ps.LastOffset,
			Running:    ps.State == ProcessorRunning.String(),
		})
	}
	return out
}
