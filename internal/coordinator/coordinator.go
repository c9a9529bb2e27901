package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
	"github.com/yndnr/graphmesh-go/internal/telemetry/metric"
)

// Consensus replicates commands to the FSM.
type Consensus interface {
	IsLeader() bool
	Apply(data []byte, timeout time.Duration) error
}

// IngestorClient pushes a new snapshot id to an ingestor.
type IngestorClient interface {
	AdvanceSnapshot(ctx context.Context, ingestorID string, next int64) (int64, error)
}

// StoreProgressClient reads applied offsets from a store.
type StoreProgressClient interface {
	AppliedOffsets(ctx context.Context, storeID string, shards []int32) ([]int64, error)
}

// Directory lists node ids by role.
type Directory interface {
	IDs(role string) []string
}

// Config configures the coordinator.
type Config struct {
	// AdvanceInterval is the period of the snapshot advance loop.
	// Zero disables the loop.
	AdvanceInterval time.Duration

	// ApplyTimeout bounds a raft apply.
	ApplyTimeout time.Duration

	// CallTimeout bounds each call to an ingestor or store.
	CallTimeout time.Duration
}

// DefaultConfig returns default coordinator settings.
func DefaultConfig() Config {
	return Config{
		AdvanceInterval: 10 * time.Second,
		ApplyTimeout:    5 * time.Second,
		CallTimeout:     30 * time.Second,
	}
}

// Coordinator drives the snapshot id and aggregates store progress.
type Coordinator struct {
	cfg       Config
	fsm       *FSM
	consensus Consensus
	ingestors Directory
	stores    []string
	ingest    IngestorClient
	progress  StoreProgressClient
	logger    *slog.Logger
	metrics   *metric.Registry

	advanceMu sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a coordinator. stores lists every store whose progress
// counts toward the tail offsets.
func New(cfg Config, fsm *FSM, consensus Consensus, ingestors Directory, stores []string,
	ingest IngestorClient, progress StoreProgressClient, logger *slog.Logger, metrics *metric.Registry) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = DefaultConfig().ApplyTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	return &Coordinator{
		cfg:       cfg,
		fsm:       fsm,
		consensus: consensus,
		ingestors: ingestors,
		stores:    append([]string(nil), stores...),
		ingest:    ingest,
		progress:  progress,
		logger:    logger.With("component", "coordinator"),
		metrics:   metrics,
		stopCh:    make(chan struct{}),
	}
}

func errNotLeader(cause error) error {
	return domain.ErrNotLeader.WithCause(cause)
}

// SnapshotID returns the replicated snapshot id.
func (c *Coordinator) SnapshotID() int64 {
	return c.fsm.SnapshotID()
}

// Advance commits snapshot_id+1 through raft and pushes it to every
// ingestor. The committed value is returned even when some ingestors fail;
// those failures are joined into the error and the next advance retries
// with a higher value.
func (c *Coordinator) Advance(ctx context.Context) (int64, error) {
	if !c.consensus.IsLeader() {
		return domain.SnapshotUninitialized, domain.ErrNotLeader
	}

	c.advanceMu.Lock()
	defer c.advanceMu.Unlock()

	next := c.fsm.SnapshotID() + 1
	if next < 0 {
		next = 0
	}
	data, err := EncodeCommand(Command{Type: CommandSetSnapshot, SnapshotID: next})
	if err != nil {
		return domain.SnapshotUninitialized, fmt.Errorf("encode command: %w", err)
	}
	if err := c.consensus.Apply(data, c.cfg.ApplyTimeout); err != nil {
		return domain.SnapshotUninitialized, err
	}
	c.metrics.SetSnapshot(next)

	ids := c.ingestors.IDs(domain.RoleIngestor)
	errs := make([]error, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
			defer cancel()

			if _, err := c.ingest.AdvanceSnapshot(callCtx, id, next); err != nil {
				c.logger.Warn("ingestor failed to advance snapshot",
					"ingestor", id,
					"snapshot_id", next,
					"error", err)
				errs[i] = fmt.Errorf("ingestor %s: %w", id, err)
			}
		}()
	}
	wg.Wait()

	c.logger.Debug("snapshot advanced", "snapshot_id", next, "ingestors", len(ids))
	return next, errors.Join(errs...)
}

// GetTailOffsets returns, per shard, the lowest offset applied by every
// expected store. It fails if any store cannot answer.
func (c *Coordinator) GetTailOffsets(ctx context.Context, shards []int32) ([]int64, error) {
	tails := make([]int64, len(shards))
	for i := range tails {
		tails[i] = -1
	}
	if len(c.stores) == 0 || len(shards) == 0 {
		return tails, nil
	}

	results := make([][]int64, len(c.stores))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range c.stores {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, c.cfg.CallTimeout)
			defer cancel()

			offsets, err := c.progress.AppliedOffsets(callCtx, id, shards)
			if err != nil {
				return domain.ErrStoreUnavailable.WithDetailsf("store %s", id).WithCause(err)
			}
			if len(offsets) != len(shards) {
				return domain.ErrStoreUnavailable.WithDetailsf("store %s returned %d offsets for %d shards", id, len(offsets), len(shards))
			}
			results[i] = offsets
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range shards {
		for s, offsets := range results {
			if s == 0 || offsets[i] < tails[i] {
				tails[i] = offsets[i]
			}
		}
	}
	return tails, nil
}

// Start runs the advance loop until Stop. leaderCh, when not nil, is
// drained for leadership logging.
func (c *Coordinator) Start(leaderCh <-chan bool) {
	if c.cfg.AdvanceInterval <= 0 {
		return
	}
	c.wg.Add(1)
	go c.advanceLoop(leaderCh)
}

// Stop stops the advance loop and waits for it to exit.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Coordinator) advanceLoop(leaderCh <-chan bool) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.AdvanceInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.stopCh
		cancel()
	}()

	for {
		select {
		case <-c.stopCh:
			return
		case leader, ok := <-leaderCh:
			if !ok {
				leaderCh = nil
				continue
			}
			c.logger.Info("coordinator leadership changed", "leader", leader)
		case <-ticker.C:
			if !c.consensus.IsLeader() {
				continue
			}
			if next, err := c.Advance(ctx); err != nil {
				c.logger.Warn("snapshot advance incomplete", "snapshot_id", next, "error", err)
			}
		}
	}
}
