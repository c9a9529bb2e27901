package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
	"github.com/yndnr/graphmesh-go/internal/storage/wal"
	"github.com/yndnr/graphmesh-go/internal/telemetry/metric"
)

// Deliverer hands durable entries to the storage tier. BatchSender
// implements it.
type Deliverer interface {
	OpenLane(shardID int32)
	CloseLane(shardID int32)
	Deliver(requestID string, shardID int32, snapshotID, offset int64, batch domain.OperationBatch) *Delivery
}

var _ Deliverer = (*BatchSender)(nil)

// ProcessorConfig configures a shard processor.
type ProcessorConfig struct {
	// QueueCapacity bounds the admission buffer.
	// Default: 1024
	QueueCapacity int

	// RetryBackoff is the pause between retries of transient WAL errors.
	// Default: 10ms
	RetryBackoff time.Duration

	// AppendTimeout bounds one append attempt; a timeout is retried.
	// Default: 5s
	AppendTimeout time.Duration

	// ReplayRate limits re-delivered entries per second during start.
	// Zero means unlimited.
	ReplayRate float64

	// CompactOnStart drops WAL segments already applied by every store.
	CompactOnStart bool
}

// DefaultProcessorConfig returns the default processor configuration.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		QueueCapacity: 1024,
		RetryBackoff:  10 * time.Millisecond,
		AppendTimeout: 5 * time.Second,
	}
}

// ProcessorState is the lifecycle state of a processor.
type ProcessorState int32

const (
	ProcessorStopped ProcessorState = iota
	ProcessorStarting
	ProcessorRunning
	ProcessorStopping
)

func (s ProcessorState) String() string {
	switch s {
	case ProcessorStopped:
		return "stopped"
	case ProcessorStarting:
		return "starting"
	case ProcessorRunning:
		return "running"
	case ProcessorStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ProcessorStats is a point-in-time view of a processor.
type ProcessorStats struct {
	ShardID    int32  `json:"shard_id"`
	State      string `json:"state"`
	Accepted   uint64 `json:"accepted"`
	Rejected   uint64 `json:"rejected"`
	Failed     uint64 `json:"failed"`
	Bytes      uint64 `json:"bytes"`
	Replayed   uint64 `json:"replayed"`
	QueueDepth int    `json:"queue_depth"`
	LastOffset int64  `json:"last_offset"`
}

// Processor owns the write path of one shard: the admission buffer, the
// single WAL writer and the hand-off to delivery.
//
// Within a shard, acceptance order, WAL offset order and the order in
// which callbacks fire are the same.
type Processor struct {
	shardID   int32
	cfg       ProcessorConfig
	log       wal.Log
	sender    Deliverer
	counter   *SnapshotCounter
	logger    *slog.Logger
	metrics   *metric.Registry
	queue     chan *task
	lifecycle sync.Mutex // serializes Start and Stop

	mu     sync.RWMutex // guards state against Submit
	state  ProcessorState
	cancel context.CancelFunc
	done   chan struct{}

	// Owned by the worker while running.
	writer wal.Writer

	accepted   atomic.Uint64
	rejected   atomic.Uint64
	failed     atomic.Uint64
	bytes      atomic.Uint64
	replayed   atomic.Uint64
	lastOffset atomic.Int64
}

// NewProcessor creates a stopped processor for a shard.
func NewProcessor(shardID int32, cfg ProcessorConfig, log wal.Log, sender Deliverer,
	counter *SnapshotCounter, logger *slog.Logger, metrics *metric.Registry) *Processor {
	def := DefaultProcessorConfig()
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.AppendTimeout <= 0 {
		cfg.AppendTimeout = def.AppendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Processor{
		shardID: shardID,
		cfg:     cfg,
		log:     log,
		sender:  sender,
		counter: counter,
		logger:  logger.With("shard_id", shardID),
		metrics: metrics,
		queue:   make(chan *task, cfg.QueueCapacity),
	}
	p.lastOffset.Store(-1)
	return p
}

// ShardID returns the shard this processor owns.
func (p *Processor) ShardID() int32 {
	return p.shardID
}

// State returns the current lifecycle state.
func (p *Processor) State() ProcessorState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Start replays the WAL from tailOffset+1 through the sender, then opens the
// writer and starts accepting writes. Starting a running processor is a
// no-op. If replay fails the processor stays stopped.
func (p *Processor) Start(ctx context.Context, tailOffset int64) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.State() != ProcessorStopped {
		return nil
	}
	p.setState(ProcessorStarting)

	p.sender.OpenLane(p.shardID)

	writer, err := p.recover(ctx, tailOffset)
	if err != nil {
		p.sender.CloseLane(p.shardID)
		p.setState(ProcessorStopped)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.writer = writer
	p.cancel = cancel
	p.done = done
	p.state = ProcessorRunning
	p.mu.Unlock()

	go p.run(runCtx, done)

	p.logger.Info("shard processor started",
		"tail_offset", tailOffset,
		"last_offset", writer.LastOffset())
	return nil
}

// recover re-delivers every entry after tailOffset and opens the writer.
func (p *Processor) recover(ctx context.Context, tailOffset int64) (wal.Writer, error) {
	from := tailOffset + 1
	if from < 0 {
		from = 0
	}

	var reader wal.Reader
	err := p.retryTransient(ctx, "open wal reader", func() error {
		var err error
		reader, err = p.log.OpenReader(ctx, p.shardID, from)
		return err
	})
	if err != nil {
		return nil, domain.ErrDurabilityFailure.WithDetailsf("shard %d: open reader", p.shardID).WithCause(err)
	}

	n, lastReplayed, err := p.replay(ctx, reader)
	reader.Close()
	if err != nil {
		return nil, domain.ErrDurabilityFailure.WithDetailsf("shard %d: replay from %d", p.shardID, from).WithCause(err)
	}
	if n > 0 {
		p.replayed.Add(uint64(n))
		p.metrics.RecordReplayed(p.shardID, n)
		p.logger.Info("wal replayed", "from", from, "entries", n, "last_offset", lastReplayed)
	}

	if c, ok := p.log.(wal.Compacter); ok && p.cfg.CompactOnStart && tailOffset >= 0 {
		if removed, err := c.Compact(p.shardID, tailOffset); err != nil {
			p.logger.Warn("wal compaction failed", "up_to", tailOffset, "error", err)
		} else if removed > 0 {
			p.logger.Info("wal compacted", "up_to", tailOffset, "segments_removed", removed)
		}
	}

	var writer wal.Writer
	err = p.retryTransient(ctx, "open wal writer", func() error {
		var err error
		writer, err = p.log.OpenWriter(ctx, p.shardID)
		return err
	})
	if err != nil {
		return nil, domain.ErrDurabilityFailure.WithDetailsf("shard %d: open writer", p.shardID).WithCause(err)
	}

	last := writer.LastOffset()
	if last < tailOffset {
		// Stores already hold offsets this WAL never wrote; new entries
		// would be dropped by them as duplicates.
		if err := writer.Close(); err != nil {
			p.logger.Warn("close wal writer", "error", err)
		}
		p.logger.Error("wal is behind applied offset", "last_offset", last, "tail_offset", tailOffset)
		return nil, domain.ErrDurabilityFailure.WithDetailsf(
			"shard %d: wal ends at offset %d but stores applied up to %d", p.shardID, last, tailOffset)
	}
	p.lastOffset.Store(last)
	return writer, nil
}

func (p *Processor) replay(ctx context.Context, reader wal.Reader) (int, int64, error) {
	var limiter *rate.Limiter
	if p.cfg.ReplayRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(p.cfg.ReplayRate), max(1, int(p.cfg.ReplayRate)))
	}

	n := 0
	last := int64(-1)
	for {
		e, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return n, last, nil
		}
		if err != nil {
			return n, last, err
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return n, last, err
			}
		}
		p.sender.Deliver(replayRequestID(p.shardID, e.Offset), p.shardID, e.Entry.SnapshotID, e.Offset, e.Entry.Batch)
		n++
		last = e.Offset
	}
}

func replayRequestID(shardID int32, offset int64) string {
	return fmt.Sprintf("replay-%d-%d", shardID, offset)
}

// retryTransient runs fn until it succeeds, fails with a non-transient
// error, or ctx ends.
func (p *Processor) retryTransient(ctx context.Context, what string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !wal.IsTransient(err) {
			return err
		}
		p.logger.Warn(what+" failed, retrying", "attempt", attempt, "error", err)
		if err := sleepCtx(ctx, p.cfg.RetryBackoff); err != nil {
			return err
		}
	}
}

// Submit queues a batch. It never blocks: a full buffer fails with
// ErrOverloaded. When Submit returns an error the callback is not called.
func (p *Processor) Submit(requestID string, batch domain.OperationBatch, cb Callback) error {
	if cb == nil {
		return domain.ErrInvalidBatch.WithDetails("callback is required")
	}
	if !batch.Valid() {
		p.reject(metric.ReasonInvalid)
		return domain.ErrInvalidBatch.WithDetails("batch is empty")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.state != ProcessorRunning {
		p.reject(metric.ReasonNotReady)
		return domain.ErrNotReady.WithDetailsf("shard %d is %s", p.shardID, p.state)
	}
	if !p.counter.Initialized() {
		p.reject(metric.ReasonNotReady)
		return domain.ErrSnapshotUninitialized
	}

	t := &task{requestID: requestID, batch: batch, callback: cb, enqueued: time.Now()}
	select {
	case p.queue <- t:
		return nil
	default:
		p.reject(metric.ReasonOverloaded)
		return domain.ErrOverloaded.WithDetailsf("shard %d buffer holds %d tasks", p.shardID, cap(p.queue))
	}
}

func (p *Processor) reject(reason string) {
	p.rejected.Add(1)
	p.metrics.RecordRejected(reason)
}

// Stop stops the worker, fails queued tasks with ErrNotReady, closes the
// writer and abandons pending deliveries. Stopping a stopped processor is
// a no-op.
func (p *Processor) Stop() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.mu.Lock()
	if p.state != ProcessorRunning {
		p.mu.Unlock()
		return
	}
	p.state = ProcessorStopping
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done

	drained := 0
	for {
		select {
		case t := <-p.queue:
			p.fail(t, domain.ErrNotReady.WithDetailsf("shard %d stopped", p.shardID), metric.ReasonNotReady)
			drained++
			continue
		default:
		}
		break
	}

	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			p.logger.Warn("close wal writer", "error", err)
		}
		p.writer = nil
	}
	p.sender.CloseLane(p.shardID)

	p.setState(ProcessorStopped)
	p.logger.Info("shard processor stopped", "failed_queued", drained)
}

func (p *Processor) setState(s ProcessorState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Processor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.queue:
			p.process(ctx, t)
		}
	}
}

func (p *Processor) process(ctx context.Context, t *task) {
	start := time.Now()
	queueWait := start.Sub(t.enqueued)

	snapshot := p.counter.Load()
	if snapshot == domain.SnapshotUninitialized {
		p.fail(t, domain.ErrSnapshotUninitialized, metric.ReasonNotReady)
		return
	}
	if need := t.batch.MinSnapshot(); need > snapshot {
		p.fail(t, domain.ErrStaleSnapshotDependency.WithDetailsf(
			"batch requires snapshot %d, node is at %d", need, snapshot), metric.ReasonStaleSnapshot)
		return
	}

	if p.writer == nil {
		w, err := p.log.OpenWriter(ctx, p.shardID)
		if err != nil {
			p.fail(t, domain.ErrDurabilityFailure.WithDetailsf("shard %d: reopen writer", p.shardID).WithCause(err), metric.ReasonDurability)
			return
		}
		p.writer = w
	}

	entry := domain.LogEntry{SnapshotID: snapshot, Batch: t.batch}
	pos, err := p.append(ctx, entry)
	if err != nil {
		if ctx.Err() != nil {
			p.fail(t, domain.ErrNotReady.WithDetailsf("shard %d stopped during append", p.shardID).WithCause(err), metric.ReasonNotReady)
			return
		}
		p.logger.Error("wal append failed", "request_id", t.requestID, "error", err)
		if cerr := p.writer.Close(); cerr != nil {
			p.logger.Warn("close wal writer", "error", cerr)
		}
		p.writer = nil
		p.fail(t, domain.ErrDurabilityFailure.WithCause(err), metric.ReasonDurability)
		return
	}
	appendTime := time.Since(start)

	p.lastOffset.Store(pos.Offset)
	p.accepted.Add(1)
	p.bytes.Add(uint64(pos.Size))

	t.callback.OnSuccess(snapshot)
	p.sender.Deliver(t.requestID, p.shardID, snapshot, pos.Offset, t.batch)

	p.metrics.RecordAccepted(p.shardID, pos.Size, queueWait, appendTime, time.Since(t.enqueued))
}

// append writes entry, retrying transient errors until ctx ends.
func (p *Processor) append(ctx context.Context, entry domain.LogEntry) (wal.Position, error) {
	for attempt := 1; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, p.cfg.AppendTimeout)
		pos, err := p.writer.Append(actx, entry)
		cancel()
		if err == nil {
			return pos, nil
		}
		if !wal.IsTransient(err) || ctx.Err() != nil {
			return wal.Position{}, err
		}
		p.metrics.RecordAppendRetry(p.shardID)
		p.logger.Warn("wal append timed out, retrying", "attempt", attempt, "error", err)
		if err := sleepCtx(ctx, p.cfg.RetryBackoff); err != nil {
			return wal.Position{}, err
		}
	}
}

func (p *Processor) fail(t *task, err error, reason string) {
	p.failed.Add(1)
	p.metrics.RecordRejected(reason)
	t.callback.OnError(err)
}

// Stats returns a point-in-time view of the processor.
func (p *Processor) Stats() ProcessorStats {
	return ProcessorStats{
		ShardID:    p.shardID,
		State:      p.State().String(),
		Accepted:   p.accepted.Load(),
		Rejected:   p.rejected.Load(),
		Failed:     p.failed.Load(),
		Bytes:      p.bytes.Load(),
		Replayed:   p.replayed.Load(),
		QueueDepth: len(p.queue),
		LastOffset: p.lastOffset.Load(),
	}
}
