package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
	"github.com/yndnr/graphmesh-go/internal/telemetry/metric"
)

// Router resolves the storage tier.
type Router interface {
	// StoreIDs returns every store that must see each WAL entry.
	StoreIDs() []string

	// StoreForPartition returns the store owning a graph partition.
	StoreForPartition(partitionID int32) (string, error)
}

// StoreClient sends apply requests to stores. Any error is retried.
type StoreClient interface {
	ApplyBatch(ctx context.Context, storeID string, req domain.ApplyRequest) error
}

// SenderConfig configures delivery retries.
type SenderConfig struct {
	// InitialBackoff is the delay after the first failed attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration

	// AttemptTimeout bounds a single apply call.
	AttemptTimeout time.Duration
}

// DefaultSenderConfig returns the default delivery configuration.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

// Delivery tracks one entry handed to the sender.
type Delivery struct {
	ShardID int32
	Offset  int64

	done chan struct{}
	err  error
}

func newDelivery(shardID int32, offset int64) *Delivery {
	return &Delivery{ShardID: shardID, Offset: offset, done: make(chan struct{})}
}

func (d *Delivery) finish(err error) {
	d.err = err
	close(d.done)
}

// Done is closed when every store acknowledged the entry or the delivery
// was abandoned.
func (d *Delivery) Done() <-chan struct{} {
	return d.done
}

// Err returns nil after success, ErrDeliveryAborted after abandonment.
// It must only be called after Done is closed.
func (d *Delivery) Err() error {
	return d.err
}

// Wait blocks until the delivery resolves or ctx ends.
func (d *Delivery) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type outbound struct {
	requestID string
	req       domain.ApplyRequest
	delivery  *Delivery
	queued    time.Time
}

// BatchSender ships durable WAL entries to the storage tier.
//
// Each shard has a lane: an unbounded FIFO drained by one goroutine, so
// entries of a shard reach every store in offset order. A failed apply is
// retried with backoff until it succeeds or the lane is closed. Deliver
// never blocks.
type BatchSender struct {
	cfg     SenderConfig
	router  Router
	client  StoreClient
	logger  *slog.Logger
	metrics *metric.Registry

	mu    sync.Mutex
	lanes map[int32]*lane
}

// NewBatchSender creates a sender.
func NewBatchSender(cfg SenderConfig, router Router, client StoreClient, logger *slog.Logger, metrics *metric.Registry) *BatchSender {
	def := DefaultSenderConfig()
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.InitialBackoff)
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchSender{
		cfg:     cfg,
		router:  router,
		client:  client,
		logger:  logger,
		metrics: metrics,
		lanes:   make(map[int32]*lane),
	}
}

// OpenLane starts the lane of a shard. Opening an open lane is a no-op.
func (s *BatchSender) OpenLane(shardID int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lanes[shardID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &lane{
		shardID: shardID,
		sender:  s,
		ctx:     ctx,
		cancel:  cancel,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.lanes[shardID] = l
	go l.run()
}

// CloseLane stops the lane of a shard and waits for its goroutine. Pending
// deliveries resolve with ErrDeliveryAborted.
func (s *BatchSender) CloseLane(shardID int32) {
	s.mu.Lock()
	l, ok := s.lanes[shardID]
	delete(s.lanes, shardID)
	s.mu.Unlock()
	if !ok {
		return
	}
	l.cancel()
	<-l.done
}

// Close closes every lane.
func (s *BatchSender) Close() {
	s.mu.Lock()
	ids := make([]int32, 0, len(s.lanes))
	for id := range s.lanes {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.CloseLane(id)
	}
}

// Pending returns the number of queued, unacknowledged entries of a shard.
func (s *BatchSender) Pending(shardID int32) int {
	s.mu.Lock()
	l, ok := s.lanes[shardID]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.queue)
	if l.inflight {
		n++
	}
	return n
}

// Deliver queues an entry for the shard's lane. If the lane is not open the
// returned Delivery is already aborted.
func (s *BatchSender) Deliver(requestID string, shardID int32, snapshotID, offset int64, batch domain.OperationBatch) *Delivery {
	d := newDelivery(shardID, offset)

	s.mu.Lock()
	l, ok := s.lanes[shardID]
	s.mu.Unlock()
	if !ok {
		s.metrics.RecordDeliveryAbandoned(shardID)
		d.finish(domain.ErrDeliveryAborted.WithDetailsf("shard %d has no open lane", shardID))
		return d
	}

	req := domain.ApplyRequest{
		ShardID:    shardID,
		SnapshotID: snapshotID,
		Offset:     offset,
		Marker:     batch.IsMarker(),
		Ops:        batch.Operations(),
	}
	l.push(&outbound{requestID: requestID, req: req, delivery: d, queued: time.Now()})
	return d
}

// split returns the per-store requests for req. Every store gets a request,
// possibly with no ops, so each store's applied offset moves forward.
func (s *BatchSender) split(req domain.ApplyRequest) (map[string]domain.ApplyRequest, error) {
	stores := s.router.StoreIDs()
	if len(stores) == 0 {
		return nil, domain.ErrUnknownPartition.WithDetails("no stores configured")
	}

	out := make(map[string]domain.ApplyRequest, len(stores))
	for _, id := range stores {
		r := req
		r.Ops = nil
		out[id] = r
	}
	for _, op := range req.Ops {
		id, err := s.router.StoreForPartition(op.PartitionID)
		if err != nil {
			return nil, err
		}
		r, ok := out[id]
		if !ok {
			return nil, domain.ErrUnknownPartition.WithDetailsf("partition %d maps to unknown store %q", op.PartitionID, id)
		}
		r.Ops = append(r.Ops, op)
		out[id] = r
	}
	return out, nil
}

// backoff returns the delay before retry number attempt (1-based), with
// +/-20% jitter.
func (s *BatchSender) backoff(attempt int) time.Duration {
	d := s.cfg.InitialBackoff
	for i := 1; i < attempt && d < s.cfg.MaxBackoff; i++ {
		d *= 2
	}
	d = min(d, s.cfg.MaxBackoff)
	jitter := time.Duration(float64(d) * (rand.Float64()*0.4 - 0.2))
	return d + jitter
}

type lane struct {
	shardID int32
	sender  *BatchSender
	ctx     context.Context
	cancel  context.CancelFunc
	notify  chan struct{}
	done    chan struct{}

	mu       sync.Mutex
	queue    []*outbound
	inflight bool
}

func (l *lane) push(o *outbound) {
	l.mu.Lock()
	l.queue = append(l.queue, o)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *lane) pop() *outbound {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	o := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	l.inflight = true
	return o
}

func (l *lane) run() {
	defer close(l.done)
	defer l.abandon()

	for {
		o := l.pop()
		if o == nil {
			select {
			case <-l.notify:
				continue
			case <-l.ctx.Done():
				return
			}
		}

		err := l.deliver(o)

		l.mu.Lock()
		l.inflight = false
		l.mu.Unlock()

		if err != nil {
			l.sender.metrics.RecordDeliveryAbandoned(l.shardID)
			o.delivery.finish(domain.ErrDeliveryAborted.WithCause(err))
			return
		}
		l.sender.metrics.RecordDelivered(time.Since(o.queued))
		o.delivery.finish(nil)
	}
}

// abandon fails everything still queued after the lane stopped.
func (l *lane) abandon() {
	l.mu.Lock()
	queued := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, o := range queued {
		l.sender.metrics.RecordDeliveryAbandoned(l.shardID)
		o.delivery.finish(domain.ErrDeliveryAborted.WithDetailsf("shard %d stopped", l.shardID))
	}
	if len(queued) > 0 {
		l.sender.logger.Info("abandoned pending deliveries",
			"shard_id", l.shardID,
			"count", len(queued))
	}
}

// deliver sends o to every store, retrying each until it succeeds. It only
// fails when the lane is cancelled.
func (l *lane) deliver(o *outbound) error {
	s := l.sender
	var (
		perStore map[string]domain.ApplyRequest
		err      error
	)
	for attempt := 1; ; attempt++ {
		perStore, err = s.split(o.req)
		if err == nil {
			break
		}
		s.logger.Warn("cannot route delivery, retrying",
			"shard_id", o.req.ShardID,
			"offset", o.req.Offset,
			"attempt", attempt,
			"error", err)
		if err := sleepCtx(l.ctx, s.backoff(attempt)); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(l.ctx)
	for storeID, req := range perStore {
		g.Go(func() error {
			return l.deliverTo(ctx, o.requestID, storeID, req)
		})
	}
	return g.Wait()
}

func (l *lane) deliverTo(ctx context.Context, requestID, storeID string, req domain.ApplyRequest) error {
	s := l.sender
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		actx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
		err := s.client.ApplyBatch(actx, storeID, req)
		cancel()

		s.metrics.RecordDeliveryAttempt(storeID, err != nil)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := s.backoff(attempt)
		level := slog.LevelDebug
		if !domain.IsDomainError(err, domain.ErrStoreBusy.Code) {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "delivery failed, retrying",
			"request_id", requestID,
			"shard_id", req.ShardID,
			"offset", req.Offset,
			"store_id", storeID,
			"attempt", attempt,
			"retry_in", delay,
			"error", err)

		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retry cancelled: %w", ctx.Err())
	}
}
