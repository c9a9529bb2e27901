package rpc

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
	"github.com/yndnr/graphmesh-go/internal/telemetry/metric"
)

// Applier is the storage tier behind StoreService.
type Applier interface {
	Apply(ctx context.Context, req domain.ApplyRequest) (bool, error)
	AppliedOffsets(ctx context.Context, shards []int32) ([]int64, error)
}

// StoreHandlerConfig bounds apply admission.
type StoreHandlerConfig struct {
	// MaxInflight is the number of concurrent applies; further requests
	// are refused with ErrStoreBusy.
	MaxInflight int64

	// ApplyRate limits applies per second; zero disables the limit.
	ApplyRate float64

	// ApplyBurst is the limiter burst.
	ApplyBurst int
}

// DefaultStoreHandlerConfig returns default admission settings.
func DefaultStoreHandlerConfig() StoreHandlerConfig {
	return StoreHandlerConfig{MaxInflight: 64}
}

// StoreHandler serves StoreService.
type StoreHandler struct {
	store   Applier
	slots   *semaphore.Weighted
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metric.Registry
}

// NewStoreHandler creates a store handler.
func NewStoreHandler(cfg StoreHandlerConfig, store Applier, logger *slog.Logger, metrics *metric.Registry) *StoreHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = DefaultStoreHandlerConfig().MaxInflight
	}
	h := &StoreHandler{
		store:   store,
		slots:   semaphore.NewWeighted(cfg.MaxInflight),
		logger:  logger,
		metrics: metrics,
	}
	if cfg.ApplyRate > 0 {
		burst := cfg.ApplyBurst
		if burst <= 0 {
			burst = int(cfg.ApplyRate) + 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(cfg.ApplyRate), burst)
	}
	return h
}

// ApplyBatch applies one WAL entry. A full store answers ErrStoreBusy so
// the sender backs off and retries.
func (h *StoreHandler) ApplyBatch(
	ctx context.Context,
	req *connect.Request[domain.ApplyRequest],
) (*connect.Response[ApplyBatchResponse], error) {
	if !h.slots.TryAcquire(1) {
		h.metrics.RecordStoreApply(metric.ApplyBusy)
		return nil, toConnectError(domain.ErrStoreBusy.WithDetails("no free apply slots"))
	}
	defer h.slots.Release(1)

	if h.limiter != nil && !h.limiter.Allow() {
		h.metrics.RecordStoreApply(metric.ApplyBusy)
		return nil, toConnectError(domain.ErrStoreBusy.WithDetails("apply rate exceeded"))
	}

	applied, err := h.store.Apply(ctx, *req.Msg)
	if err != nil {
		h.metrics.RecordStoreApply(metric.ApplyError)
		h.logger.Error("apply failed",
			"shard_id", req.Msg.ShardID,
			"offset", req.Msg.Offset,
			"error", err)
		return nil, toConnectError(err)
	}

	if applied {
		h.metrics.RecordStoreApply(metric.ApplyApplied)
	} else {
		h.metrics.RecordStoreApply(metric.ApplyDuplicate)
	}
	return connect.NewResponse(&ApplyBatchResponse{Applied: applied}), nil
}

// GetAppliedOffsets reports the applied watermark of each shard.
func (h *StoreHandler) GetAppliedOffsets(
	ctx context.Context,
	req *connect.Request[OffsetsRequest],
) (*connect.Response[OffsetsResponse], error) {
	offsets, err := h.store.AppliedOffsets(ctx, req.Msg.Shards)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&OffsetsResponse{Offsets: offsets}), nil
}
