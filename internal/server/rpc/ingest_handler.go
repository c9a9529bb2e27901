package rpc

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
	"github.com/yndnr/graphmesh-go/internal/telemetry/logger"
)

// IngestAPI is the ingestion surface served over RPC.
type IngestAPI interface {
	Write(ctx context.Context, requestID string, shardID int32, batch domain.OperationBatch) (int64, error)
	AdvanceSnapshot(ctx context.Context, next int64) (int64, error)
}

// ShardResolver maps a routing key to a shard.
type ShardResolver interface {
	ShardForKey(key string) int32
}

// IngestHandler serves IngestService.
type IngestHandler struct {
	api    IngestAPI
	shards ShardResolver
	logger *slog.Logger
}

// NewIngestHandler creates an ingest handler. shards may be nil, in which
// case requests must name their shard.
func NewIngestHandler(api IngestAPI, shards ShardResolver, logger *slog.Logger) *IngestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestHandler{api: api, shards: shards, logger: logger}
}

// SubmitWrite blocks until the batch is durable or rejected.
func (h *IngestHandler) SubmitWrite(
	ctx context.Context,
	req *connect.Request[SubmitWriteRequest],
) (*connect.Response[SubmitWriteResponse], error) {
	msg := req.Msg

	requestID := msg.RequestID
	if requestID == "" {
		id, err := domain.GenerateRequestID()
		if err != nil {
			return nil, toConnectError(err)
		}
		requestID = id
	}

	var shardID int32
	switch {
	case msg.ShardID != nil:
		shardID = *msg.ShardID
	case msg.Key != "" && h.shards != nil:
		shardID = h.shards.ShardForKey(msg.Key)
	default:
		return nil, toConnectError(domain.ErrInvalidBatch.WithDetails("shard_id or key is required"))
	}

	var opts []domain.BatchOption
	if msg.MinSnapshot != nil {
		opts = append(opts, domain.WithMinSnapshot(*msg.MinSnapshot))
	}
	batch, err := domain.NewBatch(msg.Ops, opts...)
	if err != nil {
		return nil, toConnectError(err)
	}

	ctx = logger.WithShardID(logger.WithRequestID(ctx, requestID), shardID)
	snapshotID, err := h.api.Write(ctx, requestID, shardID, batch)
	if err != nil {
		h.logger.DebugContext(ctx, "write rejected", "error", err)
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&SubmitWriteResponse{
		RequestID:  requestID,
		ShardID:    shardID,
		SnapshotID: snapshotID,
	}), nil
}

// AdvanceSnapshot runs the marker barrier for a new snapshot id.
func (h *IngestHandler) AdvanceSnapshot(
	ctx context.Context,
	req *connect.Request[AdvanceSnapshotRequest],
) (*connect.Response[AdvanceSnapshotResponse], error) {
	prev, err := h.api.AdvanceSnapshot(ctx, req.Msg.SnapshotID)
	if err != nil {
		h.logger.Warn("snapshot advance failed",
			"snapshot_id", req.Msg.SnapshotID,
			"error", err)
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&AdvanceSnapshotResponse{Previous: prev}), nil
}
