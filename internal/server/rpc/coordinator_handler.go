package rpc

import (
	"context"

	"connectrpc.com/connect"
)

// TailSource answers tail-offset queries.
type TailSource interface {
	GetTailOffsets(ctx context.Context, shards []int32) ([]int64, error)
}

// CoordinatorHandler serves CoordinatorService.
type CoordinatorHandler struct {
	tails TailSource
}

// NewCoordinatorHandler creates a coordinator handler.
func NewCoordinatorHandler(tails TailSource) *CoordinatorHandler {
	return &CoordinatorHandler{tails: tails}
}

// GetTailOffsets returns the per-shard offset applied by every store.
func (h *CoordinatorHandler) GetTailOffsets(
	ctx context.Context,
	req *connect.Request[OffsetsRequest],
) (*connect.Response[OffsetsResponse], error) {
	offsets, err := h.tails.GetTailOffsets(ctx, req.Msg.Shards)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&OffsetsResponse{Offsets: offsets}), nil
}
