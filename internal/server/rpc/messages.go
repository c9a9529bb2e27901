package rpc

import "github.com/yndnr/graphmesh-go/internal/core/domain"

// Procedure names.
const (
	IngestServiceName      = "graphmesh.v1.IngestService"
	StoreServiceName       = "graphmesh.v1.StoreService"
	CoordinatorServiceName = "graphmesh.v1.CoordinatorService"

	SubmitWriteProcedure       = "/" + IngestServiceName + "/SubmitWrite"
	AdvanceSnapshotProcedure   = "/" + IngestServiceName + "/AdvanceSnapshot"
	ApplyBatchProcedure        = "/" + StoreServiceName + "/ApplyBatch"
	GetAppliedOffsetsProcedure = "/" + StoreServiceName + "/GetAppliedOffsets"
	GetTailOffsetsProcedure    = "/" + CoordinatorServiceName + "/GetTailOffsets"
)

// SubmitWriteRequest submits one batch. When ShardID is nil the shard is
// derived from Key.
type SubmitWriteRequest struct {
	RequestID   string             `json:"request_id,omitempty"`
	ShardID     *int32             `json:"shard_id,omitempty"`
	Key         string             `json:"key,omitempty"`
	MinSnapshot *int64             `json:"min_snapshot,omitempty"`
	Ops         []domain.Operation `json:"ops"`
}

// SubmitWriteResponse reports the snapshot id the batch was stamped with.
type SubmitWriteResponse struct {
	RequestID  string `json:"request_id"`
	ShardID    int32  `json:"shard_id"`
	SnapshotID int64  `json:"snapshot_id"`
}

// AdvanceSnapshotRequest moves an ingestor to a new snapshot id.
type AdvanceSnapshotRequest struct {
	SnapshotID int64 `json:"snapshot_id"`
}

// AdvanceSnapshotResponse carries the value the counter held before.
type AdvanceSnapshotResponse struct {
	Previous int64 `json:"previous"`
}

// ApplyBatchResponse reports whether the entry changed the store.
type ApplyBatchResponse struct {
	Applied bool `json:"applied"`
}

// OffsetsRequest names the shards of an offsets query.
type OffsetsRequest struct {
	Shards []int32 `json:"shards"`
}

// OffsetsResponse holds one offset per requested shard, -1 for none.
type OffsetsResponse struct {
	Offsets []int64 `json:"offsets"`
}
