package domain

// LogEntry is the unit written to a shard's WAL: a batch stamped with the
// snapshot id that was current when it was accepted.
type LogEntry struct {
	SnapshotID int64
	Batch      OperationBatch
}

// ReplayedEntry is a LogEntry read back from a WAL together with its offset.
// Offsets are strictly increasing and unique per shard.
type ReplayedEntry struct {
	Offset int64
	Entry  LogEntry
}

// ApplyRequest is what the storage tier receives for one WAL entry.
//
// (ShardID, Offset) is the idempotency key. Ops holds only the operations
// routed to the receiving store and may be empty.
type ApplyRequest struct {
	ShardID    int32       `json:"shard_id"`
	SnapshotID int64       `json:"snapshot_id"`
	Offset     int64       `json:"offset"`
	Marker     bool        `json:"marker,omitempty"`
	Ops        []Operation `json:"ops,omitempty"`
}
