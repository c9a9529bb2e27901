// Package domain defines the core domain models for GraphMesh.
//
// Domain models are pure values without IO dependencies:
//
//   - Operation: one vertex or edge mutation
//   - OperationBatch: an immutable, non-empty group of operations, or a
//     content-free marker used as a snapshot barrier token
//   - LogEntry / ReplayedEntry: what a shard WAL stores and yields on replay
//   - ApplyRequest: what the storage tier receives for one WAL entry
//   - Errors: coded domain errors shared by every layer
package domain
