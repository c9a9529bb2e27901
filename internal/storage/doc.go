// Package storage provides the storage tier of GraphMesh.
//
// Applied graph data lives in an embedded key-value engine chosen by name
// ("badger" or "pebble"). GraphStore maps ApplyRequests onto that engine:
//
//   - Vertices: v\x00<label>\x00<id>
//   - Edges:    e\x00<label>\x00<src>\x00<dst>\x00<id>
//   - Progress: p\x00<shard>, the highest applied WAL offset of a shard
//
// Mutations and the progress key of a request are written in one atomic
// batch, so a redelivered (shard, offset) is detected and skipped.
//
// The per-shard write-ahead log lives in the wal subpackage.
package storage
