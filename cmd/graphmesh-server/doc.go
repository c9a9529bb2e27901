// Package main provides the entry point for graphmesh-server.
//
// One binary runs every GraphMesh role; node.role selects which:
//
//   - ingestor: accepts writes, appends them to per-shard WALs and
//     delivers them to the storage tier
//   - store: applies delivered batches to a badger or pebble graph store
//   - coordinator: advances the cluster snapshot id through raft and
//     reports tail offsets to restarting ingestors
//
// Usage:
//
//	graphmesh-server --config /etc/graphmesh/graphmesh.yaml
//	graphmesh-server --role store --node-id st-1 --data-dir /var/lib/graphmesh
//	graphmesh-server check-config --config graphmesh.yaml
//	graphmesh-server version
package main
