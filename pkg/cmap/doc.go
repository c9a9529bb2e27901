// Package cmap provides a sharded concurrent map.
//
// Keys are spread over power-of-two shards, each guarded by its own
// RWMutex, so lookups of unrelated keys do not contend. GraphMesh uses it
// for per-shard apply locks and the per-peer RPC client cache, both of
// which are read far more often than they are written.
//
//	m := cmap.New[int32, *sync.Mutex]()
//	l, _ := m.GetOrCompute(shardID, func() *sync.Mutex { return new(sync.Mutex) })
package cmap
