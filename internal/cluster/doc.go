// Package cluster provides membership and placement for GraphMesh nodes.
//
//   - discovery.go: gossip membership (memberlist) with role metadata
//   - addressbook.go: node id to RPC address resolution
//   - shardmap.go: key to shard, shard to ingestor, partition to store
//   - strategy.go: named partition assignment strategies
package cluster
