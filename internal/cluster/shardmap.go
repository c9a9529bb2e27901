package cluster

import (
	"fmt"
	"slices"
	"sort"

	"github.com/spaolacci/murmur3"
)

// DefaultShardCount is the default number of write shards.
const DefaultShardCount = 16

// ShardMapConfig describes the static placement of a cluster.
type ShardMapConfig struct {
	// LocalNode is the id of this node.
	LocalNode string

	// ShardCount is the number of write shards.
	ShardCount int

	// Ingestors lists ingestor node ids; shard s is owned by
	// Ingestors[s % len(Ingestors)].
	Ingestors []string

	// Shards, when set, overrides the shards owned by the local node.
	Shards []int32

	// Stores lists every expected store node id.
	Stores []string

	// Strategy names the partition strategy ("hash", "modulo").
	Strategy string

	// VirtualNodes is the ring size per store for the hash strategy.
	VirtualNodes int
}

// ShardMap maps keys to shards, shards to ingestors and graph partitions
// to stores. It is immutable after construction.
type ShardMap struct {
	local      string
	shardCount int
	ingestors  []string
	owned      []int32
	stores     []string
	strategy   PartitionStrategy
}

// NewShardMap builds a shard map.
func NewShardMap(cfg ShardMapConfig) (*ShardMap, error) {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = DefaultShardCount
	}
	stores := slices.Clone(cfg.Stores)
	sort.Strings(stores)
	stores = slices.Compact(stores)

	strategy, err := NewStrategy(cfg.Strategy, stores, cfg.VirtualNodes)
	if err != nil {
		return nil, err
	}

	m := &ShardMap{
		local:      cfg.LocalNode,
		shardCount: cfg.ShardCount,
		ingestors:  slices.Clone(cfg.Ingestors),
		stores:     stores,
		strategy:   strategy,
	}

	if len(cfg.Shards) > 0 {
		for _, s := range cfg.Shards {
			if s < 0 || int(s) >= cfg.ShardCount {
				return nil, fmt.Errorf("cluster: shard %d out of range [0, %d)", s, cfg.ShardCount)
			}
		}
		m.owned = slices.Clone(cfg.Shards)
		slices.Sort(m.owned)
		m.owned = slices.Compact(m.owned)
	} else {
		m.owned = m.ShardsOf(cfg.LocalNode)
	}
	return m, nil
}

// ShardCount returns the number of write shards.
func (m *ShardMap) ShardCount() int {
	return m.shardCount
}

// ShardForKey returns the shard of a key using MurmurHash3.
func (m *ShardMap) ShardForKey(key string) int32 {
	return int32(murmur3.Sum32([]byte(key)) % uint32(m.shardCount))
}

// IngestorForShard returns the ingestor owning a shard.
func (m *ShardMap) IngestorForShard(shardID int32) (string, bool) {
	if len(m.ingestors) == 0 || shardID < 0 || int(shardID) >= m.shardCount {
		return "", false
	}
	return m.ingestors[int(shardID)%len(m.ingestors)], true
}

// ShardsOf returns the shards owned by an ingestor.
func (m *ShardMap) ShardsOf(nodeID string) []int32 {
	var shards []int32
	for s := 0; s < m.shardCount; s++ {
		if owner, ok := m.IngestorForShard(int32(s)); ok && owner == nodeID {
			shards = append(shards, int32(s))
		}
	}
	return shards
}

// OwnedShards returns the shards written by the local node.
func (m *ShardMap) OwnedShards() []int32 {
	return slices.Clone(m.owned)
}

// AllShards returns every shard id.
func (m *ShardMap) AllShards() []int32 {
	shards := make([]int32, m.shardCount)
	for i := range shards {
		shards[i] = int32(i)
	}
	return shards
}

// Ingestors returns the configured ingestor ids.
func (m *ShardMap) Ingestors() []string {
	return slices.Clone(m.ingestors)
}

// StoreIDs returns every expected store, sorted.
func (m *ShardMap) StoreIDs() []string {
	return slices.Clone(m.stores)
}

// StoreForPartition returns the store owning a graph partition.
func (m *ShardMap) StoreForPartition(partitionID int32) (string, error) {
	return m.strategy.Assign(partitionID)
}

// Strategy returns the partition strategy in use.
func (m *ShardMap) Strategy() PartitionStrategy {
	return m.strategy
}
