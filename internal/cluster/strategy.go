package cluster

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
)

// Strategy names.
const (
	StrategyHash   = "hash"
	StrategyModulo = "modulo"
)

// DefaultVirtualNodeCount is the number of ring points per store for the
// hash strategy.
const DefaultVirtualNodeCount = 256

// PartitionStrategy assigns graph partitions to stores.
type PartitionStrategy interface {
	// Name returns the registered name.
	Name() string

	// Assign returns the store owning a partition.
	Assign(partitionID int32) (string, error)
}

// StrategyFactory builds a strategy over a fixed store list.
type StrategyFactory func(stores []string, virtualNodes int) PartitionStrategy

var (
	strategiesMu sync.RWMutex
	strategies   = map[string]StrategyFactory{
		StrategyHash:   newHashStrategy,
		StrategyModulo: newModuloStrategy,
	}
)

// RegisterStrategy makes a strategy selectable by name. It panics if the
// name is registered twice.
func RegisterStrategy(name string, factory StrategyFactory) {
	strategiesMu.Lock()
	defer strategiesMu.Unlock()
	if _, dup := strategies[name]; dup {
		panic("cluster: strategy registered twice: " + name)
	}
	strategies[name] = factory
}

// StrategyNames returns the registered strategy names, sorted.
func StrategyNames() []string {
	strategiesMu.RLock()
	defer strategiesMu.RUnlock()
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewStrategy builds the strategy registered under name.
func NewStrategy(name string, stores []string, virtualNodes int) (PartitionStrategy, error) {
	if name == "" {
		name = StrategyHash
	}
	strategiesMu.RLock()
	factory, ok := strategies[name]
	strategiesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("cluster: unknown partition strategy %q (registered: %v)", name, StrategyNames())
	}
	return factory(stores, virtualNodes), nil
}

// moduloStrategy assigns partition p to stores[p % n].
type moduloStrategy struct {
	stores []string
}

func newModuloStrategy(stores []string, _ int) PartitionStrategy {
	return &moduloStrategy{stores: append([]string(nil), stores...)}
}

func (s *moduloStrategy) Name() string { return StrategyModulo }

func (s *moduloStrategy) Assign(partitionID int32) (string, error) {
	if len(s.stores) == 0 || partitionID < 0 {
		return "", domain.ErrUnknownPartition.WithDetailsf("partition %d", partitionID)
	}
	return s.stores[int(partitionID)%len(s.stores)], nil
}

// hashStrategy places stores on a consistent hash ring with virtual nodes.
type hashStrategy struct {
	ring   map[uint64]string
	hashes []uint64
}

func newHashStrategy(stores []string, virtualNodes int) PartitionStrategy {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodeCount
	}
	s := &hashStrategy{ring: make(map[uint64]string, len(stores)*virtualNodes)}
	for _, id := range stores {
		for i := 0; i < virtualNodes; i++ {
			s.ring[hashVirtualNode(id, i)] = id
		}
	}
	s.hashes = make([]uint64, 0, len(s.ring))
	for h := range s.ring {
		s.hashes = append(s.hashes, h)
	}
	sort.Slice(s.hashes, func(i, j int) bool { return s.hashes[i] < s.hashes[j] })
	return s
}

func (s *hashStrategy) Name() string { return StrategyHash }

func (s *hashStrategy) Assign(partitionID int32) (string, error) {
	if len(s.hashes) == 0 || partitionID < 0 {
		return "", domain.ErrUnknownPartition.WithDetailsf("partition %d", partitionID)
	}

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(partitionID))
	h := murmur3.Sum64(buf[:])

	// First ring point >= h, wrapping around.
	idx := sort.Search(len(s.hashes), func(i int) bool { return s.hashes[i] >= h })
	if idx == len(s.hashes) {
		idx = 0
	}
	return s.ring[s.hashes[idx]], nil
}

// hashVirtualNode computes the ring position of a virtual node using MurmurHash3.
func hashVirtualNode(nodeID string, virtualIndex int) uint64 {
	h := murmur3.New64()
	h.Write([]byte(nodeID))

	var indexBytes [4]byte
	binary.BigEndian.PutUint32(indexBytes[:], uint32(virtualIndex))
	h.Write(indexBytes[:])

	return h.Sum64()
}
