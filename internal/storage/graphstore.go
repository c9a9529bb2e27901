package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
	"github.com/yndnr/graphmesh-go/pkg/cmap"
)

// NoAppliedOffset is reported for a shard with nothing applied yet.
const NoAppliedOffset int64 = -1

const keySep = "\x00"

var (
	vertexPrefix   = []byte("v" + keySep)
	edgePrefix     = []byte("e" + keySep)
	progressPrefix = []byte("p" + keySep)
)

// Vertex is a stored vertex.
type Vertex struct {
	Label      string
	ID         string
	Properties map[string]any
}

// Edge is a stored edge.
type Edge struct {
	Label      string
	ID         string
	SrcID      string
	DstID      string
	Properties map[string]any
}

// GraphStore applies WAL entries to a KV engine.
//
// Apply is idempotent per (shard, offset): each shard keeps the highest
// applied offset next to the data, and requests at or below it are
// acknowledged without effect. Requests for one shard are serialized.
type GraphStore struct {
	kv     KVEngine
	logger *slog.Logger

	shards *cmap.Map[int32, *sync.Mutex]
}

// NewGraphStore creates a graph store on kv.
func NewGraphStore(kv KVEngine, logger *slog.Logger) *GraphStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphStore{
		kv:     kv,
		logger: logger,
		shards: cmap.New[int32, *sync.Mutex](),
	}
}

func (s *GraphStore) shardLock(shardID int32) *sync.Mutex {
	l, _ := s.shards.GetOrCompute(shardID, func() *sync.Mutex { return new(sync.Mutex) })
	return l
}

// Apply applies req and reports whether it changed anything.
//
// A duplicate or older offset returns (false, nil). A marker only advances
// the shard's applied offset.
func (s *GraphStore) Apply(ctx context.Context, req domain.ApplyRequest) (bool, error) {
	if req.Offset < 0 {
		return false, domain.ErrInvalidBatch.WithDetailsf("negative offset %d", req.Offset)
	}

	l := s.shardLock(req.ShardID)
	l.Lock()
	defer l.Unlock()

	applied, err := s.AppliedOffset(ctx, req.ShardID)
	if err != nil {
		return false, err
	}
	if req.Offset <= applied {
		s.logger.Debug("skipping duplicate apply",
			"shard_id", req.ShardID,
			"offset", req.Offset,
			"applied", applied)
		return false, nil
	}

	var ops []KVOp
	if !req.Marker {
		ops, err = s.mutations(ctx, req.Ops)
		if err != nil {
			return false, err
		}
	}
	ops = append(ops, KVOp{Key: progressKey(req.ShardID), Value: encodeOffset(req.Offset)})

	if err := s.kv.Write(ctx, ops); err != nil {
		return false, fmt.Errorf("apply shard %d offset %d: %w", req.ShardID, req.Offset, err)
	}
	return true, nil
}

// mutations turns ops into KV writes. Later ops see the effect of earlier
// ops in the same request.
func (s *GraphStore) mutations(ctx context.Context, ops []domain.Operation) ([]KVOp, error) {
	type pendingValue struct {
		props   map[string]any
		deleted bool
	}
	pending := make(map[string]*pendingValue, len(ops))
	order := make([]string, 0, len(ops))

	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		key := string(elementKey(op))
		pv, seen := pending[key]
		if !seen {
			pv = &pendingValue{}
			pending[key] = pv
			order = append(order, key)
		}

		switch op.Kind {
		case domain.OpAddVertex, domain.OpAddEdge:
			pv.props = maps.Clone(op.Properties)
			pv.deleted = false
		case domain.OpUpdateVertex, domain.OpUpdateEdge:
			if !seen {
				current, err := s.loadProps(ctx, []byte(key))
				if err != nil && !errors.Is(err, ErrKeyNotFound) {
					return nil, err
				}
				pv.props = current
			}
			if pv.props == nil {
				pv.props = make(map[string]any, len(op.Properties))
			}
			maps.Copy(pv.props, op.Properties)
			pv.deleted = false
		case domain.OpDeleteVertex, domain.OpDeleteEdge:
			pv.props = nil
			pv.deleted = true
		}
	}

	out := make([]KVOp, 0, len(order)+1)
	for _, key := range order {
		pv := pending[key]
		if pv.deleted {
			out = append(out, KVOp{Key: []byte(key), Delete: true})
			continue
		}
		value, err := msgpack.Marshal(pv.props)
		if err != nil {
			return nil, fmt.Errorf("encode properties: %w", err)
		}
		out = append(out, KVOp{Key: []byte(key), Value: value})
	}
	return out, nil
}

func (s *GraphStore) loadProps(ctx context.Context, key []byte) (map[string]any, error) {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var props map[string]any
	if err := msgpack.Unmarshal(raw, &props); err != nil {
		return nil, fmt.Errorf("decode properties of %q: %w", key, err)
	}
	return props, nil
}

// AppliedOffset returns the highest applied offset of a shard, or
// NoAppliedOffset.
func (s *GraphStore) AppliedOffset(ctx context.Context, shardID int32) (int64, error) {
	raw, err := s.kv.Get(ctx, progressKey(shardID))
	if errors.Is(err, ErrKeyNotFound) {
		return NoAppliedOffset, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("shard %d: malformed progress value (%d bytes)", shardID, len(raw))
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

// AppliedOffsets returns AppliedOffset for each shard, in order.
func (s *GraphStore) AppliedOffsets(ctx context.Context, shardIDs []int32) ([]int64, error) {
	offsets := make([]int64, len(shardIDs))
	for i, id := range shardIDs {
		off, err := s.AppliedOffset(ctx, id)
		if err != nil {
			return nil, err
		}
		offsets[i] = off
	}
	return offsets, nil
}

// GetVertex returns a stored vertex. Returns ErrKeyNotFound if absent.
func (s *GraphStore) GetVertex(ctx context.Context, label, id string) (*Vertex, error) {
	props, err := s.loadProps(ctx, vertexKey(label, id))
	if err != nil {
		return nil, err
	}
	return &Vertex{Label: label, ID: id, Properties: props}, nil
}

// GetEdge returns a stored edge. Returns ErrKeyNotFound if absent.
func (s *GraphStore) GetEdge(ctx context.Context, label, srcID, dstID, id string) (*Edge, error) {
	props, err := s.loadProps(ctx, edgeKey(label, srcID, dstID, id))
	if err != nil {
		return nil, err
	}
	return &Edge{Label: label, ID: id, SrcID: srcID, DstID: dstID, Properties: props}, nil
}

// CountVertices counts stored vertices with the given label, or all
// vertices if label is empty.
func (s *GraphStore) CountVertices(ctx context.Context, label string) (int, error) {
	prefix := vertexPrefix
	if label != "" {
		prefix = append(append([]byte{}, vertexPrefix...), label+keySep...)
	}
	n := 0
	err := s.kv.Scan(ctx, prefix, func(_, _ []byte) bool {
		n++
		return true
	})
	return n, err
}

func elementKey(op domain.Operation) []byte {
	if op.Kind.IsEdge() {
		return edgeKey(op.Label, op.SrcID, op.DstID, op.ID)
	}
	return vertexKey(op.Label, op.ID)
}

func vertexKey(label, id string) []byte {
	return append(append([]byte{}, vertexPrefix...), label+keySep+id...)
}

func edgeKey(label, src, dst, id string) []byte {
	return append(append([]byte{}, edgePrefix...), label+keySep+src+keySep+dst+keySep+id...)
}

func progressKey(shardID int32) []byte {
	return append(append([]byte{}, progressPrefix...), strconv.Itoa(int(shardID))...)
}

func encodeOffset(offset int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(offset))
	return b
}
