package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
	"github.com/yndnr/graphmesh-go/pkg/crypto/sealer"
)

// Frame layout constants.
const (
	lengthSize = 4
	crcSize    = 4
	typeSize   = 1
	offsetSize = 8

	// frameOverhead is everything in a frame except the payload.
	frameOverhead = lengthSize + crcSize + typeSize + offsetSize

	// minFrameLength is the smallest valid Length field: crc + type + offset.
	minFrameLength = crcSize + typeSize + offsetSize

	// MaxFrameLength bounds a single frame.
	MaxFrameLength = 64 << 20
)

type wirePayload struct {
	Snapshot    int64              `msgpack:"s"`
	MinSnapshot int64              `msgpack:"m"`
	Ops         []domain.Operation `msgpack:"o,omitempty"`
	Sealed      []byte             `msgpack:"x,omitempty"`
}

func encodeFrame(offset int64, entry domain.LogEntry, seal sealer.Sealer) ([]byte, error) {
	if !entry.Batch.Valid() {
		return nil, fmt.Errorf("wal: entry batch is not valid")
	}
	if entry.SnapshotID < 0 {
		return nil, fmt.Errorf("wal: entry snapshot %d is negative", entry.SnapshotID)
	}

	typ := EntryTypeData
	if entry.Batch.IsMarker() {
		typ = EntryTypeMarker
	}

	p := wirePayload{
		Snapshot:    entry.SnapshotID,
		MinSnapshot: entry.Batch.MinSnapshot(),
	}
	if typ == EntryTypeData {
		ops := entry.Batch.Operations()
		if seal == nil {
			p.Ops = ops
		} else {
			plain, err := msgpack.Marshal(ops)
			if err != nil {
				return nil, fmt.Errorf("wal: marshal ops: %w", err)
			}
			sealed, err := seal.Seal(plain, offsetAAD(offset))
			if err != nil {
				return nil, fmt.Errorf("wal: seal ops: %w", err)
			}
			p.Sealed = sealed
		}
	}

	payload, err := msgpack.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("wal: marshal payload: %w", err)
	}

	length := minFrameLength + len(payload)
	if length > MaxFrameLength {
		return nil, fmt.Errorf("wal: frame of %d bytes exceeds limit", length)
	}

	out := make([]byte, lengthSize+length)
	binary.BigEndian.PutUint32(out[0:4], uint32(length))
	out[8] = byte(typ)
	binary.BigEndian.PutUint64(out[9:17], uint64(offset))
	copy(out[17:], payload)
	binary.BigEndian.PutUint32(out[4:8], crc32Of(out[8:]))
	return out, nil
}

// decodeFrame decodes a frame body: [crc:4][type:1][offset:8][payload].
func decodeFrame(body []byte, seal sealer.Sealer) (domain.ReplayedEntry, error) {
	if len(body) < minFrameLength {
		return domain.ReplayedEntry{}, ErrCorruptedEntry
	}

	wantCRC := binary.BigEndian.Uint32(body[:4])
	if crc32Of(body[4:]) != wantCRC {
		return domain.ReplayedEntry{}, ErrChecksumMismatch
	}

	typ := EntryType(body[4])
	if typ != EntryTypeData && typ != EntryTypeMarker {
		return domain.ReplayedEntry{}, ErrInvalidEntryType
	}
	offset := int64(binary.BigEndian.Uint64(body[5:13]))

	var p wirePayload
	if err := msgpack.Unmarshal(body[13:], &p); err != nil {
		return domain.ReplayedEntry{}, fmt.Errorf("wal: unmarshal payload: %w", err)
	}

	if typ == EntryTypeMarker {
		return domain.ReplayedEntry{
			Offset: offset,
			Entry:  domain.LogEntry{SnapshotID: p.Snapshot, Batch: domain.MarkerBatch()},
		}, nil
	}

	ops := p.Ops
	if p.Sealed != nil {
		if seal == nil {
			return domain.ReplayedEntry{}, fmt.Errorf("wal: sealed entry at offset %d requires a key", offset)
		}
		plain, err := seal.Open(p.Sealed, offsetAAD(offset))
		if err != nil {
			return domain.ReplayedEntry{}, fmt.Errorf("wal: open entry at offset %d: %w", offset, err)
		}
		if err := msgpack.Unmarshal(plain, &ops); err != nil {
			return domain.ReplayedEntry{}, fmt.Errorf("wal: unmarshal ops: %w", err)
		}
	}
	if len(ops) == 0 {
		return domain.ReplayedEntry{}, ErrCorruptedEntry
	}

	return domain.ReplayedEntry{
		Offset: offset,
		Entry: domain.LogEntry{
			SnapshotID: p.Snapshot,
			Batch:      domain.RestoreBatch(ops, p.MinSnapshot, false),
		},
	}, nil
}

func crc32Of(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// offsetAAD binds a sealed payload to its position so frames cannot be swapped.
func offsetAAD(offset int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(offset))
	return b[:]
}
