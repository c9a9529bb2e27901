package wal

import (
	"errors"
	"fmt"
	"os"
)

// Compacter is implemented by logs that can drop entries already applied
// everywhere.
type Compacter interface {
	// Compact removes whole segments whose entries all have offsets <= upTo.
	// The newest segment is always kept. It returns the number of segments removed.
	Compact(shardID int32, upTo int64) (int, error)
}

var _ Compacter = (*FileLog)(nil)

// Compact removes segments fully covered by upTo.
func (l *FileLog) Compact(shardID int32, upTo int64) (int, error) {
	if upTo < 0 {
		return 0, nil
	}

	segs, err := listSegments(l.ShardDir(shardID))
	if err != nil {
		return 0, err
	}
	if len(segs) < 2 {
		return 0, nil
	}

	// Segment i covers [base(i), base(i+1)-1].
	var toDelete []string
	for i := 0; i < len(segs)-1; i++ {
		nextBase, err := readSegmentBase(segs[i+1].path)
		if err != nil {
			break
		}
		if nextBase-1 > upTo {
			break
		}
		toDelete = append(toDelete, segs[i].path)
	}

	var errs []error
	removed := 0
	for _, path := range toDelete {
		if err := os.Remove(path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			break
		}
		removed++
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("wal: compact shard %d: %w", shardID, errors.Join(errs...))
	}
	return removed, nil
}

// ShardStats describes the on-disk footprint of one shard.
type ShardStats struct {
	Segments   int
	TotalBytes int64
}

// Stats returns the segment count and total size of a shard.
func (l *FileLog) Stats(shardID int32) (ShardStats, error) {
	segs, err := listSegments(l.ShardDir(shardID))
	if err != nil {
		return ShardStats{}, err
	}

	var st ShardStats
	for _, s := range segs {
		info, err := os.Stat(s.path)
		if err != nil {
			continue
		}
		st.Segments++
		st.TotalBytes += info.Size()
	}
	return st, nil
}
