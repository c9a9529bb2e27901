package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
	"github.com/yndnr/graphmesh-go/pkg/crypto/sealer"
)

// fileReader reads a shard's entries across all segments in order.
type fileReader struct {
	dir  string
	seal sealer.Sealer
	from int64

	segments []segmentInfo
	segIndex int

	file   *os.File
	reader *bufio.Reader
	isLast bool
	prev   int64
}

func openReader(dir string, from int64, seal sealer.Sealer) (*fileReader, error) {
	segs, err := listSegments(dir)
	if err != nil {
		return nil, err
	}

	r := &fileReader{
		dir:      dir,
		seal:     seal,
		from:     from,
		segments: segs,
		prev:     -1,
	}

	// Start at the last segment whose base is <= from.
	for i := len(segs) - 1; i > 0; i-- {
		base, err := readSegmentBase(segs[i].path)
		if err != nil {
			if i == len(segs)-1 {
				// The newest segment may still lack a header after a crash.
				continue
			}
			return nil, err
		}
		if base <= from {
			r.segIndex = i
			break
		}
	}
	return r, nil
}

// Next returns the next entry at or after the start offset, or io.EOF.
// A damaged frame in the newest segment is a torn tail and ends the stream;
// damage anywhere else is ErrCorrupted.
func (r *fileReader) Next() (domain.ReplayedEntry, error) {
	for {
		if r.reader == nil {
			if err := r.openNextSegment(); err != nil {
				return domain.ReplayedEntry{}, err
			}
		}

		body, err := readFrame(r.reader)
		if errors.Is(err, io.EOF) {
			r.closeCurrent()
			continue
		}
		var e domain.ReplayedEntry
		if err == nil {
			e, err = decodeFrame(body, r.seal)
		}
		if err != nil {
			if isFrameDamage(err) {
				if r.isLast {
					r.closeCurrent()
					r.segIndex = len(r.segments)
					return domain.ReplayedEntry{}, io.EOF
				}
				return domain.ReplayedEntry{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
			}
			return domain.ReplayedEntry{}, err
		}

		if e.Offset < r.from {
			r.prev = e.Offset
			continue
		}
		if r.prev >= 0 && e.Offset != r.prev+1 {
			return domain.ReplayedEntry{}, fmt.Errorf("%w: offset %d follows %d", ErrCorrupted, e.Offset, r.prev)
		}
		r.prev = e.Offset
		return e, nil
	}
}

func isFrameDamage(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, ErrCorruptedEntry) ||
		errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrInvalidEntryType)
}

func (r *fileReader) openNextSegment() error {
	r.closeCurrent()

	if r.segIndex >= len(r.segments) {
		return io.EOF
	}
	seg := r.segments[r.segIndex]
	r.segIndex++
	r.isLast = r.segIndex == len(r.segments)

	f, err := os.Open(seg.path)
	if err != nil {
		return fmt.Errorf("wal: open segment: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("wal: stat segment: %w", err)
	}
	if stat.Size() < HeaderSize {
		f.Close()
		if r.isLast {
			return io.EOF
		}
		return fmt.Errorf("%w: %s has no header", ErrCorrupted, seg.path)
	}
	if _, err := readHeader(f); err != nil {
		f.Close()
		return fmt.Errorf("%w: %s: %v", ErrCorrupted, seg.path, err)
	}

	_, dataLen, err := verifyChecksumTrailer(f, stat.Size())
	if err != nil {
		f.Close()
		return err
	}

	r.file = f
	r.reader = bufio.NewReader(io.NewSectionReader(f, HeaderSize, dataLen-HeaderSize))
	return nil
}

func (r *fileReader) closeCurrent() error {
	r.reader = nil
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// Close closes any open segment file.
func (r *fileReader) Close() error {
	return r.closeCurrent()
}

// ReadAll drains r. Intended for tests and tooling.
func ReadAll(r Reader) ([]domain.ReplayedEntry, error) {
	var out []domain.ReplayedEntry
	for {
		e, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, e)
	}
}
