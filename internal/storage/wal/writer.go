package wal

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
	"github.com/yndnr/graphmesh-go/pkg/crypto/sealer"
)

// fileWriter appends to the newest segment of one shard directory.
type fileWriter struct {
	cfg     Config
	shardID int32
	dir     string
	seal    sealer.Sealer
	logger  *slog.Logger
	release func()

	mu sync.Mutex

	segmentID      uint64
	file           *os.File
	fileSize       int64 // bytes written excluding trailing checksum
	segmentEntries int
	lastOffset     int64
	closed         bool
	broken         error
}

func openWriter(cfg Config, shardID int32, dir string, logger *slog.Logger, release func()) (*fileWriter, error) {
	if err := os.MkdirAll(dir, DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}

	w := &fileWriter{
		cfg:        cfg,
		shardID:    shardID,
		dir:        dir,
		seal:       cfg.Sealer,
		logger:     logger,
		release:    release,
		lastOffset: -1,
	}
	if err := w.recover(); err != nil {
		if w.file != nil {
			w.file.Close()
		}
		return nil, err
	}
	return w, nil
}

// recover positions the writer after the last intact entry of the shard.
func (w *fileWriter) recover() error {
	for {
		segs, err := listSegments(w.dir)
		if err != nil {
			return err
		}
		if len(segs) == 0 {
			w.segmentID = 1
			return w.openNewSegment(0)
		}

		last := segs[len(segs)-1]
		file, err := os.OpenFile(last.path, os.O_RDWR, DefaultFilePerm)
		if err != nil {
			return fmt.Errorf("wal: open segment: %w", err)
		}
		stat, err := file.Stat()
		if err != nil {
			file.Close()
			return fmt.Errorf("wal: stat segment: %w", err)
		}

		// A crash while creating a segment can leave it without a full header.
		if stat.Size() < HeaderSize {
			file.Close()
			w.logger.Warn("wal: removing incomplete segment", "shard_id", w.shardID, "path", last.path)
			if err := os.Remove(last.path); err != nil {
				return fmt.Errorf("wal: remove incomplete segment: %w", err)
			}
			continue
		}

		base, err := readHeader(file)
		if err != nil {
			file.Close()
			return err
		}
		closed, dataLen, err := verifyChecksumTrailer(file, stat.Size())
		if err != nil {
			file.Close()
			return err
		}
		scan, err := scanSegment(file, base, dataLen)
		if err != nil {
			file.Close()
			return err
		}

		w.segmentID = last.id
		if scan.entries > 0 {
			w.lastOffset = scan.lastOffset
		} else {
			w.lastOffset = base - 1
		}

		if closed && scan.validEnd != dataLen {
			file.Close()
			return fmt.Errorf("%w: finalized segment %s has damaged frames", ErrCorrupted, last.path)
		}
		if closed && w.segmentFull(scan.entries, dataLen) {
			file.Close()
			w.segmentID++
			return w.openNewSegment(w.lastOffset + 1)
		}

		if scan.validEnd < stat.Size() {
			if !closed {
				w.logger.Warn("wal: truncating torn tail",
					"shard_id", w.shardID,
					"path", last.path,
					"valid_bytes", scan.validEnd,
					"file_bytes", stat.Size(),
				)
			}
			// Also strips the trailer of a finalized segment so it can be reused.
			if err := file.Truncate(scan.validEnd); err != nil {
				file.Close()
				return fmt.Errorf("wal: truncate segment: %w", err)
			}
			if err := file.Sync(); err != nil {
				file.Close()
				return fmt.Errorf("wal: sync: %w", err)
			}
		}
		if _, err := file.Seek(scan.validEnd, io.SeekStart); err != nil {
			file.Close()
			return fmt.Errorf("wal: seek: %w", err)
		}

		w.file = file
		w.fileSize = scan.validEnd
		w.segmentEntries = scan.entries
		return nil
	}
}

func (w *fileWriter) segmentFull(entries int, size int64) bool {
	return entries >= w.cfg.MaxEntryCount || size >= w.cfg.MaxFileSize
}

func (w *fileWriter) openNewSegment(baseOffset int64) error {
	path := filepath.Join(w.dir, formatSegmentFilename(w.segmentID))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("wal: open segment: %w", err)
	}

	header := encodeHeader(baseOffset)
	if _, err := file.Write(header); err != nil {
		file.Close()
		return fmt.Errorf("wal: write header: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("wal: sync: %w", err)
	}
	if err := syncDir(w.dir); err != nil {
		file.Close()
		return fmt.Errorf("wal: sync dir: %w", err)
	}

	w.file = file
	w.fileSize = int64(len(header))
	w.segmentEntries = 0
	return nil
}

// Append writes entry at the next offset. On any write or sync failure the
// segment is truncated back so no partial frame survives.
func (w *fileWriter) Append(ctx context.Context, entry domain.LogEntry) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return Position{}, ErrClosed
	}
	if w.broken != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrClosed, w.broken)
	}

	offset := w.lastOffset + 1
	frame, err := encodeFrame(offset, entry, w.seal)
	if err != nil {
		return Position{}, err
	}

	if w.segmentEntries > 0 && (w.fileSize+int64(len(frame)) > w.cfg.MaxFileSize || w.segmentEntries >= w.cfg.MaxEntryCount) {
		if err := w.rotateLocked(offset); err != nil {
			w.broken = err
			return Position{}, err
		}
	}

	prev := w.fileSize
	n, err := w.file.Write(frame)
	if err == nil && n < len(frame) {
		err = io.ErrShortWrite
	}
	if err == nil && w.cfg.SyncMode == SyncModeSync {
		err = w.file.Sync()
	}
	if err != nil {
		if rerr := w.rollbackLocked(prev); rerr != nil {
			w.broken = rerr
			return Position{}, fmt.Errorf("wal: append offset %d: %w (rollback: %v)", offset, err, rerr)
		}
		return Position{}, fmt.Errorf("wal: append offset %d: %w", offset, err)
	}

	w.fileSize += int64(n)
	w.segmentEntries++
	w.lastOffset = offset
	return Position{Offset: offset, Size: n}, nil
}

func (w *fileWriter) rollbackLocked(size int64) error {
	if err := w.file.Truncate(size); err != nil {
		return err
	}
	if _, err := w.file.Seek(size, io.SeekStart); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *fileWriter) rotateLocked(nextBase int64) error {
	if err := w.finalizeLocked(); err != nil {
		return err
	}
	w.segmentID++
	return w.openNewSegment(nextBase)
}

// finalizeLocked writes the SHA-256 trailer and closes the segment file.
func (w *fileWriter) finalizeLocked() error {
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(w.file, 0, w.fileSize)); err != nil {
		return fmt.Errorf("wal: hash segment: %w", err)
	}
	if _, err := w.file.Write(h.Sum(nil)); err != nil {
		return fmt.Errorf("wal: write checksum: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal: close: %w", err)
	}
	w.file = nil
	return nil
}

// LastOffset returns the offset of the last durable entry, or -1.
func (w *fileWriter) LastOffset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastOffset
}

// Close finalizes the current segment and releases the shard.
func (w *fileWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true

	var err error
	if w.file != nil {
		if w.broken != nil {
			err = w.file.Close()
		} else {
			err = w.finalizeLocked()
		}
		w.file = nil
	}
	w.mu.Unlock()

	if w.release != nil {
		w.release()
	}
	return err
}
