package wal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/yndnr/graphmesh-go/pkg/crypto/sealer"
)

// Default configuration values.
const (
	DefaultMaxFileSize   int64 = 64 << 20 // 64MB
	DefaultMaxEntryCount       = 100000
)

// SyncMode defines how appends reach disk.
type SyncMode string

const (
	// SyncModeSync fsyncs every append before it is acknowledged.
	SyncModeSync SyncMode = "sync"

	// SyncModeNone leaves flushing to the OS. Only for tests and benchmarks.
	SyncModeNone SyncMode = "none"
)

// Config configures a FileLog.
type Config struct {
	Dir string

	SyncMode SyncMode

	MaxFileSize   int64
	MaxEntryCount int

	// Sealer encrypts operation payloads when set.
	Sealer sealer.Sealer

	Logger *slog.Logger
}

// DefaultConfig returns the default WAL configuration.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:           dir,
		SyncMode:      SyncModeSync,
		MaxFileSize:   DefaultMaxFileSize,
		MaxEntryCount: DefaultMaxEntryCount,
	}
}

func applyDefaults(cfg *Config) {
	if cfg.SyncMode == "" {
		cfg.SyncMode = SyncModeSync
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.MaxEntryCount == 0 {
		cfg.MaxEntryCount = DefaultMaxEntryCount
	}
}

// FileLog stores each shard in its own directory of segment files.
type FileLog struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	writers map[int32]*fileWriter
	closed  bool
}

var _ Log = (*FileLog)(nil)

// Open opens or creates a FileLog rooted at cfg.Dir.
func Open(cfg Config) (*FileLog, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("wal: dir is required")
	}
	if cfg.SyncMode != "" && cfg.SyncMode != SyncModeSync && cfg.SyncMode != SyncModeNone {
		return nil, fmt.Errorf("wal: unknown sync mode %q", cfg.SyncMode)
	}
	if err := os.MkdirAll(cfg.Dir, DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}
	applyDefaults(&cfg)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &FileLog{
		cfg:     cfg,
		logger:  logger,
		writers: make(map[int32]*fileWriter),
	}, nil
}

// ShardDir returns the directory holding a shard's segments.
func (l *FileLog) ShardDir(shardID int32) string {
	return filepath.Join(l.cfg.Dir, fmt.Sprintf("shard-%04d", shardID))
}

// OpenWriter opens the shard's writer. Only one writer per shard may be
// open at a time; a second call fails with ErrWriterBusy until the first
// writer is closed.
func (l *FileLog) OpenWriter(ctx context.Context, shardID int32) (Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	if _, busy := l.writers[shardID]; busy {
		return nil, ErrWriterBusy
	}

	w, err := openWriter(l.cfg, shardID, l.ShardDir(shardID), l.logger, func() { l.release(shardID) })
	if err != nil {
		return nil, err
	}
	l.writers[shardID] = w
	return w, nil
}

func (l *FileLog) release(shardID int32) {
	l.mu.Lock()
	delete(l.writers, shardID)
	l.mu.Unlock()
}

// OpenReader opens a reader positioned at the first entry with offset >= from.
func (l *FileLog) OpenReader(ctx context.Context, shardID int32, from int64) (Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	return openReader(l.ShardDir(shardID), from, l.cfg.Sealer)
}

// Close closes every open writer.
func (l *FileLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	writers := make([]*fileWriter, 0, len(l.writers))
	for _, w := range l.writers {
		writers = append(writers, w)
	}
	l.mu.Unlock()

	var firstErr error
	for _, w := range writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
