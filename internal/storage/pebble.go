package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
)

// EnginePebble is the registered name of the Pebble engine.
const EnginePebble = "pebble"

func init() {
	RegisterEngine(EnginePebble, func(cfg KVConfig, logger *slog.Logger) (KVEngine, error) {
		return NewPebbleEngine(cfg, logger)
	})
}

// PebbleEngine implements KVEngine using CockroachDB Pebble.
type PebbleEngine struct {
	db     *pebble.DB
	cache  *pebble.Cache
	cfg    KVConfig
	logger *slog.Logger
	wo     *pebble.WriteOptions

	lastGCTime atomic.Int64

	closeOnce sync.Once
	closed    atomic.Bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewPebbleEngine opens a Pebble database in cfg.Dir.
func NewPebbleEngine(cfg KVConfig, logger *slog.Logger) (*PebbleEngine, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("pebble: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cacheSize := cfg.Pebble.CacheSize
	if cacheSize <= 0 {
		cacheSize = 64 << 20
	}
	cache := pebble.NewCache(cacheSize)

	opts := &pebble.Options{
		Cache:  cache,
		Logger: &pebbleLogger{logger: logger},
	}
	if cfg.Pebble.MemTableSize > 0 {
		opts.MemTableSize = cfg.Pebble.MemTableSize
	}

	db, err := pebble.Open(cfg.Dir, opts)
	if err != nil {
		cache.Unref()
		return nil, fmt.Errorf("pebble: open db: %w", err)
	}

	wo := pebble.NoSync
	if cfg.SyncWrites {
		wo = pebble.Sync
	}

	engine := &PebbleEngine{
		db:     db,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
		wo:     wo,
		stopCh: make(chan struct{}),
	}

	engine.wg.Add(1)
	go engine.compactLoop()

	logger.Info("pebble engine started", "dir", cfg.Dir, "cache_size", cacheSize)
	return engine, nil
}

// Get retrieves a value by key.
func (e *PebbleEngine) Get(ctx context.Context, key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	v, closer, err := e.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return bytes.Clone(v), nil
}

// Set stores a key-value pair.
func (e *PebbleEngine) Set(ctx context.Context, key, value []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.db.Set(key, value, e.wo)
}

// Delete removes a key.
func (e *PebbleEngine) Delete(ctx context.Context, key []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.db.Delete(key, e.wo)
}

// Write commits ops as one Pebble batch.
func (e *PebbleEngine) Write(ctx context.Context, ops []KVOp) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b := e.db.NewBatch()
	defer b.Close()
	for _, op := range ops {
		var err error
		if op.Delete {
			err = b.Delete(op.Key, nil)
		} else {
			err = b.Set(op.Key, op.Value, nil)
		}
		if err != nil {
			return fmt.Errorf("pebble: batch %q: %w", op.Key, err)
		}
	}
	return b.Commit(e.wo)
}

// Scan iterates over keys with a given prefix.
func (e *PebbleEngine) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	if e.closed.Load() {
		return ErrClosed
	}

	iter, err := e.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(bytes.Clone(iter.Key()), bytes.Clone(iter.Value())) {
			break
		}
	}
	return iter.Error()
}

// GC compacts the whole key space so deleted keys are dropped.
func (e *PebbleEngine) GC(ctx context.Context) (uint64, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}

	before := e.db.Metrics().DiskSpaceUsage()
	if err := e.db.Compact([]byte{0x00}, bytes.Repeat([]byte{0xff}, 16), true); err != nil {
		return 0, fmt.Errorf("pebble: compact: %w", err)
	}
	after := e.db.Metrics().DiskSpaceUsage()
	e.lastGCTime.Store(time.Now().UnixMilli())

	if after >= before {
		return 0, nil
	}
	return before - after, nil
}

// Stats returns storage statistics.
func (e *PebbleEngine) Stats(ctx context.Context) (*KVStats, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	m := e.db.Metrics()
	return &KVStats{
		Engine:     EnginePebble,
		TotalSize:  m.DiskSpaceUsage(),
		LSMSize:    uint64(m.Total().Size),
		LastGCTime: e.lastGCTime.Load(),
	}, nil
}

// Close flushes and closes the database.
func (e *PebbleEngine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.stopCh)
		e.wg.Wait()

		if cerr := e.db.Close(); cerr != nil {
			err = fmt.Errorf("close db: %w", cerr)
		}
		e.cache.Unref()
		e.logger.Info("pebble engine shutdown complete")
	})
	return err
}

func (e *PebbleEngine) compactLoop() {
	defer e.wg.Done()

	interval, err := time.ParseDuration(e.cfg.GCInterval)
	if err != nil || interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := e.GC(context.Background()); err != nil {
				e.logger.Error("auto compaction failed", "error", err)
			}
		case <-e.stopCh:
			return
		}
	}
}

// prefixUpperBound returns the smallest key greater than every key with prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// pebbleLogger adapts slog.Logger to Pebble's Logger interface.
type pebbleLogger struct {
	logger *slog.Logger
}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "pebble")
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "pebble")
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, args...))
	l.logger.Error(msg, "component", "pebble", "fatal", true)
	panic("pebble: " + msg)
}
