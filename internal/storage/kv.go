package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Common errors
var (
	ErrKeyNotFound   = errors.New("key not found")
	ErrClosed        = errors.New("kv engine closed")
	ErrUnknownEngine = errors.New("unknown kv engine")
)

// KVEngine defines the interface for embedded key-value storage.
//
// Implementation requirements:
// - Thread-safe: concurrent reads/writes must be safe
// - Write applies a batch atomically: all mutations or none
type KVEngine interface {
	// Get retrieves a value by key.
	// Returns ErrKeyNotFound if key doesn't exist.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Set stores a key-value pair.
	Set(ctx context.Context, key, value []byte) error

	// Delete removes a key.
	Delete(ctx context.Context, key []byte) error

	// Write applies the mutations atomically.
	Write(ctx context.Context, ops []KVOp) error

	// Scan iterates over keys with a given prefix in key order.
	// Callback returns false to stop iteration.
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error

	// GC triggers garbage collection (for LSM-based engines).
	// Returns bytes reclaimed (approximate).
	GC(ctx context.Context) (uint64, error)

	// Stats returns storage statistics (size, keys count, etc.).
	Stats(ctx context.Context) (*KVStats, error)

	// Close gracefully shuts down the KV engine.
	Close() error
}

// KVOp is one mutation in a Write batch.
type KVOp struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// KVStats contains storage engine statistics.
type KVStats struct {
	// Engine is the registered engine name.
	Engine string

	// TotalSize is the total disk usage in bytes.
	TotalSize uint64

	// LSMSize is the LSM tree size.
	LSMSize uint64

	// ValueLogSize is the value log size (Badger only).
	ValueLogSize uint64

	// LastGCTime is the last GC run timestamp (Unix milliseconds).
	LastGCTime int64

	// GCBytesReclaimed is the total bytes reclaimed by GC.
	GCBytesReclaimed uint64
}

// KVConfig configures an embedded KV engine.
type KVConfig struct {
	// Engine names a registered engine ("badger", "pebble").
	// Default: "badger"
	Engine string

	// Dir is the storage directory.
	Dir string

	// GCInterval is the interval between automatic GC runs.
	// Default: 10m
	GCInterval string

	// SyncWrites enables fsync after each write.
	// Default: false (the WAL is the durability boundary; lost applies are replayed)
	SyncWrites bool

	// Badger-specific configuration
	Badger BadgerConfig

	// Pebble-specific configuration
	Pebble PebbleConfig
}

// BadgerConfig contains Badger-specific tuning parameters.
type BadgerConfig struct {
	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	// Default: 0.5 (run GC when 50% of data is stale)
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 64MB
	CacheSize int64

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 1GB
	ValueLogFileSize int64

	// NumMemtables is the number of memtables.
	// Default: 2
	NumMemtables int
}

// PebbleConfig contains Pebble-specific tuning parameters.
type PebbleConfig struct {
	// CacheSize is the block cache size in bytes.
	// Default: 64MB
	CacheSize int64

	// MemTableSize is the memtable size in bytes.
	// Default: 32MB
	MemTableSize uint64
}

// DefaultKVConfig returns the default KV configuration.
func DefaultKVConfig(dir string) KVConfig {
	return KVConfig{
		Engine:     EngineBadger,
		Dir:        dir,
		GCInterval: "10m",
		Badger: BadgerConfig{
			GCThreshold:      0.5,
			CacheSize:        64 << 20, // 64MB
			ValueLogFileSize: 1 << 30,  // 1GB
			NumMemtables:     2,
		},
		Pebble: PebbleConfig{
			CacheSize:    64 << 20, // 64MB
			MemTableSize: 32 << 20, // 32MB
		},
	}
}

// EngineFactory opens a KV engine.
type EngineFactory func(cfg KVConfig, logger *slog.Logger) (KVEngine, error)

var (
	enginesMu sync.RWMutex
	engines   = make(map[string]EngineFactory)
)

// RegisterEngine makes an engine selectable by name through KVConfig.Engine.
// It panics if the name is registered twice.
func RegisterEngine(name string, factory EngineFactory) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	if _, dup := engines[name]; dup {
		panic("storage: engine registered twice: " + name)
	}
	engines[name] = factory
}

// EngineNames returns the registered engine names in sorted order.
func EngineNames() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenKV opens the engine named by cfg.Engine.
func OpenKV(cfg KVConfig, logger *slog.Logger) (KVEngine, error) {
	name := cfg.Engine
	if name == "" {
		name = EngineBadger
	}

	enginesMu.RLock()
	factory, ok := engines[name]
	enginesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownEngine, name, EngineNames())
	}
	return factory(cfg, logger)
}
