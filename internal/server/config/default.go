package config

import (
	"time"

	"github.com/yndnr/graphmesh-go/internal/cluster"
	"github.com/yndnr/graphmesh-go/internal/storage"
	"github.com/yndnr/graphmesh-go/internal/storage/wal"
	"github.com/yndnr/graphmesh-go/pkg/crypto/sealer"
)

// Default configuration values.
const (
	DefaultRole     = "ingestor"
	DefaultDataDir  = "/var/lib/graphmesh"
	DefaultRPCAddr  = "127.0.0.1:7480"
	DefaultBindAddr = "0.0.0.0"
	DefaultBindPort = 7946
	DefaultRaftAddr = "127.0.0.1:7481"

	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Node: NodeSection{
			Role:    DefaultRole,
			DataDir: DefaultDataDir,
		},
		Server: ServerSection{
			RPCAddr:           DefaultRPCAddr,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ShutdownTimeout:   DefaultShutdownTimeout,
		},
		Cluster: ClusterSection{
			BindAddr:          DefaultBindAddr,
			BindPort:          DefaultBindPort,
			ShardCount:        cluster.DefaultShardCount,
			PartitionStrategy: cluster.StrategyHash,
			VirtualNodes:      cluster.DefaultVirtualNodeCount,
		},
		Ingest: IngestSection{
			QueueCapacity:     1024,
			RetryBackoff:      10 * time.Millisecond,
			AppendTimeout:     5 * time.Second,
			ReadinessInterval: time.Second,
			StartTimeout:      time.Minute,
			MarkerRetry:       5 * time.Millisecond,
		},
		WAL: WALSection{
			SyncMode:      string(wal.SyncModeSync),
			MaxFileSize:   wal.DefaultMaxFileSize,
			MaxEntryCount: wal.DefaultMaxEntryCount,
			Cipher:        string(sealer.AESGCM),
		},
		Delivery: DeliverySection{
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			AttemptTimeout: 10 * time.Second,
		},
		Store: StoreSection{
			Engine:     storage.EngineBadger,
			GCInterval: "10m",
			Badger: BadgerSection{
				GCThreshold:      0.5,
				CacheSize:        64 << 20,
				ValueLogFileSize: 1 << 30,
				NumMemtables:     2,
			},
			Pebble: PebbleSection{
				CacheSize:    64 << 20,
				MemTableSize: 32 << 20,
			},
			MaxInflight: 64,
		},
		Coordinator: CoordinatorSection{
			AdvanceInterval: 10 * time.Second,
			ApplyTimeout:    5 * time.Second,
			CallTimeout:     30 * time.Second,
			RaftAddr:        DefaultRaftAddr,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Metrics: MetricsSection{Enabled: true},
	}
}
