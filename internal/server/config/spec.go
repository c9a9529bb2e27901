package config

import "time"

// ServerConfig is the root configuration for graphmesh-server.
type ServerConfig struct {
	Node        NodeSection        `koanf:"node"`
	Server      ServerSection      `koanf:"server"`
	Cluster     ClusterSection     `koanf:"cluster"`
	Ingest      IngestSection      `koanf:"ingest"`
	WAL         WALSection         `koanf:"wal"`
	Delivery    DeliverySection    `koanf:"delivery"`
	Store       StoreSection       `koanf:"store"`
	Coordinator CoordinatorSection `koanf:"coordinator"`
	Log         LogSection         `koanf:"log"`
	Metrics     MetricsSection     `koanf:"metrics"`
}

// NodeSection identifies the local node.
type NodeSection struct {
	// ID must be stable across restarts; it names the node in
	// cluster.ingestors, cluster.stores and coordinator.peers.
	ID string `koanf:"id"`

	// Role is one of ingestor, store or coordinator.
	Role string `koanf:"role"`

	// DataDir holds wal/, store/ and raft/ subdirectories.
	DataDir string `koanf:"data_dir"`
}

// ServerSection configures the RPC endpoint.
type ServerSection struct {
	RPCAddr string `koanf:"rpc_addr"`

	// AdvertiseAddr is gossiped to peers. Defaults to RPCAddr.
	AdvertiseAddr string `koanf:"advertise_addr"`

	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`

	TLS TLSSection `koanf:"tls"`
}

// TLSSection enables TLS on the RPC endpoint and for outgoing calls.
// Leaving every file empty keeps plain HTTP.
type TLSSection struct {
	CertFile   string `koanf:"cert_file"`
	KeyFile    string `koanf:"key_file"`
	CAFile     string `koanf:"ca_file"`
	ClientAuth bool   `koanf:"client_auth"`
}

// ClusterSection configures membership and routing.
type ClusterSection struct {
	// Gossip bind address and port.
	BindAddr string   `koanf:"bind_addr"`
	BindPort int      `koanf:"bind_port"`
	Seeds    []string `koanf:"seeds"`

	ShardCount int `koanf:"shard_count"`

	// Ingestors owns shards round-robin: shard s belongs to
	// ingestors[s % len(ingestors)].
	Ingestors []string `koanf:"ingestors"`

	// Shards overrides the shards owned by this ingestor.
	Shards []int32 `koanf:"shards"`

	// Stores lists every store expected before ingestion opens.
	Stores []string `koanf:"stores"`

	PartitionStrategy string `koanf:"partition_strategy"`
	VirtualNodes      int    `koanf:"virtual_nodes"`

	// Members seeds the address book for nodes not reachable by gossip.
	Members []MemberSpec `koanf:"members"`
}

// MemberSpec is a statically known node.
type MemberSpec struct {
	ID      string `koanf:"id"`
	Role    string `koanf:"role"`
	RPCAddr string `koanf:"rpc_addr"`
}

// IngestSection configures the shard processors and the service.
type IngestSection struct {
	QueueCapacity int           `koanf:"queue_capacity"`
	RetryBackoff  time.Duration `koanf:"retry_backoff"`
	AppendTimeout time.Duration `koanf:"append_timeout"`

	// ReplayRate limits re-delivered WAL entries per second on start.
	// Zero means unlimited.
	ReplayRate     float64 `koanf:"replay_rate"`
	CompactOnStart bool    `koanf:"compact_on_start"`

	ReadinessInterval time.Duration `koanf:"readiness_interval"`
	StartTimeout      time.Duration `koanf:"start_timeout"`
	MarkerRetry       time.Duration `koanf:"marker_retry"`
}

// WALSection configures the write-ahead log.
type WALSection struct {
	// SyncMode is "sync" or "none".
	SyncMode      string `koanf:"sync_mode"`
	MaxFileSize   int64  `koanf:"max_file_size"`
	MaxEntryCount int    `koanf:"max_entry_count"`

	// EncryptionKey enables payload sealing when set.
	EncryptionKey string `koanf:"encryption_key"`

	// Cipher is "aes-gcm" or "chacha20-poly1305".
	Cipher string `koanf:"cipher"`
}

// DeliverySection configures the batch sender.
type DeliverySection struct {
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
	AttemptTimeout time.Duration `koanf:"attempt_timeout"`
}

// StoreSection configures the storage tier.
type StoreSection struct {
	Engine     string        `koanf:"engine"`
	GCInterval string        `koanf:"gc_interval"`
	SyncWrites bool          `koanf:"sync_writes"`
	Badger     BadgerSection `koanf:"badger"`
	Pebble     PebbleSection `koanf:"pebble"`

	MaxInflight int64   `koanf:"max_inflight"`
	ApplyRate   float64 `koanf:"apply_rate"`
	ApplyBurst  int     `koanf:"apply_burst"`
}

// BadgerSection tunes the badger engine.
type BadgerSection struct {
	GCThreshold      float64 `koanf:"gc_threshold"`
	CacheSize        int64   `koanf:"cache_size"`
	ValueLogFileSize int64   `koanf:"value_log_file_size"`
	NumMemtables     int     `koanf:"num_memtables"`
}

// PebbleSection tunes the pebble engine.
type PebbleSection struct {
	CacheSize    int64  `koanf:"cache_size"`
	MemTableSize uint64 `koanf:"mem_table_size"`
}

// CoordinatorSection configures the snapshot coordinator.
type CoordinatorSection struct {
	AdvanceInterval time.Duration `koanf:"advance_interval"`
	ApplyTimeout    time.Duration `koanf:"apply_timeout"`
	CallTimeout     time.Duration `koanf:"call_timeout"`

	RaftAddr  string     `koanf:"raft_addr"`
	Bootstrap bool       `koanf:"bootstrap"`
	Peers     []RaftPeer `koanf:"peers"`
}

// RaftPeer is a coordinator voter.
type RaftPeer struct {
	ID   string `koanf:"id"`
	Addr string `koanf:"addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level     string `koanf:"level"`
	Format    string `koanf:"format"`
	AddSource bool   `koanf:"add_source"`
}

// MetricsSection configures the /metrics endpoint.
type MetricsSection struct {
	Enabled bool `koanf:"enabled"`
}
