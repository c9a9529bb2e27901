package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/yndnr/graphmesh-go/internal/cluster"
	"github.com/yndnr/graphmesh-go/internal/coordinator"
	"github.com/yndnr/graphmesh-go/internal/infra/tlsroots"
	"github.com/yndnr/graphmesh-go/internal/ingest"
	"github.com/yndnr/graphmesh-go/internal/server/rpc"
	"github.com/yndnr/graphmesh-go/internal/storage"
	"github.com/yndnr/graphmesh-go/internal/storage/wal"
	"github.com/yndnr/graphmesh-go/internal/telemetry/logger"
	"github.com/yndnr/graphmesh-go/pkg/crypto/sealer"
)

// Subdirectories of node.data_dir.
const (
	WALDir   = "wal"
	StoreDir = "store"
	RaftDir  = "raft"
)

// walSealPurpose binds derived WAL keys to their use.
const walSealPurpose = "graphmesh-wal-v1"

// GenerateNodeID returns a random node id of the form gmnode-<16 hex>.
// Generated ids are not stable across restarts; production nodes set node.id.
func GenerateNodeID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return "gmnode-" + hex.EncodeToString(buf), nil
}

// ToLoggerConfig converts the log section.
func ToLoggerConfig(cfg *ServerConfig) logger.Config {
	return logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	}
}

// AdvertiseAddr is the RPC address gossiped to peers.
func AdvertiseAddr(cfg *ServerConfig) string {
	if cfg.Server.AdvertiseAddr != "" {
		return cfg.Server.AdvertiseAddr
	}
	return cfg.Server.RPCAddr
}

// ToDiscoveryConfig converts the gossip settings.
func ToDiscoveryConfig(cfg *ServerConfig, log *slog.Logger) cluster.DiscoveryConfig {
	return cluster.DiscoveryConfig{
		NodeID:    cfg.Node.ID,
		Role:      cfg.Node.Role,
		RPCAddr:   AdvertiseAddr(cfg),
		BindAddr:  cfg.Cluster.BindAddr,
		BindPort:  cfg.Cluster.BindPort,
		SeedNodes: cfg.Cluster.Seeds,
		Logger:    log,
	}
}

// StaticMembers converts cluster.members for the address book.
func StaticMembers(cfg *ServerConfig) []cluster.Member {
	out := make([]cluster.Member, 0, len(cfg.Cluster.Members))
	for _, m := range cfg.Cluster.Members {
		out = append(out, cluster.Member{ID: m.ID, Role: m.Role, RPCAddr: m.RPCAddr})
	}
	return out
}

// ToShardMapConfig converts the routing settings.
func ToShardMapConfig(cfg *ServerConfig) cluster.ShardMapConfig {
	return cluster.ShardMapConfig{
		LocalNode:    cfg.Node.ID,
		ShardCount:   cfg.Cluster.ShardCount,
		Ingestors:    cfg.Cluster.Ingestors,
		Shards:       cfg.Cluster.Shards,
		Stores:       cfg.Cluster.Stores,
		Strategy:     cfg.Cluster.PartitionStrategy,
		VirtualNodes: cfg.Cluster.VirtualNodes,
	}
}

// ToIngestConfig converts the ingest section.
func ToIngestConfig(cfg *ServerConfig) ingest.ServiceConfig {
	s := cfg.Ingest
	return ingest.ServiceConfig{
		Processor: ingest.ProcessorConfig{
			QueueCapacity:  s.QueueCapacity,
			RetryBackoff:   s.RetryBackoff,
			AppendTimeout:  s.AppendTimeout,
			ReplayRate:     s.ReplayRate,
			CompactOnStart: s.CompactOnStart,
		},
		ReadinessInterval: s.ReadinessInterval,
		StartTimeout:      s.StartTimeout,
		MarkerRetry:       s.MarkerRetry,
	}
}

// ToSenderConfig converts the delivery section.
func ToSenderConfig(cfg *ServerConfig) ingest.SenderConfig {
	return ingest.SenderConfig{
		InitialBackoff: cfg.Delivery.InitialBackoff,
		MaxBackoff:     cfg.Delivery.MaxBackoff,
		AttemptTimeout: cfg.Delivery.AttemptTimeout,
	}
}

// ToWALConfig converts the wal section. A sealer is derived from
// wal.encryption_key when one is set.
func ToWALConfig(cfg *ServerConfig, log *slog.Logger) (wal.Config, error) {
	out := wal.Config{
		Dir:           filepath.Join(cfg.Node.DataDir, WALDir),
		SyncMode:      wal.SyncMode(cfg.WAL.SyncMode),
		MaxFileSize:   cfg.WAL.MaxFileSize,
		MaxEntryCount: cfg.WAL.MaxEntryCount,
		Logger:        log,
	}
	if cfg.WAL.EncryptionKey == "" {
		return out, nil
	}
	s, err := sealer.FromSecret([]byte(cfg.WAL.EncryptionKey), sealer.Algorithm(cfg.WAL.Cipher), walSealPurpose)
	if err != nil {
		return wal.Config{}, fmt.Errorf("wal sealer: %w", err)
	}
	out.Sealer = s
	return out, nil
}

// ToKVConfig converts the store section.
func ToKVConfig(cfg *ServerConfig) storage.KVConfig {
	s := cfg.Store
	return storage.KVConfig{
		Engine:     s.Engine,
		Dir:        filepath.Join(cfg.Node.DataDir, StoreDir),
		GCInterval: s.GCInterval,
		SyncWrites: s.SyncWrites,
		Badger: storage.BadgerConfig{
			GCThreshold:      s.Badger.GCThreshold,
			CacheSize:        s.Badger.CacheSize,
			ValueLogFileSize: s.Badger.ValueLogFileSize,
			NumMemtables:     s.Badger.NumMemtables,
		},
		Pebble: storage.PebbleConfig{
			CacheSize:    s.Pebble.CacheSize,
			MemTableSize: s.Pebble.MemTableSize,
		},
	}
}

// ToStoreHandlerConfig converts the store admission settings.
func ToStoreHandlerConfig(cfg *ServerConfig) rpc.StoreHandlerConfig {
	return rpc.StoreHandlerConfig{
		MaxInflight: cfg.Store.MaxInflight,
		ApplyRate:   cfg.Store.ApplyRate,
		ApplyBurst:  cfg.Store.ApplyBurst,
	}
}

// ToRaftConfig converts the coordinator raft settings.
func ToRaftConfig(cfg *ServerConfig, log *slog.Logger) coordinator.RaftConfig {
	peers := make([]coordinator.Peer, 0, len(cfg.Coordinator.Peers))
	for _, p := range cfg.Coordinator.Peers {
		peers = append(peers, coordinator.Peer{ID: p.ID, Addr: p.Addr})
	}
	return coordinator.RaftConfig{
		NodeID:    cfg.Node.ID,
		BindAddr:  cfg.Coordinator.RaftAddr,
		DataDir:   filepath.Join(cfg.Node.DataDir, RaftDir),
		Bootstrap: cfg.Coordinator.Bootstrap,
		Peers:     peers,
		Logger:    log,
	}
}

// ToCoordinatorConfig converts the coordinator timing settings.
func ToCoordinatorConfig(cfg *ServerConfig) coordinator.Config {
	return coordinator.Config{
		AdvanceInterval: cfg.Coordinator.AdvanceInterval,
		ApplyTimeout:    cfg.Coordinator.ApplyTimeout,
		CallTimeout:     cfg.Coordinator.CallTimeout,
	}
}

// ToTLSConfig converts the server.tls section.
func ToTLSConfig(s *ServerSection) tlsroots.Config {
	return tlsroots.Config{
		CertFile:   s.TLS.CertFile,
		KeyFile:    s.TLS.KeyFile,
		CAFile:     s.TLS.CAFile,
		ClientAuth: s.TLS.ClientAuth,
	}
}

// ToRPCServerConfig converts the server section.
func ToRPCServerConfig(cfg *ServerConfig) rpc.ServerConfig {
	return rpc.ServerConfig{
		Addr:              cfg.Server.RPCAddr,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
}
