package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/yndnr/graphmesh-go/internal/cluster"
	"github.com/yndnr/graphmesh-go/internal/core/domain"
	"github.com/yndnr/graphmesh-go/internal/storage"
	"github.com/yndnr/graphmesh-go/internal/storage/wal"
	"github.com/yndnr/graphmesh-go/pkg/crypto/sealer"
)

var (
	validRoles      = []string{domain.RoleIngestor, domain.RoleStore, domain.RoleCoordinator}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"json", "text"}
	validSyncModes  = []string{string(wal.SyncModeSync), string(wal.SyncModeNone)}
	validCiphers    = []string{string(sealer.AESGCM), string(sealer.ChaCha20)}
)

// Verify validates the configuration and reports every violation.
func Verify(cfg *ServerConfig) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	v := &violations{}
	verifyNode(v, cfg)
	verifyServer(v, &cfg.Server)
	verifyCluster(v, cfg)
	verifyIngest(v, &cfg.Ingest)
	verifyWAL(v, &cfg.WAL)
	verifyDelivery(v, &cfg.Delivery)
	verifyStore(v, &cfg.Store)
	verifyCoordinator(v, cfg)
	verifyLog(v, &cfg.Log)
	return v.err()
}

type violations struct {
	errs []error
}

func (v *violations) add(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *violations) err() error {
	return errors.Join(v.errs...)
}

func verifyNode(v *violations, cfg *ServerConfig) {
	if cfg.Node.ID == "" {
		v.add("node.id is required")
	}
	if !slices.Contains(validRoles, cfg.Node.Role) {
		v.add("node.role %q must be one of %s", cfg.Node.Role, strings.Join(validRoles, ", "))
	}
	if cfg.Node.DataDir == "" {
		v.add("node.data_dir is required")
	}
}

func verifyServer(v *violations, s *ServerSection) {
	if err := verifyHostPort(s.RPCAddr); err != nil {
		v.add("server.rpc_addr: %w", err)
	}
	if s.AdvertiseAddr != "" {
		if err := verifyHostPort(s.AdvertiseAddr); err != nil {
			v.add("server.advertise_addr: %w", err)
		}
	}
	if s.ShutdownTimeout <= 0 {
		v.add("server.shutdown_timeout must be positive")
	}
	if tc := ToTLSConfig(s); tc.Enabled() {
		if err := tc.Validate(); err != nil {
			v.add("server.tls: %w", err)
		} else if tc.CertFile == "" {
			v.add("server.tls: cert_file and key_file are required when ca_file is set")
		}
	}
}

func verifyCluster(v *violations, cfg *ServerConfig) {
	c := &cfg.Cluster
	if c.BindPort < 0 || c.BindPort > 65535 {
		v.add("cluster.bind_port %d out of range", c.BindPort)
	}
	if c.ShardCount <= 0 {
		v.add("cluster.shard_count must be positive")
	}
	if c.VirtualNodes < 0 {
		v.add("cluster.virtual_nodes must not be negative")
	}
	if !slices.Contains(cluster.StrategyNames(), c.PartitionStrategy) {
		v.add("cluster.partition_strategy %q must be one of %s",
			c.PartitionStrategy, strings.Join(cluster.StrategyNames(), ", "))
	}
	for _, s := range c.Shards {
		if s < 0 || int(s) >= c.ShardCount {
			v.add("cluster.shards: shard %d outside [0, %d)", s, c.ShardCount)
		}
	}
	for i, m := range c.Members {
		if m.ID == "" || !slices.Contains(validRoles, m.Role) {
			v.add("cluster.members[%d]: id and a valid role are required", i)
		}
		if err := verifyHostPort(m.RPCAddr); err != nil {
			v.add("cluster.members[%d].rpc_addr: %w", i, err)
		}
	}

	switch cfg.Node.Role {
	case domain.RoleIngestor:
		if len(c.Stores) == 0 {
			v.add("cluster.stores is required for an ingestor")
		}
		if len(c.Shards) == 0 && !slices.Contains(c.Ingestors, cfg.Node.ID) {
			v.add("cluster.ingestors must list node %q or cluster.shards must be set", cfg.Node.ID)
		}
	case domain.RoleCoordinator:
		if len(c.Stores) == 0 {
			v.add("cluster.stores is required for a coordinator")
		}
	}
}

func verifyIngest(v *violations, s *IngestSection) {
	if s.QueueCapacity <= 0 {
		v.add("ingest.queue_capacity must be positive")
	}
	if s.RetryBackoff <= 0 {
		v.add("ingest.retry_backoff must be positive")
	}
	if s.AppendTimeout <= 0 {
		v.add("ingest.append_timeout must be positive")
	}
	if s.ReplayRate < 0 {
		v.add("ingest.replay_rate must not be negative")
	}
}

func verifyWAL(v *violations, s *WALSection) {
	if !slices.Contains(validSyncModes, s.SyncMode) {
		v.add("wal.sync_mode %q must be one of %s", s.SyncMode, strings.Join(validSyncModes, ", "))
	}
	if s.MaxFileSize <= 0 {
		v.add("wal.max_file_size must be positive")
	}
	if s.EncryptionKey != "" && !slices.Contains(validCiphers, s.Cipher) {
		v.add("wal.cipher %q must be one of %s", s.Cipher, strings.Join(validCiphers, ", "))
	}
}

func verifyDelivery(v *violations, s *DeliverySection) {
	if s.InitialBackoff <= 0 || s.MaxBackoff <= 0 {
		v.add("delivery backoffs must be positive")
	} else if s.InitialBackoff > s.MaxBackoff {
		v.add("delivery.initial_backoff exceeds delivery.max_backoff")
	}
	if s.AttemptTimeout <= 0 {
		v.add("delivery.attempt_timeout must be positive")
	}
}

func verifyStore(v *violations, s *StoreSection) {
	if !slices.Contains(storage.EngineNames(), s.Engine) {
		v.add("store.engine %q must be one of %s", s.Engine, strings.Join(storage.EngineNames(), ", "))
	}
	if s.MaxInflight <= 0 {
		v.add("store.max_inflight must be positive")
	}
	if s.ApplyRate < 0 {
		v.add("store.apply_rate must not be negative")
	}
}

func verifyCoordinator(v *violations, cfg *ServerConfig) {
	if cfg.Node.Role != domain.RoleCoordinator {
		return
	}
	c := &cfg.Coordinator
	if err := verifyHostPort(c.RaftAddr); err != nil {
		v.add("coordinator.raft_addr: %w", err)
	}
	if c.ApplyTimeout <= 0 || c.CallTimeout <= 0 {
		v.add("coordinator timeouts must be positive")
	}
	for i, p := range c.Peers {
		if p.ID == "" {
			v.add("coordinator.peers[%d].id is required", i)
		}
		if err := verifyHostPort(p.Addr); err != nil {
			v.add("coordinator.peers[%d].addr: %w", i, err)
		}
	}
}

func verifyLog(v *violations, s *LogSection) {
	if !slices.Contains(validLogLevels, strings.ToLower(s.Level)) {
		v.add("log.level %q must be one of %s", s.Level, strings.Join(validLogLevels, ", "))
	}
	if !slices.Contains(validLogFormats, strings.ToLower(s.Format)) {
		v.add("log.format %q must be one of %s", s.Format, strings.Join(validLogFormats, ", "))
	}
}

func verifyHostPort(addr string) error {
	if addr == "" {
		return errors.New("address is required")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if port == "" {
		return fmt.Errorf("address %q has no port", addr)
	}
	return nil
}
