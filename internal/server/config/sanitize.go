package config

import (
	"slices"

	"github.com/yndnr/graphmesh-go/internal/telemetry/logger"
)

// Sanitize returns a copy of the config with secrets masked, for logging.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	sanitized := *cfg
	if sanitized.WAL.EncryptionKey != "" {
		sanitized.WAL.EncryptionKey = logger.RedactString(sanitized.WAL.EncryptionKey)
	}
	sanitized.Cluster.Seeds = slices.Clone(cfg.Cluster.Seeds)
	sanitized.Cluster.Ingestors = slices.Clone(cfg.Cluster.Ingestors)
	sanitized.Cluster.Stores = slices.Clone(cfg.Cluster.Stores)
	sanitized.Cluster.Shards = slices.Clone(cfg.Cluster.Shards)
	sanitized.Cluster.Members = slices.Clone(cfg.Cluster.Members)
	sanitized.Coordinator.Peers = slices.Clone(cfg.Coordinator.Peers)
	return &sanitized
}
