package coordinator

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Peer is a voting member of the coordinator group.
type Peer struct {
	ID   string `koanf:"id"`
	Addr string `koanf:"addr"`
}

// RaftConfig configures the raft node.
type RaftConfig struct {
	// NodeID is the unique node identifier.
	NodeID string

	// BindAddr is the address to bind for raft communication. Port 0 picks
	// a free port.
	BindAddr string

	// DataDir is the directory for raft data.
	DataDir string

	// Bootstrap indicates if this node bootstraps the group.
	Bootstrap bool

	// Peers lists the other voters used when bootstrapping.
	Peers []Peer

	// Logger for logging.
	Logger *slog.Logger
}

// RaftNode wraps hashicorp/raft for the coordinator group.
type RaftNode struct {
	raft      *raft.Raft
	transport *raft.NetworkTransport
	logger    *slog.Logger

	logStore    *raftboltdb.BoltStore
	stableStore *raftboltdb.BoltStore

	leaderCh chan bool
}

// NewRaftNode creates a new raft node driving fsm.
func NewRaftNode(cfg RaftConfig, fsm raft.FSM) (*RaftNode, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("raft: data_dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	hcLogger := &raftHCLogger{logger: cfg.Logger.With("component", "raft")}

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	raftConfig.Logger = hcLogger

	// Tuning for lower latency
	raftConfig.HeartbeatTimeout = 1000 * time.Millisecond
	raftConfig.ElectionTimeout = 1000 * time.Millisecond
	raftConfig.CommitTimeout = 50 * time.Millisecond
	raftConfig.LeaderLeaseTimeout = 500 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind addr: %w", err)
	}

	// With port 0 the transport advertises the port it actually bound.
	var advertise net.Addr = addr
	if addr.Port == 0 {
		advertise = nil
	}
	transport, err := raft.NewTCPTransportWithLogger(cfg.BindAddr, advertise, 3, 10*time.Second, hcLogger)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		logStore.Close()
		transport.Close()
		return nil, fmt.Errorf("create stable store: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStoreWithLogger(cfg.DataDir, 3, hcLogger)
	if err != nil {
		stableStore.Close()
		logStore.Close()
		transport.Close()
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	leaderCh := make(chan bool, 10)
	raftConfig.NotifyCh = leaderCh

	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		stableStore.Close()
		logStore.Close()
		transport.Close()
		return nil, fmt.Errorf("create raft: %w", err)
	}

	node := &RaftNode{
		raft:        r,
		transport:   transport,
		logger:      cfg.Logger,
		logStore:    logStore,
		stableStore: stableStore,
		leaderCh:    leaderCh,
	}

	if cfg.Bootstrap {
		servers := []raft.Server{{
			ID:      raft.ServerID(cfg.NodeID),
			Address: transport.LocalAddr(),
		}}
		for _, p := range cfg.Peers {
			if p.ID == cfg.NodeID {
				continue
			}
			servers = append(servers, raft.Server{
				ID:      raft.ServerID(p.ID),
				Address: raft.ServerAddress(p.Addr),
			})
		}

		f := r.BootstrapCluster(raft.Configuration{Servers: servers})
		if err := f.Error(); err != nil && err != raft.ErrCantBootstrap {
			node.Close()
			return nil, fmt.Errorf("bootstrap cluster: %w", err)
		}

		cfg.Logger.Info("raft cluster bootstrapped",
			"node_id", cfg.NodeID,
			"addr", transport.LocalAddr(),
			"voters", len(servers))
	}

	cfg.Logger.Info("raft node created",
		"node_id", cfg.NodeID,
		"bind_addr", transport.LocalAddr(),
		"bootstrap", cfg.Bootstrap)

	return node, nil
}

// Apply replicates data and waits until it is committed and applied.
// An error returned by the FSM is returned as is.
func (n *RaftNode) Apply(data []byte, timeout time.Duration) error {
	f := n.raft.Apply(data, timeout)
	if err := f.Error(); err != nil {
		if err == raft.ErrNotLeader || err == raft.ErrLeadershipLost {
			return fmt.Errorf("raft apply: %w", errNotLeader(err))
		}
		return fmt.Errorf("raft apply: %w", err)
	}

	if resp := f.Response(); resp != nil {
		if err, ok := resp.(error); ok {
			return err
		}
	}
	return nil
}

// IsLeader returns true if this node is the raft leader.
func (n *RaftNode) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// Leader returns the current leader address.
func (n *RaftNode) Leader() string {
	addr, _ := n.raft.LeaderWithID()
	return string(addr)
}

// LeaderID returns the current leader ID.
func (n *RaftNode) LeaderID() string {
	_, id := n.raft.LeaderWithID()
	return string(id)
}

// Addr returns the transport address of this node.
func (n *RaftNode) Addr() string {
	return string(n.transport.LocalAddr())
}

// WaitLeader blocks until the group has a leader or ctx ends.
func (n *RaftNode) WaitLeader(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if n.LeaderID() != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Snapshot triggers a raft snapshot.
func (n *RaftNode) Snapshot() error {
	if err := n.raft.Snapshot().Error(); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

// LeaderCh returns a channel that notifies on leadership changes.
func (n *RaftNode) LeaderCh() <-chan bool {
	return n.leaderCh
}

// Stats returns raft statistics.
func (n *RaftNode) Stats() map[string]string {
	return n.raft.Stats()
}

// Close gracefully shuts down the raft node.
func (n *RaftNode) Close() error {
	n.logger.Info("shutting down raft node")

	if err := n.raft.Shutdown().Error(); err != nil {
		n.logger.Error("raft shutdown failed", "error", err)
	}
	if err := n.stableStore.Close(); err != nil {
		n.logger.Error("close stable store failed", "error", err)
	}
	if err := n.logStore.Close(); err != nil {
		n.logger.Error("close log store failed", "error", err)
	}
	if err := n.transport.Close(); err != nil {
		n.logger.Error("close transport failed", "error", err)
	}

	n.logger.Info("raft node shutdown complete")
	return nil
}

// raftHCLogger adapts slog.Logger to the hashicorp/go-hclog.Logger interface.
type raftHCLogger struct {
	logger *slog.Logger
	name   string
	args   []any
}

func (l *raftHCLogger) Log(level hclog.Level, msg string, args ...any) {
	switch level {
	case hclog.Trace, hclog.Debug:
		l.logger.Debug(msg, args...)
	case hclog.Info:
		l.logger.Info(msg, args...)
	case hclog.Warn:
		l.logger.Warn(msg, args...)
	case hclog.Error:
		l.logger.Error(msg, args...)
	default:
		l.logger.Info(msg, args...)
	}
}

func (l *raftHCLogger) Trace(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *raftHCLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *raftHCLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *raftHCLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *raftHCLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *raftHCLogger) enabled(level slog.Level) bool {
	return l.logger.Enabled(context.Background(), level)
}

func (l *raftHCLogger) IsTrace() bool { return false }
func (l *raftHCLogger) IsDebug() bool { return l.enabled(slog.LevelDebug) }
func (l *raftHCLogger) IsInfo() bool  { return l.enabled(slog.LevelInfo) }
func (l *raftHCLogger) IsWarn() bool  { return l.enabled(slog.LevelWarn) }
func (l *raftHCLogger) IsError() bool { return l.enabled(slog.LevelError) }

func (l *raftHCLogger) ImpliedArgs() []any { return l.args }

func (l *raftHCLogger) With(args ...any) hclog.Logger {
	return &raftHCLogger{
		logger: l.logger.With(args...),
		name:   l.name,
		args:   append(append([]any(nil), l.args...), args...),
	}
}

func (l *raftHCLogger) Name() string { return l.name }

func (l *raftHCLogger) Named(name string) hclog.Logger {
	if l.name != "" {
		name = l.name + "." + name
	}
	return l.ResetNamed(name)
}

func (l *raftHCLogger) ResetNamed(name string) hclog.Logger {
	return &raftHCLogger{logger: l.logger.With("logger", name), name: name, args: l.args}
}

// SetLevel is a no-op; the level follows the slog handler.
func (l *raftHCLogger) SetLevel(hclog.Level) {}

func (l *raftHCLogger) GetLevel() hclog.Level {
	switch {
	case l.IsDebug():
		return hclog.Debug
	case l.IsInfo():
		return hclog.Info
	case l.IsWarn():
		return hclog.Warn
	default:
		return hclog.Error
	}
}

func (l *raftHCLogger) StandardLogger(*hclog.StandardLoggerOptions) *log.Logger {
	return slog.NewLogLogger(l.logger.Handler(), slog.LevelInfo)
}

func (l *raftHCLogger) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return l.StandardLogger(opts).Writer()
}
