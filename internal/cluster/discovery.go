package cluster

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/hashicorp/memberlist"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
)

// Node roles.
const (
	RoleIngestor    = domain.RoleIngestor
	RoleStore       = domain.RoleStore
	RoleCoordinator = domain.RoleCoordinator
)

// Member is a cluster member as seen through gossip.
type Member struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	RPCAddr string `json:"rpc_addr"`
}

// MembershipListener receives membership changes.
type MembershipListener interface {
	MemberJoined(role, id string)
	MemberLeft(role, id string)
}

// Discovery handles node discovery and membership using Gossip protocol.
type Discovery struct {
	memberList *memberlist.Memberlist
	logger     *slog.Logger
	local      Member

	mu        sync.Mutex
	shutdown  bool
	members   map[string]Member
	listeners []MembershipListener
}

// DiscoveryConfig configures the discovery mechanism.
type DiscoveryConfig struct {
	// NodeID is the unique node identifier.
	NodeID string

	// Role is the role this node advertises.
	Role string

	// RPCAddr is advertised in node metadata so peers can call this node.
	RPCAddr string

	// BindAddr is the address to bind for gossip communication.
	BindAddr string

	// BindPort is the port to bind for gossip communication.
	BindPort int

	// SeedNodes are the initial nodes to join.
	SeedNodes []string

	// Logger for logging.
	Logger *slog.Logger
}

// nodeMetadata is gossiped with every node.
type nodeMetadata struct {
	Role    string `json:"role"`
	RPCAddr string `json:"rpc_addr"`
}

// NewDiscovery creates a new discovery instance.
func NewDiscovery(cfg DiscoveryConfig) (*Discovery, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("discovery: node id is required")
	}

	meta, err := json.Marshal(nodeMetadata{Role: cfg.Role, RPCAddr: cfg.RPCAddr})
	if err != nil {
		return nil, fmt.Errorf("encode node metadata: %w", err)
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeID
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	mlConfig.Delegate = &metadataDelegate{meta: meta}

	// Route memberlist's own logging through slog
	mlConfig.LogOutput = &slogWriter{logger: cfg.Logger}

	d := &Discovery{
		logger:  cfg.Logger,
		local:   Member{ID: cfg.NodeID, Role: cfg.Role, RPCAddr: cfg.RPCAddr},
		members: make(map[string]Member),
	}
	mlConfig.Events = &eventDelegate{discovery: d}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	d.memberList = ml

	if len(cfg.SeedNodes) > 0 {
		n, err := ml.Join(cfg.SeedNodes)
		if err != nil {
			ml.Shutdown()
			return nil, fmt.Errorf("join seed nodes: %w", err)
		}
		cfg.Logger.Info("joined cluster",
			"node_id", cfg.NodeID,
			"role", cfg.Role,
			"seed_nodes", cfg.SeedNodes,
			"joined_count", n)
	} else {
		cfg.Logger.Info("started discovery (bootstrap mode)",
			"node_id", cfg.NodeID,
			"role", cfg.Role)
	}

	return d, nil
}

// AddListener registers l and replays every current member to it as a join.
func (d *Discovery) AddListener(l MembershipListener) {
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	current := make([]Member, 0, len(d.members))
	for _, m := range d.members {
		current = append(current, m)
	}
	d.mu.Unlock()

	for _, m := range current {
		l.MemberJoined(m.Role, m.ID)
	}
}

// Members returns the known members with the given role, or all members
// if role is empty.
func (d *Discovery) Members(role string) []Member {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Member, 0, len(d.members))
	for _, m := range d.members {
		if role == "" || m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

// LocalMember returns this node's advertised identity.
func (d *Discovery) LocalMember() Member {
	return d.local
}

// LocalNode returns the local memberlist node.
func (d *Discovery) LocalNode() *memberlist.Node {
	if d.memberList == nil {
		return nil
	}
	return d.memberList.LocalNode()
}

// GossipAddr returns the bound gossip address, useful as a seed.
func (d *Discovery) GossipAddr() string {
	n := d.LocalNode()
	if n == nil {
		return ""
	}
	return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

// Leave gracefully leaves the cluster.
func (d *Discovery) Leave() error {
	if d.memberList == nil {
		return nil
	}

	if err := d.memberList.Leave(0); err != nil {
		d.logger.Error("failed to leave cluster", "error", err)
		return err
	}

	d.logger.Info("left cluster")
	return nil
}

// Shutdown stops the discovery mechanism.
func (d *Discovery) Shutdown() error {
	d.mu.Lock()
	if d.shutdown || d.memberList == nil {
		d.mu.Unlock()
		return nil
	}
	d.shutdown = true
	d.mu.Unlock()

	if err := d.memberList.Shutdown(); err != nil {
		return fmt.Errorf("shutdown memberlist: %w", err)
	}

	d.logger.Info("discovery shutdown complete")
	return nil
}

func (d *Discovery) joined(m Member) {
	d.mu.Lock()
	d.members[m.ID] = m
	listeners := append([]MembershipListener(nil), d.listeners...)
	d.mu.Unlock()

	for _, l := range listeners {
		l.MemberJoined(m.Role, m.ID)
	}
}

func (d *Discovery) left(id string) {
	d.mu.Lock()
	m, ok := d.members[id]
	delete(d.members, id)
	listeners := append([]MembershipListener(nil), d.listeners...)
	d.mu.Unlock()

	if !ok {
		return
	}
	for _, l := range listeners {
		l.MemberLeft(m.Role, m.ID)
	}
}

// eventDelegate implements memberlist.EventDelegate.
type eventDelegate struct {
	discovery *Discovery
}

func memberFromNode(node *memberlist.Node) (Member, error) {
	var meta nodeMetadata
	if err := json.Unmarshal(node.Meta, &meta); err != nil {
		return Member{}, err
	}
	return Member{ID: node.Name, Role: meta.Role, RPCAddr: meta.RPCAddr}, nil
}

// NotifyJoin is called when a node joins.
func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	gossipAddr := net.JoinHostPort(node.Addr.String(), strconv.Itoa(int(node.Port)))

	m, err := memberFromNode(node)
	if err != nil {
		e.discovery.logger.Warn("node joined without valid metadata, ignoring",
			"node_id", node.Name,
			"gossip_addr", gossipAddr,
			"error", err)
		return
	}

	e.discovery.logger.Info("node joined",
		"node_id", m.ID,
		"role", m.Role,
		"gossip_addr", gossipAddr,
		"rpc_addr", m.RPCAddr)
	e.discovery.joined(m)
}

// NotifyLeave is called when a node leaves.
func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	e.discovery.logger.Info("node left",
		"node_id", node.Name,
		"addr", node.Addr.String())
	e.discovery.left(node.Name)
}

// NotifyUpdate is called when a node's metadata changes.
func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	m, err := memberFromNode(node)
	if err != nil {
		return
	}
	e.discovery.logger.Debug("node updated",
		"node_id", m.ID,
		"rpc_addr", m.RPCAddr)
	e.discovery.joined(m)
}

// slogWriter adapts slog.Logger to io.Writer for memberlist.
type slogWriter struct {
	logger *slog.Logger
}

// Write implements io.Writer.
func (w *slogWriter) Write(p []byte) (n int, err error) {
	w.logger.Debug(string(p), "component", "memberlist")
	return len(p), nil
}

// metadataDelegate provides node metadata to memberlist.
type metadataDelegate struct {
	meta []byte
}

// NodeMeta returns metadata about this node (up to limit bytes).
func (m *metadataDelegate) NodeMeta(limit int) []byte {
	if len(m.meta) > limit {
		return m.meta[:limit]
	}
	return m.meta
}

// NotifyMsg is called when a user message is received (not used).
func (m *metadataDelegate) NotifyMsg([]byte) {}

// GetBroadcasts is called to get broadcasts to send (not used).
func (m *metadataDelegate) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState returns the local state for synchronization (not used).
func (m *metadataDelegate) LocalState(join bool) []byte {
	return nil
}

// MergeRemoteState merges remote state (not used).
func (m *metadataDelegate) MergeRemoteState(buf []byte, join bool) {}
