package cluster

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingListener struct {
	mu     sync.Mutex
	joined map[string]string
	left   map[string]string
}

func newRecordingListener() *recordingListener {
	return &recordingListener{joined: make(map[string]string), left: make(map[string]string)}
}

func (l *recordingListener) MemberJoined(role, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.joined[id] = role
}

func (l *recordingListener) MemberLeft(role, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.left[id] = role
}

func (l *recordingListener) hasJoined(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.joined[id]
	return ok
}

func (l *recordingListener) hasLeft(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.left[id]
	return ok
}

func newTestDiscovery(t *testing.T, id, role string, seeds ...string) *Discovery {
	t.Helper()
	d, err := NewDiscovery(DiscoveryConfig{
		NodeID:    id,
		Role:      role,
		RPCAddr:   "127.0.0.1:1" + id[len(id)-1:],
		BindAddr:  "127.0.0.1",
		BindPort:  0,
		SeedNodes: seeds,
		Logger:    quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewDiscovery(%s) failed: %v", id, err)
	}
	t.Cleanup(func() { d.Shutdown() })
	return d
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewDiscovery_RequiresNodeID(t *testing.T) {
	if _, err := NewDiscovery(DiscoveryConfig{Logger: quietLogger()}); err == nil {
		t.Fatal("expected error for empty node id")
	}
}

func TestDiscovery_LocalMember(t *testing.T) {
	d := newTestDiscovery(t, "store-1", RoleStore)

	if got := d.LocalMember(); got.ID != "store-1" || got.Role != RoleStore {
		t.Errorf("LocalMember() = %+v", got)
	}
	if d.GossipAddr() == "" {
		t.Error("GossipAddr() is empty")
	}

	eventually(t, "local member", func() bool {
		return len(d.Members(RoleStore)) == 1
	})
	if got := d.Members(RoleIngestor); len(got) != 0 {
		t.Errorf("Members(ingestor) = %v, want none", got)
	}
}

func TestDiscovery_JoinAndLeave(t *testing.T) {
	seed := newTestDiscovery(t, "ingest-1", RoleIngestor)

	listener := newRecordingListener()
	seed.AddListener(listener)

	store := newTestDiscovery(t, "store-2", RoleStore, seed.GossipAddr())

	eventually(t, "store join", func() bool { return listener.hasJoined("store-2") })

	members := seed.Members(RoleStore)
	if len(members) != 1 || members[0].RPCAddr != "127.0.0.1:12" {
		t.Fatalf("Members(store) = %+v", members)
	}

	if err := store.Leave(); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	store.Shutdown()

	eventually(t, "store leave", func() bool { return listener.hasLeft("store-2") })
	if got := seed.Members(RoleStore); len(got) != 0 {
		t.Errorf("Members(store) after leave = %v", got)
	}
}

func TestDiscovery_AddListenerReplaysMembers(t *testing.T) {
	seed := newTestDiscovery(t, "ingest-3", RoleIngestor)
	newTestDiscovery(t, "store-4", RoleStore, seed.GossipAddr())

	eventually(t, "store join", func() bool { return len(seed.Members(RoleStore)) == 1 })

	listener := newRecordingListener()
	seed.AddListener(listener)

	if !listener.hasJoined("store-4") || !listener.hasJoined("ingest-3") {
		t.Errorf("replayed joins = %v", listener.joined)
	}
}

func TestDiscovery_ShutdownIdempotent(t *testing.T) {
	d := newTestDiscovery(t, "node-5", RoleCoordinator)
	if err := d.Shutdown(); err != nil {
		t.Fatalf("first Shutdown failed: %v", err)
	}
	if err := d.Shutdown(); err != nil {
		t.Fatalf("second Shutdown failed: %v", err)
	}
}
