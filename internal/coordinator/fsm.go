package coordinator

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/yndnr/graphmesh-go/internal/core/domain"
)

// CommandType defines the type of raft log entry.
type CommandType uint8

const (
	// CommandSetSnapshot moves the snapshot id forward.
	CommandSetSnapshot CommandType = 1
)

// Command is a raft log entry.
type Command struct {
	Type       CommandType `json:"type"`
	SnapshotID int64       `json:"snapshot_id"`
}

// EncodeCommand serializes a command for raft.Apply.
func EncodeCommand(cmd Command) ([]byte, error) {
	return json.Marshal(cmd)
}

// FSM implements the raft finite state machine.
//
// The only state is the snapshot id. Apply is deterministic: a command that
// would not move the id forward is answered with ErrStaleSnapshotDependency
// and leaves the state unchanged on every replica.
type FSM struct {
	mu         sync.RWMutex
	snapshotID int64
	logger     *slog.Logger
}

// NewFSM creates a new FSM with an uninitialized snapshot id.
func NewFSM(logger *slog.Logger) *FSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSM{
		snapshotID: domain.SnapshotUninitialized,
		logger:     logger,
	}
}

// Apply applies a committed raft log entry.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		f.logger.Error("FATAL: failed to unmarshal log entry - data corrupted",
			"error", err,
			"log_index", log.Index,
			"log_term", log.Term)
		panic(fmt.Sprintf("FSM.Apply: unmarshal failed at index=%d: %v", log.Index, err))
	}

	switch cmd.Type {
	case CommandSetSnapshot:
		return f.applySetSnapshot(cmd.SnapshotID)
	default:
		f.logger.Error("FATAL: unknown log entry type",
			"type", cmd.Type,
			"log_index", log.Index)
		panic(fmt.Sprintf("FSM.Apply: unknown log type %d at index=%d", cmd.Type, log.Index))
	}
}

func (f *FSM) applySetSnapshot(next int64) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	if next <= f.snapshotID {
		return domain.ErrStaleSnapshotDependency.WithDetailsf("snapshot %d is not after %d", next, f.snapshotID)
	}
	prev := f.snapshotID
	f.snapshotID = next

	f.logger.Debug("snapshot id advanced", "prev", prev, "snapshot_id", next)
	return nil
}

// SnapshotID returns the current snapshot id.
func (f *FSM) SnapshotID() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snapshotID
}

// fsmState is the persisted form of the FSM.
type fsmState struct {
	SnapshotID int64 `json:"snapshot_id"`
}

// Snapshot captures the FSM state for log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{state: fsmState{SnapshotID: f.SnapshotID()}}, nil
}

// Restore replaces the FSM state from a gzip-compressed snapshot.
func (f *FSM) Restore(r io.ReadCloser) error {
	defer r.Close()

	gzReader, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gzReader.Close()

	var state fsmState
	if err := json.NewDecoder(gzReader).Decode(&state); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.mu.Lock()
	f.snapshotID = state.SnapshotID
	f.mu.Unlock()

	f.logger.Info("fsm state restored from snapshot", "snapshot_id", state.SnapshotID)
	return nil
}

// fsmSnapshot implements raft.FSMSnapshot.
type fsmSnapshot struct {
	state fsmState
}

// Persist writes the snapshot to the sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		gzWriter := gzip.NewWriter(sink)
		if err := json.NewEncoder(gzWriter).Encode(s.state); err != nil {
			gzWriter.Close()
			return fmt.Errorf("encode snapshot: %w", err)
		}
		if err := gzWriter.Close(); err != nil {
			return fmt.Errorf("close gzip writer: %w", err)
		}
		return nil
	}()

	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

// Release is called when the snapshot is no longer needed.
func (s *fsmSnapshot) Release() {}
