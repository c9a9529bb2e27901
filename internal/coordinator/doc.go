// Package coordinator owns the cluster-wide snapshot id.
//
// The snapshot id lives in a raft-replicated state machine so that a new
// leader never hands out a value lower than one already announced. The
// leader periodically bumps the id and pushes it to every ingestor, which
// runs its marker barrier before acknowledging.
//
// The coordinator also answers tail-offset queries for restarting
// ingestors: the tail of a shard is the lowest applied offset across all
// expected stores.
//
// Files:
//
//	fsm.go         - raft FSM holding the snapshot id
//	raft.go        - raft node with BoltDB stores and an hclog adapter
//	coordinator.go - advance loop and tail-offset aggregation
package coordinator
