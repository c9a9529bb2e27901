// Package confloader loads node configuration for graphmesh-server.
//
// Sources are layered with koanf; later layers override earlier ones:
//
//  1. Defaults already present in the target struct
//  2. A YAML file
//  3. GRAPHMESH_* environment variables
//  4. Explicit overrides (command-line flags)
//
// Environment keys use a double underscore between sections so that keys
// containing an underscore stay addressable:
//
//	GRAPHMESH_INGEST__QUEUE_CAPACITY=4096  ->  ingest.queue_capacity
//	GRAPHMESH_WAL__SYNC_MODE=batch         ->  wal.sync_mode
//
// A Watcher reports edits to the config file so long-running nodes can
// apply the settings that are safe to change live (currently the log level).
package confloader
