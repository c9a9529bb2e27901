// Package ingest implements the write path of a GraphMesh ingestor node.
//
// A write is routed by shard to a Processor, which admits it into a bounded
// buffer, stamps it with the node's current snapshot id and appends it to
// the shard's WAL. The caller is answered once the entry is durable; the
// BatchSender then ships the entry to every store in the background,
// retrying until it is applied.
//
// The Service gates all processors on storage-tier membership (every
// expected store must be present) and implements the snapshot barrier:
// AdvanceSnapshot bumps the shared counter and waits until a marker entry
// is durable on every shard.
package ingest
