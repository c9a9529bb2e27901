// Package logger builds the structured logger of a GraphMesh node.
//
// Every component takes a *slog.Logger. The handler built by New adds:
//
//   - a process-wide level that SetLevel changes at runtime
//   - request_id and shard_id attributes carried by the context
//   - masking of attributes whose key names a secret
package logger
