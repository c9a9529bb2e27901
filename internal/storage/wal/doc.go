// Package wal provides the per-shard write-ahead log.
//
// Every shard has its own directory and exactly one writer at a time.
// Offsets start at 0 and are assigned by the writer gap-free, so an offset
// uniquely identifies an entry within its shard. An append is acknowledged
// only after it is on disk (SyncModeSync); a failed append is truncated
// away so no partial entry survives.
//
// Layout:
//
//	<dir>/shard-0007/wal-<segment-id>.log
//	[magic:8 "GMSHWAL\x01"][base offset:8]
//	[Frame]*
//	[checksum:32 SHA-256 of all bytes above] (written when a segment is finalized)
//
// Frame wire format:
//
//	[Length:4][CRC32:4][Type:1][Offset:8][Payload:Length-13]
//
// Where:
//   - Length = CRC32 + Type + Offset + Payload (big-endian uint32)
//   - CRC32 covers Type+Offset+Payload (IEEE)
//   - Type is data or marker
//   - Payload is msgpack {snapshot, min snapshot, ops}; ops may be sealed
//     with the shard offset as additional data
//
// On reopen the writer scans the newest segment and truncates a torn tail.
// Readers treat damage in the newest segment as the end of the log and
// damage anywhere else as ErrCorrupted.
package wal
