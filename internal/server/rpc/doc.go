// Package rpc exposes ingestion, storage and coordination over connect.
//
// Messages are plain Go structs carried by a JSON codec; there is no
// generated protobuf code. Procedures:
//
//	/graphmesh.v1.IngestService/SubmitWrite
//	/graphmesh.v1.IngestService/AdvanceSnapshot
//	/graphmesh.v1.StoreService/ApplyBatch
//	/graphmesh.v1.StoreService/GetAppliedOffsets
//	/graphmesh.v1.CoordinatorService/GetTailOffsets
//
// Domain errors cross the wire as a connect code plus the GM-* code in the
// Graphmesh-Error-Code header, so errors.Is keeps working on the client.
package rpc
