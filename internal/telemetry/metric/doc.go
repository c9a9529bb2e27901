// Package metric provides Prometheus metrics for GraphMesh.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: Prometheus registry, ingest/delivery/store metrics and HTTP handler
//   - collector.go: Collector reading point-in-time shard statistics at scrape time
//
// Every recording method is safe on a nil *Registry, so components built
// without metrics (tests, tools) skip recording.
//
// Metrics are exposed at /metrics in Prometheus format.
package metric
