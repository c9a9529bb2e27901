package metric

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every GraphMesh metric.
const Namespace = "graphmesh"

// Rejection reasons for RecordRejected.
const (
	ReasonNotReady      = "not_ready"
	ReasonOverloaded    = "overloaded"
	ReasonStaleSnapshot = "stale_snapshot"
	ReasonDurability    = "durability"
	ReasonInvalid       = "invalid"
)

// Store apply outcomes for RecordStoreApply.
const (
	ApplyApplied   = "applied"
	ApplyDuplicate = "duplicate"
	ApplyBusy      = "busy"
	ApplyError     = "error"
)

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	// Ingest metrics
	IngestRecords     *prometheus.CounterVec
	IngestBytes       *prometheus.CounterVec
	IngestRejected    *prometheus.CounterVec
	AppendRetries     *prometheus.CounterVec
	QueueWaitDuration prometheus.Histogram
	AppendDuration    prometheus.Histogram
	CommitDuration    prometheus.Histogram
	ReplayedRecords   *prometheus.CounterVec
	CurrentSnapshot   prometheus.Gauge
	Ready             prometheus.Gauge
	BarrierDuration   prometheus.Histogram
	BarrierFailures   prometheus.Counter

	// Delivery metrics
	DeliveryAttempts  *prometheus.CounterVec
	DeliveryRetries   *prometheus.CounterVec
	DeliveryAbandoned *prometheus.CounterVec
	DeliveryLatency   prometheus.Histogram

	// Store metrics
	StoreApplies *prometheus.CounterVec

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

var (
	globalRegistry *Registry
	globalOnce     sync.Once
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() {
		globalRegistry = NewRegistry()
	})
	return globalRegistry
}

// Handler returns an HTTP handler for the global registry's /metrics endpoint.
func Handler() http.Handler {
	return Global().Handler()
}

// NewRegistry creates a registry with Go runtime, process and GraphMesh metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	latency := []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5}

	r := &Registry{
		registry: reg,

		IngestRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "ingest", Name: "records_total",
			Help: "Batches durably appended to the WAL.",
		}, []string{"shard"}),
		IngestBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "ingest", Name: "bytes_total",
			Help: "Bytes durably appended to the WAL.",
		}, []string{"shard"}),
		IngestRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "ingest", Name: "rejected_total",
			Help: "Writes rejected or failed, by reason.",
		}, []string{"reason"}),
		AppendRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "ingest", Name: "append_retries_total",
			Help: "WAL appends retried after a transient error.",
		}, []string{"shard"}),
		QueueWaitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace, Subsystem: "ingest", Name: "queue_wait_seconds",
			Help: "Time a write spent in the admission buffer.", Buckets: latency,
		}),
		AppendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace, Subsystem: "ingest", Name: "wal_append_seconds",
			Help: "WAL append latency including retries.", Buckets: latency,
		}),
		CommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace, Subsystem: "ingest", Name: "commit_seconds",
			Help: "Latency from admission to durable commit.", Buckets: latency,
		}),
		ReplayedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "ingest", Name: "replayed_records_total",
			Help: "WAL entries re-delivered during shard start.",
		}, []string{"shard"}),
		CurrentSnapshot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "ingest", Name: "snapshot_current",
			Help: "Snapshot id currently stamped onto accepted writes.",
		}),
		Ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "ingest", Name: "ready",
			Help: "1 when the node accepts writes.",
		}),
		BarrierDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace, Subsystem: "ingest", Name: "barrier_seconds",
			Help: "Snapshot advance barrier duration.", Buckets: latency,
		}),
		BarrierFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "ingest", Name: "barrier_failures_total",
			Help: "Snapshot advances whose marker did not land on every shard.",
		}),

		DeliveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "delivery", Name: "attempts_total",
			Help: "Apply calls sent to stores.",
		}, []string{"store"}),
		DeliveryRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "delivery", Name: "retries_total",
			Help: "Apply calls that failed and were rescheduled.",
		}, []string{"store"}),
		DeliveryAbandoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "delivery", Name: "abandoned_total",
			Help: "Deliveries abandoned because their shard stopped.",
		}, []string{"shard"}),
		DeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace, Subsystem: "delivery", Name: "latency_seconds",
			Help:    "Time from hand-off to acknowledgment by every store.",
			Buckets: prometheus.ExponentialBuckets(.001, 4, 10),
		}),

		StoreApplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "store", Name: "applies_total",
			Help: "Apply requests handled by the store, by result.",
		}, []string{"result"}),

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "requests_total",
			Help: "RPC requests served.",
		}, []string{"procedure", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace, Name: "request_duration_seconds",
			Help: "RPC request latency.", Buckets: latency,
		}, []string{"procedure"}),
	}

	reg.MustRegister(
		r.IngestRecords, r.IngestBytes, r.IngestRejected, r.AppendRetries,
		r.QueueWaitDuration, r.AppendDuration, r.CommitDuration, r.ReplayedRecords,
		r.CurrentSnapshot, r.Ready, r.BarrierDuration, r.BarrierFailures,
		r.DeliveryAttempts, r.DeliveryRetries, r.DeliveryAbandoned, r.DeliveryLatency,
		r.StoreApplies, r.RequestsTotal, r.RequestDuration,
	)
	return r
}

// Registerer exposes the underlying registry for extra collectors.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// Handler returns an HTTP handler serving this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func shardLabel(shardID int32) string {
	return strconv.Itoa(int(shardID))
}

// RecordAccepted records one durably appended batch.
func (r *Registry) RecordAccepted(shardID int32, bytes int, queueWait, appendTime, commit time.Duration) {
	if r == nil {
		return
	}
	shard := shardLabel(shardID)
	r.IngestRecords.WithLabelValues(shard).Inc()
	r.IngestBytes.WithLabelValues(shard).Add(float64(bytes))
	r.QueueWaitDuration.Observe(queueWait.Seconds())
	r.AppendDuration.Observe(appendTime.Seconds())
	r.CommitDuration.Observe(commit.Seconds())
}

// RecordRejected records a write that was refused or failed.
func (r *Registry) RecordRejected(reason string) {
	if r == nil {
		return
	}
	r.IngestRejected.WithLabelValues(reason).Inc()
}

// RecordAppendRetry records a WAL append retried after a transient error.
func (r *Registry) RecordAppendRetry(shardID int32) {
	if r == nil {
		return
	}
	r.AppendRetries.WithLabelValues(shardLabel(shardID)).Inc()
}

// RecordReplayed records n entries re-delivered during a shard start.
func (r *Registry) RecordReplayed(shardID int32, n int) {
	if r == nil {
		return
	}
	r.ReplayedRecords.WithLabelValues(shardLabel(shardID)).Add(float64(n))
}

// SetSnapshot records the current snapshot id.
func (r *Registry) SetSnapshot(snapshot int64) {
	if r == nil {
		return
	}
	r.CurrentSnapshot.Set(float64(snapshot))
}

// SetReady records the readiness gate state.
func (r *Registry) SetReady(ready bool) {
	if r == nil {
		return
	}
	if ready {
		r.Ready.Set(1)
	} else {
		r.Ready.Set(0)
	}
}

// RecordBarrier records a snapshot advance barrier.
func (r *Registry) RecordBarrier(d time.Duration, err error) {
	if r == nil {
		return
	}
	r.BarrierDuration.Observe(d.Seconds())
	if err != nil {
		r.BarrierFailures.Inc()
	}
}

// RecordDeliveryAttempt records one apply call to a store.
func (r *Registry) RecordDeliveryAttempt(storeID string, failed bool) {
	if r == nil {
		return
	}
	r.DeliveryAttempts.WithLabelValues(storeID).Inc()
	if failed {
		r.DeliveryRetries.WithLabelValues(storeID).Inc()
	}
}

// RecordDelivered records an entry acknowledged by every store.
func (r *Registry) RecordDelivered(d time.Duration) {
	if r == nil {
		return
	}
	r.DeliveryLatency.Observe(d.Seconds())
}

// RecordDeliveryAbandoned records a delivery dropped on shard stop.
func (r *Registry) RecordDeliveryAbandoned(shardID int32) {
	if r == nil {
		return
	}
	r.DeliveryAbandoned.WithLabelValues(shardLabel(shardID)).Inc()
}

// RecordStoreApply records the outcome of one store apply request.
func (r *Registry) RecordStoreApply(result string) {
	if r == nil {
		return
	}
	r.StoreApplies.WithLabelValues(result).Inc()
}

// RecordRequest records one served RPC.
func (r *Registry) RecordRequest(procedure, code string, d time.Duration) {
	if r == nil {
		return
	}
	r.RequestsTotal.WithLabelValues(procedure, code).Inc()
	r.RequestDuration.WithLabelValues(procedure).Observe(d.Seconds())
}
