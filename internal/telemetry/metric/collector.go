package metric

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// ShardStat is a point-in-time view of one shard processor.
type ShardStat struct {
	ShardID    int32
	QueueDepth int
	LastOffset int64
	Running    bool
}

// StatsSource reports shard statistics at scrape time.
type StatsSource interface {
	ShardStats() []ShardStat
}

// Collector exports StatsSource values as gauges.
type Collector struct {
	source StatsSource

	queueDepth *prometheus.Desc
	lastOffset *prometheus.Desc
	running    *prometheus.Desc
}

// NewCollector creates a collector reading from source.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "shard", "queue_depth"),
			"Tasks waiting in the admission buffer.",
			[]string{"shard"}, nil),
		lastOffset: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "shard", "last_offset"),
			"Last WAL offset written by the shard.",
			[]string{"shard"}, nil),
		running: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "shard", "running"),
			"1 when the shard processor is accepting writes.",
			[]string{"shard"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepth
	ch <- c.lastOffset
	ch <- c.running
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.source.ShardStats() {
		shard := strconv.Itoa(int(s.ShardID))
		running := 0.0
		if s.Running {
			running = 1
		}
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(s.QueueDepth), shard)
		ch <- prometheus.MustNewConstMetric(c.lastOffset, prometheus.GaugeValue, float64(s.LastOffset), shard)
		ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, running, shard)
	}
}
