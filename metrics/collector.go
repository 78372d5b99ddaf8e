package metrics

import "github.com/prometheus/client_golang/prometheus"

// SessionStats gives the collector access to live session state.
type SessionStats interface {
	QueueDepth() int
	IsRunning() bool
	Snapshot() Stats
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	stats SessionStats

	queueDepth     *prometheus.Desc
	running        *prometheus.Desc
	avgLatency     *prometheus.Desc
	realTimeFactor *prometheus.Desc
}

// NewCollector creates a collector over stats. stats may be nil (gauges read 0).
func NewCollector(stats SessionStats) *Collector {
	return &Collector{
		stats: stats,
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_depth"),
			"Frames waiting for the dispatcher.",
			nil, nil,
		),
		running: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "session_running"),
			"1 while a capture session is running.",
			nil, nil,
		),
		avgLatency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "average_latency_ms"),
			"Average result latency over the rolling window.",
			nil, nil,
		),
		realTimeFactor: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "realtime_factor"),
			"Audio duration decoded per second of processing.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepth
	ch <- c.running
	ch <- c.avgLatency
	ch <- c.realTimeFactor
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var (
		depth, running float64
		snap           Stats
	)
	if c.stats != nil {
		depth = float64(c.stats.QueueDepth())
		if c.stats.IsRunning() {
			running = 1
		}
		snap = c.stats.Snapshot()
	}
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, depth)
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, running)
	ch <- prometheus.MustNewConstMetric(c.avgLatency, prometheus.GaugeValue, snap.AverageLatencyMS)
	ch <- prometheus.MustNewConstMetric(c.realTimeFactor, prometheus.GaugeValue, snap.RealTimeFactor)
}
