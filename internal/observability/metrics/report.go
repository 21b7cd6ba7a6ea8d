// report.go: Prometheus metrics for the edge event reporter
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ReportMetrics contains all Prometheus metrics related to event reporting
// from edge to cloud.
type ReportMetrics struct {
	QueueDepth    prometheus.Gauge
	Flushed       prometheus.Counter
	Dropped       prometheus.Counter
	FlushFailures prometheus.Counter
	registry      *prometheus.Registry
}

// NewReportMetrics creates a new instance of ReportMetrics.
func NewReportMetrics(registry *prometheus.Registry) (*ReportMetrics, error) {
	m := &ReportMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize report metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register report metrics: %w", err)
	}
	return m, nil
}

func (m *ReportMetrics) initMetrics() error {
	m.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "report_queue_depth",
		Help: "Current number of decision events queued for reporting",
	})

	m.Flushed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_events_flushed_total",
		Help: "Total number of decision events delivered to the cloud",
	})

	m.Dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_events_dropped_total",
		Help: "Total number of decision events dropped from a full queue",
	})

	m.FlushFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_flush_failures_total",
		Help: "Total number of failed flush attempts",
	})

	return nil
}

// SetQueueDepth reports the current report queue depth.
func (m *ReportMetrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// AddFlushed counts events delivered to the cloud.
func (m *ReportMetrics) AddFlushed(count int) {
	m.Flushed.Add(float64(count))
}

// IncrementDropped counts an event dropped from a full queue.
func (m *ReportMetrics) IncrementDropped() {
	m.Dropped.Inc()
}

// IncrementFlushFailures counts a failed flush attempt.
func (m *ReportMetrics) IncrementFlushFailures() {
	m.FlushFailures.Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *ReportMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.QueueDepth
	ch <- m.Flushed
	ch <- m.Dropped
	ch <- m.FlushFailures
}

// Describe implements the prometheus.Collector interface.
func (m *ReportMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.QueueDepth.Desc()
	ch <- m.Flushed.Desc()
	ch <- m.Dropped.Desc()
	ch <- m.FlushFailures.Desc()
}
