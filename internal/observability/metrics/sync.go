// sync.go: Prometheus metrics for the edge sync protocol
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics contains all Prometheus metrics related to rule cache
// synchronization.
type SyncMetrics struct {
	Attempts         prometheus.Counter
	Failures         *prometheus.CounterVec
	SnapshotsAdopted prometheus.Counter
	HeldVersion      prometheus.Gauge
	RulesCached      prometheus.Gauge
	LastSyncTime     prometheus.Gauge
	SyncDuration     prometheus.Histogram
	registry         *prometheus.Registry
}

// NewSyncMetrics creates a new instance of SyncMetrics.
func NewSyncMetrics(registry *prometheus.Registry) (*SyncMetrics, error) {
	m := &SyncMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize sync metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register sync metrics: %w", err)
	}
	return m, nil
}

func (m *SyncMetrics) initMetrics() error {
	m.Attempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_attempts_total",
		Help: "Total number of sync cycles started",
	})

	m.Failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_failures_total",
		Help: "Total number of sync failures by stage",
	}, []string{"stage"})

	m.SnapshotsAdopted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_snapshots_adopted_total",
		Help: "Total number of rule snapshots adopted",
	})

	m.HeldVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sync_held_snapshot_version",
		Help: "Version of the currently held rule snapshot",
	})

	m.RulesCached = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sync_rules_cached",
		Help: "Number of rules in the local cache",
	})

	m.LastSyncTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sync_last_success_time_seconds",
		Help: "Timestamp of the last successful sync cycle",
	})

	m.SyncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_duration_seconds",
		Help:    "Duration of sync cycles in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	return nil
}

// IncrementAttempts counts a started sync cycle.
func (m *SyncMetrics) IncrementAttempts() {
	m.Attempts.Inc()
}

// RecordFailure counts a sync failure at the given stage (probe, fetch,
// validate or adopt).
func (m *SyncMetrics) RecordFailure(stage string) {
	m.Failures.WithLabelValues(stage).Inc()
}

// RecordAdoption updates the gauges after a snapshot was adopted.
func (m *SyncMetrics) RecordAdoption(version uint64, ruleCount int) {
	m.SnapshotsAdopted.Inc()
	m.HeldVersion.Set(float64(version))
	m.RulesCached.Set(float64(ruleCount))
}

// RecordSuccess marks a completed sync cycle.
func (m *SyncMetrics) RecordSuccess(durationSeconds float64) {
	m.LastSyncTime.SetToCurrentTime()
	m.SyncDuration.Observe(durationSeconds)
}

// Collect implements the prometheus.Collector interface.
func (m *SyncMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.Attempts
	m.Failures.Collect(ch)
	ch <- m.SnapshotsAdopted
	ch <- m.HeldVersion
	ch <- m.RulesCached
	ch <- m.LastSyncTime
	ch <- m.SyncDuration
}

// Describe implements the prometheus.Collector interface.
func (m *SyncMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.Attempts.Desc()
	m.Failures.Describe(ch)
	ch <- m.SnapshotsAdopted.Desc()
	ch <- m.HeldVersion.Desc()
	ch <- m.RulesCached.Desc()
	ch <- m.LastSyncTime.Desc()
	ch <- m.SyncDuration.Desc()
}
