// Package metrics provides custom Prometheus metrics for the plategate
// components.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DecisionMetrics contains all Prometheus metrics related to the decision
// pipeline.
type DecisionMetrics struct {
	Decisions           *prometheus.CounterVec
	DecisionDuration    prometheus.Histogram
	DuplicateDetections prometheus.Counter
	StaleDecisions      prometheus.Counter
	QueueDepth          prometheus.Gauge
	DroppedActions      prometheus.Counter
	registry            *prometheus.Registry
}

// NewDecisionMetrics creates a new instance of DecisionMetrics.
func NewDecisionMetrics(registry *prometheus.Registry) (*DecisionMetrics, error) {
	m := &DecisionMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize decision metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register decision metrics: %w", err)
	}
	return m, nil
}

func (m *DecisionMetrics) initMetrics() error {
	m.Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "decisions_total",
		Help: "Total number of access decisions by outcome and source",
	}, []string{"outcome", "source"})

	m.DecisionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "decision_duration_seconds",
		Help:    "Time from detection receipt to decision record",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	m.DuplicateDetections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duplicate_detections_total",
		Help: "Total number of detections skipped as duplicate deliveries",
	})

	m.StaleDecisions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stale_decisions_total",
		Help: "Total number of decisions made against a stale rule cache",
	})

	m.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "decision_action_queue_depth",
		Help: "Current number of queued follow-up actions",
	})

	m.DroppedActions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "decision_actions_dropped_total",
		Help: "Total number of follow-up actions dropped due to a full queue",
	})

	return nil
}

// RecordDecision counts one decision by outcome and source.
func (m *DecisionMetrics) RecordDecision(outcome, source string) {
	m.Decisions.WithLabelValues(outcome, source).Inc()
}

// ObserveDecisionDuration records how long a detection took to decide.
func (m *DecisionMetrics) ObserveDecisionDuration(d time.Duration) {
	m.DecisionDuration.Observe(d.Seconds())
}

// IncrementDuplicateDetections counts a skipped duplicate delivery.
func (m *DecisionMetrics) IncrementDuplicateDetections() {
	m.DuplicateDetections.Inc()
}

// IncrementStaleDecisions counts a decision made on a stale cache.
func (m *DecisionMetrics) IncrementStaleDecisions() {
	m.StaleDecisions.Inc()
}

// SetQueueDepth reports the current action queue depth.
func (m *DecisionMetrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// IncrementDroppedActions counts an action dropped on queue overflow.
func (m *DecisionMetrics) IncrementDroppedActions() {
	m.DroppedActions.Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *DecisionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Decisions.Collect(ch)
	ch <- m.DecisionDuration
	ch <- m.DuplicateDetections
	ch <- m.StaleDecisions
	ch <- m.QueueDepth
	ch <- m.DroppedActions
}

// Describe implements the prometheus.Collector interface.
func (m *DecisionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Decisions.Describe(ch)
	ch <- m.DecisionDuration.Desc()
	ch <- m.DuplicateDetections.Desc()
	ch <- m.StaleDecisions.Desc()
	ch <- m.QueueDepth.Desc()
	ch <- m.DroppedActions.Desc()
}
