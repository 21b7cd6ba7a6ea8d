// gate.go: Prometheus metrics for gate actuation
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// GateMetrics contains all Prometheus metrics related to gate actuation.
type GateMetrics struct {
	Actuations        *prometheus.CounterVec
	Retries           prometheus.Counter
	ActuationDuration prometheus.Histogram
	registry          *prometheus.Registry
}

// NewGateMetrics creates a new instance of GateMetrics.
func NewGateMetrics(registry *prometheus.Registry) (*GateMetrics, error) {
	m := &GateMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize gate metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register gate metrics: %w", err)
	}
	return m, nil
}

func (m *GateMetrics) initMetrics() error {
	m.Actuations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_actuations_total",
		Help: "Total number of gate actuation attempts by result",
	}, []string{"result"})

	m.Retries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gate_actuation_retries_total",
		Help: "Total number of gate actuation retries",
	})

	m.ActuationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gate_actuation_duration_seconds",
		Help:    "Duration of gate actuation requests in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	return nil
}

// RecordActuation counts one actuation attempt by result (success or failure).
func (m *GateMetrics) RecordActuation(result string) {
	m.Actuations.WithLabelValues(result).Inc()
}

// IncrementRetries counts a retried actuation request.
func (m *GateMetrics) IncrementRetries() {
	m.Retries.Inc()
}

// ObserveActuationDuration records how long an actuation request took.
func (m *GateMetrics) ObserveActuationDuration(seconds float64) {
	m.ActuationDuration.Observe(seconds)
}

// Collect implements the prometheus.Collector interface.
func (m *GateMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Actuations.Collect(ch)
	ch <- m.Retries
	ch <- m.ActuationDuration
}

// Describe implements the prometheus.Collector interface.
func (m *GateMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Actuations.Describe(ch)
	ch <- m.Retries.Desc()
	ch <- m.ActuationDuration.Desc()
}
