// health.go: Prometheus metrics for the device health tracker
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// HealthMetrics contains all Prometheus metrics related to device health
// tracking on the cloud side.
type HealthMetrics struct {
	DevicesByStatus   *prometheus.GaugeVec
	Heartbeats        prometheus.Counter
	Sweeps            prometheus.Counter
	StatusTransitions *prometheus.CounterVec
	registry          *prometheus.Registry
}

// NewHealthMetrics creates a new instance of HealthMetrics.
func NewHealthMetrics(registry *prometheus.Registry) (*HealthMetrics, error) {
	m := &HealthMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize health metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register health metrics: %w", err)
	}
	return m, nil
}

func (m *HealthMetrics) initMetrics() error {
	m.DevicesByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_devices",
		Help: "Number of tracked devices by status",
	}, []string{"status"})

	m.Heartbeats = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "health_heartbeats_total",
		Help: "Total number of heartbeats received",
	})

	m.Sweeps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "health_sweeps_total",
		Help: "Total number of offline sweeps executed",
	})

	m.StatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "health_status_transitions_total",
		Help: "Total number of device status transitions by target status",
	}, []string{"to"})

	return nil
}

// SetDevicesByStatus reports the current device count for one status.
func (m *HealthMetrics) SetDevicesByStatus(status string, count int) {
	m.DevicesByStatus.WithLabelValues(status).Set(float64(count))
}

// IncrementHeartbeats counts a received heartbeat.
func (m *HealthMetrics) IncrementHeartbeats() {
	m.Heartbeats.Inc()
}

// IncrementSweeps counts an executed offline sweep.
func (m *HealthMetrics) IncrementSweeps() {
	m.Sweeps.Inc()
}

// RecordStatusTransition counts a device transition into the given status.
func (m *HealthMetrics) RecordStatusTransition(to string) {
	m.StatusTransitions.WithLabelValues(to).Inc()
}

// AddStatusTransitions counts several transitions at once, as reported by an
// offline sweep.
func (m *HealthMetrics) AddStatusTransitions(to string, count int64) {
	m.StatusTransitions.WithLabelValues(to).Add(float64(count))
}

// Collect implements the prometheus.Collector interface.
func (m *HealthMetrics) Collect(ch chan<- prometheus.Metric) {
	m.DevicesByStatus.Collect(ch)
	ch <- m.Heartbeats
	ch <- m.Sweeps
	m.StatusTransitions.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *HealthMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.DevicesByStatus.Describe(ch)
	ch <- m.Heartbeats.Desc()
	ch <- m.Sweeps.Desc()
	m.StatusTransitions.Describe(ch)
}
