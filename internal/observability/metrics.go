// Package observability provides Prometheus metrics for the plategate
// services. Sentry-related error telemetry is handled in the telemetry
// package.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/plategate/plategate/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application. Cloud and
// edge processes register the same set, collectors for the roles a process
// does not play simply stay at zero.
type Metrics struct {
	registry *prometheus.Registry
	Decision *metrics.DecisionMetrics
	Sync     *metrics.SyncMetrics
	MQTT     *metrics.MQTTMetrics
	Gate     *metrics.GateMetrics
	Health   *metrics.HealthMetrics
	Report   *metrics.ReportMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric
// collectors. It returns an error if any metric collector fails to register.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	decisionMetrics, err := metrics.NewDecisionMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision metrics: %w", err)
	}

	syncMetrics, err := metrics.NewSyncMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	gateMetrics, err := metrics.NewGateMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create gate metrics: %w", err)
	}

	healthMetrics, err := metrics.NewHealthMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create health metrics: %w", err)
	}

	reportMetrics, err := metrics.NewReportMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create report metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Decision: decisionMetrics,
		Sync:     syncMetrics,
		MQTT:     mqttMetrics,
		Gate:     gateMetrics,
		Health:   healthMetrics,
		Report:   reportMetrics,
	}, nil
}

// Handler returns the HTTP handler serving the /metrics endpoint. It is
// mounted on the echo servers of both the cloud and edge processes.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// RegisterHandlers registers the metrics endpoint with the provided mux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", m.Handler())
}
