package service

import (
	"net"

	"github.com/labstack/echo/v4"

	api "github.com/plategate/plategate/internal/api/v1"
	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/datastore"
	"github.com/plategate/plategate/internal/errors"
	"github.com/plategate/plategate/internal/health"
	"github.com/plategate/plategate/internal/observability"
	"github.com/plategate/plategate/internal/rulestore"
)

// RunCloud runs the cloud control plane: the canonical rule store, versioned
// snapshot publishing, event intake and device health tracking, all behind
// one HTTP API. It blocks until SIGINT/SIGTERM or a listener failure.
func RunCloud(settings *conf.Settings) error {
	logger, closeLog := serviceLogger("cloud", settings.Debug || settings.Cloud.Debug, &settings.Cloud.Log)
	defer func() { _ = closeLog() }()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return errors.New(err).
			Component("service").
			Category(errors.CategoryConfiguration).
			Context("operation", "init_metrics").
			Build()
	}

	ds := datastore.New(settings)
	if err := ds.Open(); err != nil {
		return err
	}
	defer closeDataStore(logger, ds)

	ruleStore := rulestore.New(ds)

	// Snapshot metadata can drift from the rule rows if a previous process
	// died between a rule write and the republish. Repair before serving.
	if repaired, err := ruleStore.Reconcile(); err != nil {
		logger.Warn("snapshot reconcile failed, serving stored snapshots as-is", "error", err)
	} else if repaired > 0 {
		logger.Info("republished stale property snapshots", "properties", repaired)
	}

	tracker := health.NewTracker(ds, settings)
	tracker.SetMetrics(metrics.Health)

	ctx, stop := signalContext()
	defer stop()

	tracker.Start(ctx)

	e := echo.New()
	e.HideBanner = true
	controller := api.NewCloud(e, ds, settings, ruleStore, tracker, metrics)
	defer controller.Shutdown()

	addr := net.JoinHostPort(settings.Cloud.Host, settings.Cloud.Port)
	logger.Info("cloud service listening",
		"addr", addr,
		"version", settings.Version,
		"auth_enabled", settings.Cloud.APIKey != "")

	var serveFailure error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-startHTTP(e, addr):
		serveFailure = err
	}
	stop()

	stopHTTP(logger, e)

	if serveFailure != nil {
		return errors.New(serveFailure).
			Component("service").
			Category(errors.CategoryNetwork).
			Context("operation", "serve_cloud_api").
			Context("addr", addr).
			Build()
	}
	logger.Info("cloud service stopped")
	return nil
}
