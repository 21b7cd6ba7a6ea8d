package service

import (
	"net"

	"github.com/labstack/echo/v4"

	api "github.com/plategate/plategate/internal/api/v1"
	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/datastore"
	"github.com/plategate/plategate/internal/edgecache"
	"github.com/plategate/plategate/internal/edgesync"
	"github.com/plategate/plategate/internal/errors"
	"github.com/plategate/plategate/internal/gate"
	"github.com/plategate/plategate/internal/mqtt"
	"github.com/plategate/plategate/internal/observability"
	"github.com/plategate/plategate/internal/pipeline"
	"github.com/plategate/plategate/internal/report"
)

// RunEdge runs the edge device process: the durable rule cache, the sync and
// heartbeat loops against the cloud, the decision pipeline with gate
// actuation, the offline report queue, the optional MQTT transport and the
// local HTTP API. It blocks until SIGINT/SIGTERM or a listener failure.
func RunEdge(settings *conf.Settings) error {
	logger, closeLog := serviceLogger("edge", settings.Debug || settings.Edge.Debug, &settings.Edge.Log)
	defer func() { _ = closeLog() }()

	if err := validateEdgeSettings(settings); err != nil {
		return err
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return errors.New(err).
			Component("service").
			Category(errors.CategoryConfiguration).
			Context("operation", "init_metrics").
			Build()
	}

	ds := datastore.NewCacheStore(settings)
	if err := ds.Open(); err != nil {
		return err
	}
	defer closeDataStore(logger, ds)

	// A corrupt or missing stored snapshot is not fatal: the device starts
	// unsynced and the first successful sync repopulates it.
	ruleCache := edgecache.New(ds)
	if err := ruleCache.Load(); err != nil {
		logger.Warn("stored snapshot unusable, starting unsynced", "error", err)
	} else if info, ok := ruleCache.Info(); ok {
		logger.Info("rule snapshot restored from cache",
			"version", info.Version,
			"rules", info.RuleCount,
			"synced_at", info.SyncedAt)
	}

	client := edgesync.NewCloudClient(settings)
	defer client.Close()

	runner := edgesync.NewRunner(client, ruleCache, settings)
	runner.SetMetrics(metrics.Sync)

	gateCtl := gate.NewClient(settings)
	gateCtl.SetMetrics(metrics.Gate)
	defer gateCtl.Close()

	pipe := pipeline.New(settings, ruleCache, ds, gateCtl)
	pipe.SetMetrics(metrics.Decision)

	reports := report.New(client, settings)
	reports.SetMetrics(metrics.Report)
	pipe.SetReporter(reports)

	var transport *mqtt.Transport
	if settings.Edge.MQTT.Enabled {
		mqttClient, err := mqtt.NewClient(settings, metrics.MQTT)
		if err != nil {
			return err
		}
		transport = mqtt.NewTransport(settings, mqttClient, pipe)
		pipe.SetPublisher(transport)
	}

	ctx, stop := signalContext()
	defer stop()

	pipe.Start(ctx)
	reports.Start(ctx)
	runner.Start(ctx)

	heartbeater := edgesync.NewHeartbeater(client, ruleCache, runner, settings)
	heartbeater.Start(ctx)

	if transport != nil {
		// Broker outages are survivable: detections still arrive over the
		// local API and the client reconnects on its own.
		if err := transport.Start(ctx); err != nil {
			logger.Warn("mqtt transport unavailable, continuing without it", "error", err)
		}
		defer transport.Stop()
	}

	e := echo.New()
	e.HideBanner = true
	controller := api.NewEdge(e, settings, ruleCache, runner, pipe, reports, gateCtl, metrics)
	defer controller.Shutdown()

	addr := net.JoinHostPort(settings.Edge.Host, settings.Edge.Port)
	logger.Info("edge service listening",
		"addr", addr,
		"device_id", settings.Edge.DeviceID,
		"property_id", settings.Edge.PropertyID,
		"cloud_url", settings.Edge.CloudURL,
		"gate_enabled", settings.Edge.Gate.Enabled,
		"mqtt_enabled", settings.Edge.MQTT.Enabled)

	var serveFailure error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-startHTTP(e, addr):
		serveFailure = err
	}
	stop()

	stopHTTP(logger, e)

	// Drain in dependency order: no new decisions, then the final report
	// flush, then the heartbeat loop. The datastore closes last, via defer.
	pipe.Wait()
	reports.Wait()
	heartbeater.Wait()

	if serveFailure != nil {
		return errors.New(serveFailure).
			Component("service").
			Category(errors.CategoryNetwork).
			Context("operation", "serve_edge_api").
			Context("addr", addr).
			Build()
	}
	logger.Info("edge service stopped")
	return nil
}

// validateEdgeSettings rejects a start without the identifiers every sync
// and report call needs.
func validateEdgeSettings(settings *conf.Settings) error {
	missing := ""
	switch {
	case settings.Edge.DeviceID == "":
		missing = "edge.deviceid"
	case settings.Edge.PropertyID == "":
		missing = "edge.propertyid"
	case settings.Edge.CloudURL == "":
		missing = "edge.cloudurl"
	}
	if missing == "" {
		return nil
	}
	return errors.Newf("required setting %s is empty", missing).
		Component("service").
		Category(errors.CategoryValidation).
		Context("setting", missing).
		Build()
}
