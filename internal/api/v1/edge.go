// internal/api/v1/edge.go
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/decision"
	"github.com/plategate/plategate/internal/edgecache"
	"github.com/plategate/plategate/internal/edgesync"
	"github.com/plategate/plategate/internal/observability"
	"github.com/plategate/plategate/internal/pipeline"
	"github.com/plategate/plategate/internal/report"
)

// GateProber is what the health endpoint needs from the gate controller.
// A disabled controller answers its own status without network I/O.
type GateProber interface {
	Status(ctx context.Context) (map[string]any, error)
}

// EdgeController serves the edge device's local API: detection ingress,
// health, manual sync and gate control. It is loopback-oriented and carries
// no authentication of its own.
type EdgeController struct {
	Echo     *echo.Echo
	Group    *echo.Group
	Settings *conf.Settings
	Cache    *edgecache.Cache
	Sync     *edgesync.Runner
	Pipeline *pipeline.Pipeline
	Reports  *report.Queue
	Gate     GateProber

	metrics        *observability.Metrics
	apiLogger      *slog.Logger
	apiLoggerClose func() error
	startTime      time.Time
}

// NewEdge creates the edge API controller and registers its routes on the
// given echo instance.
func NewEdge(e *echo.Echo, settings *conf.Settings, cache *edgecache.Cache,
	runner *edgesync.Runner, pipe *pipeline.Pipeline, reports *report.Queue,
	gateCtl GateProber, metrics *observability.Metrics) *EdgeController {

	c := &EdgeController{
		Echo:      e,
		Settings:  settings,
		Cache:     cache,
		Sync:      runner,
		Pipeline:  pipe,
		Reports:   reports,
		Gate:      gateCtl,
		metrics:   metrics,
		startTime: time.Now(),
	}
	c.apiLogger, c.apiLoggerClose = newRequestLogger()

	c.Group = e.Group("/api/v1")
	c.Group.Use(middleware.Recover())
	c.Group.Use(middleware.BodyLimit("1M"))
	c.Group.Use(requestLoggingMiddleware(c.apiLogger))

	c.initRoutes()
	return c
}

// initRoutes registers all edge API endpoints.
func (c *EdgeController) initRoutes() {
	c.Group.POST("/webhook/plate", c.PostDetection)
	c.Group.GET("/health", c.Health)
	c.Group.POST("/sync/trigger", c.TriggerSync)
	c.Group.GET("/plates/check/:plate", c.CheckPlate)
	c.Group.GET("/plates/count", c.PlateCount)
	c.Group.POST("/gate/open", c.OpenGate)

	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// HandleError logs the failure and writes the JSON error response.
func (c *EdgeController) HandleError(ctx echo.Context, err error, message string, code int) error {
	return handleError(ctx, c.apiLogger, err, message, code)
}

// DetectionResponse is the decision returned to a detection webhook caller.
// Duplicate deliveries get the originally produced record back.
type DetectionResponse struct {
	decision.Record
	Duplicate bool `json:"duplicate,omitempty"`
}

// PostDetection accepts one plate detection and answers with the decision
// record. Unreadable plates and low-confidence reads still produce a
// record; only a malformed request is rejected.
func (c *EdgeController) PostDetection(ctx echo.Context) error {
	var det pipeline.Detection
	if err := ctx.Bind(&det); err != nil {
		return c.HandleError(ctx, err, "invalid detection payload", http.StatusBadRequest)
	}
	if det.Confidence < 0 || det.Confidence > 100 {
		return c.HandleError(ctx, nil, "confidence must be between 0 and 100", http.StatusBadRequest)
	}

	rec, duplicate := c.Pipeline.Process(&det, decision.SourceWebhook)
	return ctx.JSON(http.StatusOK, DetectionResponse{Record: rec, Duplicate: duplicate})
}

// EdgeHealthResponse summarizes the device for its local health endpoint.
type EdgeHealthResponse struct {
	Status             string          `json:"status"`
	DeviceID           string          `json:"device_id"`
	PropertyID         string          `json:"property_id"`
	Synced             bool            `json:"synced"`
	Cache              *edgecache.Info `json:"cache,omitempty"`
	CacheAgeSeconds    float64         `json:"cache_age_seconds,omitempty"`
	Stale              bool            `json:"stale"`
	Sync               edgesync.Status `json:"sync"`
	PipelineQueueDepth int             `json:"pipeline_queue_depth"`
	ReportQueueDepth   int             `json:"report_queue_depth"`
	Gate               map[string]any  `json:"gate,omitempty"`
	UptimeSeconds      float64         `json:"uptime_seconds"`
	Version            string          `json:"version,omitempty"`
}

// Health reports the cache, sync and queue state of the device.
func (c *EdgeController) Health(ctx echo.Context) error {
	now := time.Now()
	ceiling := time.Duration(c.Settings.Edge.Cache.StalenessHours) * time.Hour

	resp := EdgeHealthResponse{
		Status:        "waiting for first sync",
		DeviceID:      c.Settings.Edge.DeviceID,
		PropertyID:    c.Settings.Edge.PropertyID,
		UptimeSeconds: now.Sub(c.startTime).Seconds(),
		Version:       c.Settings.Version,
	}

	if info, ok := c.Cache.Info(); ok {
		resp.Synced = true
		resp.Cache = &info
		resp.CacheAgeSeconds = now.Sub(info.SyncedAt).Seconds()
		resp.Stale = c.Cache.IsStale(now, ceiling)
		if resp.Stale {
			resp.Status = "degraded"
		} else {
			resp.Status = "healthy"
		}
	}

	if c.Sync != nil {
		resp.Sync = c.Sync.Status()
	}
	if c.Pipeline != nil {
		resp.PipelineQueueDepth = c.Pipeline.QueueDepth()
	}
	if c.Reports != nil {
		resp.ReportQueueDepth = c.Reports.Depth()
	}

	// An unreachable gate controller means granted vehicles stay outside,
	// which the device cannot fix by syncing.
	if c.Gate != nil {
		if status, err := c.Gate.Status(ctx.Request().Context()); err != nil {
			c.apiLogger.Warn("gate status probe failed", "error", err)
			resp.Gate = map[string]any{"status": "unreachable"}
			resp.Status = "degraded"
		} else {
			resp.Gate = status
		}
	}

	return ctx.JSON(http.StatusOK, resp)
}

// TriggerSync requests an immediate sync cycle. The cycle runs on the sync
// loop, a trigger arriving while one is pending folds into it.
func (c *EdgeController) TriggerSync(ctx echo.Context) error {
	if c.Sync == nil {
		return c.HandleError(ctx, nil, "sync is not running", http.StatusServiceUnavailable)
	}
	c.Sync.TriggerNow()
	return ctx.JSON(http.StatusAccepted, map[string]string{"status": "sync triggered"})
}

// CheckPlate runs a dry-run evaluation against the cached snapshot. No
// record is written and nothing is actuated.
func (c *EdgeController) CheckPlate(ctx echo.Context) error {
	plate := ctx.Param("plate")
	confidence, ok := parseConfidence(ctx.QueryParam("confidence"))
	if !ok {
		return c.HandleError(ctx, nil, "confidence must be between 0 and 100", http.StatusBadRequest)
	}

	result := c.Pipeline.Check(plate, confidence)
	return ctx.JSON(http.StatusOK, newCheckResponse(plate, result))
}

// PlateCount reports how many rules the cached snapshot holds.
func (c *EdgeController) PlateCount(ctx echo.Context) error {
	info, ok := c.Cache.Info()
	return ctx.JSON(http.StatusOK, map[string]any{
		"count":   info.RuleCount,
		"version": info.Version,
		"synced":  ok,
	})
}

// GateOpenRequest is the body of a manual gate open.
type GateOpenRequest struct {
	Reason string `json:"reason"`
}

// OpenGate actuates the gate without a detection. The open is audited as a
// granted decision record like any other.
func (c *EdgeController) OpenGate(ctx echo.Context) error {
	var req GateOpenRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid gate open payload", http.StatusBadRequest)
	}

	rec := c.Pipeline.ManualOpen(req.Reason)
	return ctx.JSON(http.StatusOK, rec)
}

// Shutdown releases the controller's resources.
func (c *EdgeController) Shutdown() {
	if c.apiLoggerClose != nil {
		if err := c.apiLoggerClose(); err != nil {
			c.apiLogger.Warn("closing API log file failed", "error", err)
		}
	}
}
