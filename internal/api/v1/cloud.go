// internal/api/v1/cloud.go
package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	gocache "github.com/patrickmn/go-cache"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/datastore"
	"github.com/plategate/plategate/internal/health"
	"github.com/plategate/plategate/internal/observability"
	"github.com/plategate/plategate/internal/rulestore"
)

// ingestDedupTTL covers re-deliveries from report-queue retries. The
// database unique index stays the durable guard across restarts; this
// filter just keeps the hot duplicates off it.
const ingestDedupTTL = 30 * time.Minute

// CloudController serves the cloud API: the sync endpoints edges poll, the
// rule administration boundary, heartbeat ingestion and the decision event
// audit queries.
type CloudController struct {
	Echo     *echo.Echo
	Group    *echo.Group
	DS       datastore.Interface
	Settings *conf.Settings
	Rules    *rulestore.Store
	Health   *health.Tracker

	metrics        *observability.Metrics
	apiLogger      *slog.Logger
	apiLoggerClose func() error
	ingestSeen     *gocache.Cache
	startTime      time.Time
}

// NewCloud creates the cloud API controller and registers its routes on the
// given echo instance.
func NewCloud(e *echo.Echo, ds datastore.Interface, settings *conf.Settings,
	ruleStore *rulestore.Store, tracker *health.Tracker,
	metrics *observability.Metrics) *CloudController {

	c := &CloudController{
		Echo:       e,
		DS:         ds,
		Settings:   settings,
		Rules:      ruleStore,
		Health:     tracker,
		metrics:    metrics,
		ingestSeen: gocache.New(ingestDedupTTL, 2*ingestDedupTTL),
		startTime:  time.Now(),
	}
	c.apiLogger, c.apiLoggerClose = newRequestLogger()

	c.Group = e.Group("/api/v1")
	c.Group.Use(middleware.Recover())
	c.Group.Use(middleware.CORS())
	c.Group.Use(middleware.BodyLimit("1M"))
	c.Group.Use(requestLoggingMiddleware(c.apiLogger))

	c.initRoutes()
	return c
}

// initRoutes registers all cloud API endpoints.
func (c *CloudController) initRoutes() {
	routeInitializers := []struct {
		name string
		fn   func()
	}{
		{"sync routes", c.initSyncRoutes},
		{"device routes", c.initDeviceRoutes},
		{"rule routes", c.initRuleRoutes},
		{"event routes", c.initEventRoutes},
	}

	for _, initializer := range routeInitializers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.apiLogger.Error("route initialization panicked",
						"routes", initializer.name, "panic", r)
				}
			}()
			initializer.fn()
		}()
	}

	c.Echo.GET("/healthz", c.Healthz)
	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// APIKeyMiddleware guards the sync and mutating routes. Requests must carry
// the configured key in X-API-Key. An empty configured key disables the
// check, which is only sensible for local development.
func (c *CloudController) APIKeyMiddleware() echo.MiddlewareFunc {
	key := c.Settings.Cloud.APIKey
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if key == "" {
				return next(ctx)
			}
			provided := ctx.Request().Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				return ctx.JSON(http.StatusUnauthorized, map[string]string{
					"error": "missing or invalid API key",
				})
			}
			return next(ctx)
		}
	}
}

// HandleError logs the failure and writes the JSON error response.
func (c *CloudController) HandleError(ctx echo.Context, err error, message string, code int) error {
	return handleError(ctx, c.apiLogger, err, message, code)
}

// Healthz reports process liveness and database reachability.
func (c *CloudController) Healthz(ctx echo.Context) error {
	response := map[string]any{
		"status":         "healthy",
		"version":        c.Settings.Version,
		"timestamp":      time.Now().Format(time.RFC3339),
		"uptime_seconds": time.Since(c.startTime).Seconds(),
	}

	if _, err := c.DS.GetProperties(); err != nil {
		response["status"] = "degraded"
		response["database_status"] = "disconnected"
		response["database_error"] = err.Error()
	} else {
		response["database_status"] = "connected"
	}

	return ctx.JSON(http.StatusOK, response)
}

// Shutdown releases the controller's resources.
func (c *CloudController) Shutdown() {
	if c.apiLoggerClose != nil {
		if err := c.apiLoggerClose(); err != nil {
			c.apiLogger.Warn("closing API log file failed", "error", err)
		}
	}
}
