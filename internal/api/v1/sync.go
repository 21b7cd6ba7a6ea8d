// internal/api/v1/sync.go
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// initSyncRoutes registers the endpoints edge devices poll. Both carry the
// API key: the fingerprint probe runs once a minute per device, and rule
// sets are not public data.
func (c *CloudController) initSyncRoutes() {
	syncGroup := c.Group.Group("/sync", c.APIKeyMiddleware())
	syncGroup.GET("/properties/:propertyID/fingerprint", c.GetFingerprint)
	syncGroup.GET("/properties/:propertyID/snapshot", c.GetSnapshot)
}

// GetFingerprint returns the published snapshot metadata for a property. A
// property without rules answers version 0 with the empty-set fingerprint,
// so a fresh edge can tell "nothing published" from "cloud unreachable".
func (c *CloudController) GetFingerprint(ctx echo.Context) error {
	propertyID := ctx.Param("propertyID")
	if propertyID == "" {
		return c.HandleError(ctx, nil, "property id is required", http.StatusBadRequest)
	}

	info, err := c.Rules.Probe(propertyID)
	if err != nil {
		return c.HandleError(ctx, err, "failed to read snapshot metadata", http.StatusInternalServerError)
	}
	c.touchCaller(ctx, propertyID)
	return ctx.JSON(http.StatusOK, info)
}

// GetSnapshot returns the full published snapshot for a property.
func (c *CloudController) GetSnapshot(ctx echo.Context) error {
	propertyID := ctx.Param("propertyID")
	if propertyID == "" {
		return c.HandleError(ctx, nil, "property id is required", http.StatusBadRequest)
	}

	snapshot, err := c.Rules.Snapshot(propertyID)
	if err != nil {
		return c.HandleError(ctx, err, "failed to build snapshot", http.StatusInternalServerError)
	}
	c.touchCaller(ctx, propertyID)
	return ctx.JSON(http.StatusOK, snapshot)
}

// touchCaller refreshes liveness for the device named in X-Device-ID. Edges
// identify themselves on every sync request; a successful fetch counts as
// contact, so a device with a broken heartbeat loop that still polls rules
// is not swept offline. Failures are logged, never surfaced to the edge.
func (c *CloudController) touchCaller(ctx echo.Context, propertyID string) {
	deviceID := ctx.Request().Header.Get("X-Device-ID")
	if deviceID == "" || c.Health == nil {
		return
	}
	if err := c.Health.TouchDevice(deviceID, propertyID); err != nil {
		c.apiLogger.Warn("device liveness refresh failed",
			"device_id", deviceID, "error", err)
	}
}
