// internal/api/v1/devices.go
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/plategate/plategate/internal/datastore"
	"github.com/plategate/plategate/internal/errors"
	"github.com/plategate/plategate/internal/health"
)

// initDeviceRoutes registers heartbeat ingestion and device state queries.
func (c *CloudController) initDeviceRoutes() {
	c.Group.POST("/devices/:deviceID/heartbeat", c.PostHeartbeat, c.APIKeyMiddleware())
	c.Group.GET("/devices", c.ListDevices)
	c.Group.GET("/devices/:deviceID", c.GetDevice)
}

// DeviceResponse is the wire form of a tracked device state.
type DeviceResponse struct {
	DeviceID        string    `json:"device_id"`
	PropertyID      string    `json:"property_id"`
	Status          string    `json:"status"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	LastError       string    `json:"last_error,omitempty"`
	SnapshotVersion uint64    `json:"snapshot_version"`
	Fingerprint     string    `json:"fingerprint,omitempty"`
}

func newDeviceResponse(state *datastore.DeviceState) DeviceResponse {
	return DeviceResponse{
		DeviceID:        state.DeviceID,
		PropertyID:      state.PropertyID,
		Status:          state.Status,
		LastSeenAt:      state.LastSeenAt,
		LastError:       state.LastError,
		SnapshotVersion: state.SnapshotVersion,
		Fingerprint:     state.Fingerprint,
	}
}

// PostHeartbeat records a device status report. The device identifier comes
// from the path, anything a body claims is overridden.
func (c *CloudController) PostHeartbeat(ctx echo.Context) error {
	var beat health.Beat
	if err := ctx.Bind(&beat); err != nil {
		return c.HandleError(ctx, err, "invalid heartbeat payload", http.StatusBadRequest)
	}
	beat.DeviceID = ctx.Param("deviceID")

	state, err := c.Health.RecordHeartbeat(&beat)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.IsCategory(err, errors.CategoryValidation) {
			code = http.StatusBadRequest
		}
		return c.HandleError(ctx, err, "failed to record heartbeat", code)
	}
	return ctx.JSON(http.StatusOK, newDeviceResponse(&state))
}

// ListDevices returns tracked device states, optionally scoped to a
// property via the property_id query parameter.
func (c *CloudController) ListDevices(ctx echo.Context) error {
	states, err := c.Health.Devices(ctx.QueryParam("property_id"))
	if err != nil {
		return c.HandleError(ctx, err, "failed to list devices", http.StatusInternalServerError)
	}

	devices := make([]DeviceResponse, 0, len(states))
	for i := range states {
		devices = append(devices, newDeviceResponse(&states[i]))
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// GetDevice returns the tracked state of one device.
func (c *CloudController) GetDevice(ctx echo.Context) error {
	state, err := c.Health.Device(ctx.Param("deviceID"))
	if err != nil {
		return c.HandleError(ctx, err, "device not found", http.StatusNotFound)
	}
	return ctx.JSON(http.StatusOK, newDeviceResponse(&state))
}
