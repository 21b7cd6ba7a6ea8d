// Package gate sends unlock commands to the gate controller. The controller
// is an external HTTP service; a disabled client logs commands instead of
// sending them so an edge device can run without hardware attached.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/errors"
	"github.com/plategate/plategate/internal/httpclient"
	"github.com/plategate/plategate/internal/logging"
	"github.com/plategate/plategate/internal/observability/metrics"
)

// Retry pacing, doubling between attempts.
const (
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

// Controller triggers the physical gate.
type Controller interface {
	// Open unlocks the gate. The reason is passed through to the controller
	// for its own audit log.
	Open(ctx context.Context, reason string) error
	// Enabled reports whether commands reach a real controller.
	Enabled() bool
}

// OpenRequest is the unlock command sent to the gate controller.
type OpenRequest struct {
	DeviceID        string `json:"device_id"`
	Action          string `json:"action"`
	DurationSeconds int    `json:"duration_seconds"`
	Reason          string `json:"reason"`
}

// Client is the HTTP gate controller client with bounded retries.
type Client struct {
	http          *httpclient.Client
	logger        *slog.Logger
	metrics       *metrics.GateMetrics
	baseURL       string
	apiKey        string
	deviceID      string
	unlockSeconds int
	attempts      int
	enabled       bool
}

// NewClient creates a gate controller client from the edge settings.
func NewClient(settings *conf.Settings) *Client {
	gc := &settings.Edge.Gate
	return &Client{
		http: httpclient.New(&httpclient.Config{
			DefaultTimeout: time.Duration(gc.TimeoutSeconds) * time.Second,
			UserAgent:      "PlateGate-Edge/" + settings.Edge.DeviceID,
		}),
		logger:        logging.ForService("gate"),
		baseURL:       trimTrailingSlash(gc.URL),
		apiKey:        gc.APIKey,
		deviceID:      settings.Edge.DeviceID,
		unlockSeconds: gc.UnlockSeconds,
		attempts:      gc.Attempts,
		enabled:       gc.Enabled && gc.URL != "",
	}
}

// SetMetrics attaches gate metrics.
func (c *Client) SetMetrics(m *metrics.GateMetrics) {
	c.metrics = m
}

// Enabled reports whether unlock commands reach the controller.
func (c *Client) Enabled() bool {
	return c.enabled
}

// Open sends the unlock command, retrying transient failures up to the
// configured attempt count. A disabled client logs the command and reports
// success.
func (c *Client) Open(ctx context.Context, reason string) error {
	if !c.enabled {
		c.logger.Info("gate actuation disabled, logging command only",
			"device_id", c.deviceID,
			"reason", reason)
		if c.metrics != nil {
			c.metrics.RecordActuation("skipped")
		}
		return nil
	}

	payload := &OpenRequest{
		DeviceID:        c.deviceID,
		Action:          "unlock",
		DurationSeconds: c.unlockSeconds,
		Reason:          reason,
	}

	start := time.Now()
	delay := retryBaseDelay

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		lastErr = c.http.PostJSON(ctx, c.baseURL+"/access/trigger", c.headers(), payload, nil)
		if lastErr == nil {
			if c.metrics != nil {
				c.metrics.RecordActuation("success")
				c.metrics.ObserveActuationDuration(time.Since(start).Seconds())
			}
			c.logger.Info("gate opened",
				"device_id", c.deviceID,
				"reason", reason,
				"attempt", attempt)
			return nil
		}

		if attempt == c.attempts {
			break
		}
		if c.metrics != nil {
			c.metrics.IncrementRetries()
		}
		c.logger.Warn("gate actuation attempt failed, retrying",
			"device_id", c.deviceID,
			"attempt", attempt,
			"error", lastErr)

		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
		case <-time.After(delay):
			delay *= 2
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
			continue
		}
		break
	}

	if c.metrics != nil {
		c.metrics.RecordActuation("failure")
	}
	return errors.New(lastErr).
		Component("gate").
		Category(errors.CategoryActuation).
		Context("device_id", c.deviceID).
		Context("attempts", c.attempts).
		Build()
}

// Status queries the controller for the gate's reported state.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	if !c.enabled {
		return map[string]any{"status": "disabled"}, nil
	}

	var status map[string]any
	url := fmt.Sprintf("%s/devices/%s/status", c.baseURL, c.deviceID)
	if err := c.http.GetJSON(ctx, url, c.headers(), &status); err != nil {
		return nil, errors.New(err).
			Component("gate").
			Category(errors.CategoryActuation).
			Context("device_id", c.deviceID).
			Context("operation", "status").
			Build()
	}
	return status, nil
}

// Close releases the underlying HTTP client.
func (c *Client) Close() {
	c.http.Close()
}

func (c *Client) headers() http.Header {
	h := make(http.Header)
	if c.apiKey != "" {
		h.Set("Authorization", "Bearer "+c.apiKey)
	}
	return h
}

func trimTrailingSlash(url string) string {
	for len(url) > 0 && url[len(url)-1] == '/' {
		url = url[:len(url)-1]
	}
	return url
}
