// Package edgesync keeps the edge rule cache consistent with the cloud via
// the fingerprint-compare pull protocol, and carries the other edge-to-cloud
// traffic (heartbeats and decision event reports) over the same client.
package edgesync

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/decision"
	"github.com/plategate/plategate/internal/errors"
	"github.com/plategate/plategate/internal/httpclient"
	"github.com/plategate/plategate/internal/rules"
	"github.com/plategate/plategate/internal/rulestore"
)

// Heartbeat is the device status report sent on each heartbeat tick.
type Heartbeat struct {
	PropertyID      string `json:"property_id"`
	Status          string `json:"status"`
	SnapshotVersion uint64 `json:"snapshot_version"`
	Fingerprint     string `json:"fingerprint,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	LocalIP         string `json:"local_ip,omitempty"`
	Firmware        string `json:"firmware,omitempty"`
}

// ReportResponse is the cloud's answer to an event report batch.
type ReportResponse struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
}

// CloudClient speaks the sync protocol against the cloud API.
type CloudClient struct {
	http       *httpclient.Client
	baseURL    string
	apiKey     string
	deviceID   string
	propertyID string
}

// NewCloudClient builds a client from the edge settings.
func NewCloudClient(settings *conf.Settings) *CloudClient {
	edge := &settings.Edge
	timeout := time.Duration(edge.Sync.RequestTimeoutSeconds) * time.Second
	return &CloudClient{
		http: httpclient.New(&httpclient.Config{
			DefaultTimeout: timeout,
			UserAgent:      fmt.Sprintf("PlateGate-Edge/%s", edge.DeviceID),
		}),
		baseURL:    strings.TrimRight(edge.CloudURL, "/"),
		apiKey:     edge.APIKey,
		deviceID:   edge.DeviceID,
		propertyID: edge.PropertyID,
	}
}

// DeviceID returns the device identifier the client reports as.
func (c *CloudClient) DeviceID() string {
	return c.deviceID
}

// PropertyID returns the property the client syncs rules for.
func (c *CloudClient) PropertyID() string {
	return c.propertyID
}

func (c *CloudClient) headers() http.Header {
	headers := http.Header{}
	if c.apiKey != "" {
		headers.Set("X-API-Key", c.apiKey)
	}
	headers.Set("X-Device-ID", c.deviceID)
	return headers
}

// FetchFingerprint asks the cloud for the published snapshot metadata of
// the device's property.
func (c *CloudClient) FetchFingerprint(ctx context.Context) (rulestore.SnapshotInfo, error) {
	url := fmt.Sprintf("%s/api/v1/sync/properties/%s/fingerprint", c.baseURL, c.propertyID)

	var info rulestore.SnapshotInfo
	if err := c.http.GetJSON(ctx, url, c.headers(), &info); err != nil {
		return rulestore.SnapshotInfo{}, errors.New(err).
			Component("edgesync").
			Category(errors.CategorySyncTransport).
			Context("operation", "fetch-fingerprint").
			Context("property_id", c.propertyID).
			Build()
	}
	return info, nil
}

// FetchSnapshot retrieves the full published snapshot for the device's
// property. The returned snapshot carries the server-claimed fingerprint,
// validation against a locally computed one is the caller's job.
func (c *CloudClient) FetchSnapshot(ctx context.Context) (*rules.Snapshot, error) {
	url := fmt.Sprintf("%s/api/v1/sync/properties/%s/snapshot", c.baseURL, c.propertyID)

	var snapshot rules.Snapshot
	if err := c.http.GetJSON(ctx, url, c.headers(), &snapshot); err != nil {
		return nil, errors.New(err).
			Component("edgesync").
			Category(errors.CategorySyncTransport).
			Context("operation", "fetch-snapshot").
			Context("property_id", c.propertyID).
			Build()
	}
	return &snapshot, nil
}

// SendHeartbeat posts the device status report.
func (c *CloudClient) SendHeartbeat(ctx context.Context, hb *Heartbeat) error {
	url := fmt.Sprintf("%s/api/v1/devices/%s/heartbeat", c.baseURL, c.deviceID)

	if err := c.http.PostJSON(ctx, url, c.headers(), hb, nil); err != nil {
		return errors.New(err).
			Component("edgesync").
			Category(errors.CategorySyncTransport).
			Context("operation", "heartbeat").
			Context("device_id", c.deviceID).
			Build()
	}
	return nil
}

// ReportEvents delivers a batch of decision records to the cloud. The cloud
// deduplicates by device and delivery identifiers, so re-sending after an
// ambiguous failure is safe.
func (c *CloudClient) ReportEvents(ctx context.Context, records []decision.Record) (ReportResponse, error) {
	url := fmt.Sprintf("%s/api/v1/events", c.baseURL)

	var resp ReportResponse
	if err := c.http.PostJSON(ctx, url, c.headers(), records, &resp); err != nil {
		return ReportResponse{}, errors.New(err).
			Component("edgesync").
			Category(errors.CategoryEventReport).
			Context("operation", "report-events").
			Context("batch_size", len(records)).
			Build()
	}
	return resp, nil
}

// Close releases the client's idle connections.
func (c *CloudClient) Close() {
	c.http.Close()
}
