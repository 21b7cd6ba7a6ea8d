package edgesync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/decision"
	"github.com/plategate/plategate/internal/httpclient"
	"github.com/plategate/plategate/internal/rules"
	"github.com/plategate/plategate/internal/rulestore"
)

func newTestCloudClient(t *testing.T, handler http.Handler) *CloudClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	settings := &conf.Settings{}
	settings.Edge.DeviceID = "gate-7"
	settings.Edge.PropertyID = "prop-1"
	settings.Edge.CloudURL = server.URL
	settings.Edge.APIKey = "secret-key"
	settings.Edge.Sync.RequestTimeoutSeconds = 5

	client := NewCloudClient(settings)
	t.Cleanup(client.Close)
	return client
}

func requireAuthHeaders(t *testing.T, r *http.Request) {
	t.Helper()
	assert.Equal(t, "secret-key", r.Header.Get("X-API-Key"))
	assert.Equal(t, "gate-7", r.Header.Get("X-Device-ID"))
}

func TestFetchFingerprint(t *testing.T) {
	t.Parallel()

	info := rulestore.SnapshotInfo{
		PropertyID:  "prop-1",
		Version:     12,
		Fingerprint: rules.Fingerprint(nil),
		RuleCount:   0,
		GeneratedAt: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}

	client := newTestCloudClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/sync/properties/prop-1/fingerprint", r.URL.Path)
		requireAuthHeaders(t, r)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(info))
	}))

	got, err := client.FetchFingerprint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, info.Version, got.Version)
	assert.Equal(t, info.Fingerprint, got.Fingerprint)
	assert.True(t, got.GeneratedAt.Equal(info.GeneratedAt))
}

func TestFetchSnapshot(t *testing.T) {
	t.Parallel()

	snapshot := rules.BuildSnapshot("prop-1", 3, time.Now().UTC(), []rules.Rule{
		{ID: 1, PropertyID: "prop-1", Plate: "ABC-1234", Category: rules.CategoryAllow},
		{ID: 2, PropertyID: "prop-1", Plate: "XYZ 999", Category: rules.CategoryDeny},
	})

	client := newTestCloudClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sync/properties/prop-1/snapshot", r.URL.Path)
		requireAuthHeaders(t, r)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(snapshot))
	}))

	got, err := client.FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Version)
	assert.Equal(t, snapshot.Fingerprint, got.Fingerprint)
	require.Len(t, got.Rules, 2)

	// The wire fingerprint must verify against the decoded rules
	assert.Equal(t, got.Fingerprint, rules.Fingerprint(got.Rules))
}

func TestSendHeartbeat(t *testing.T) {
	t.Parallel()

	var received Heartbeat
	client := newTestCloudClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/devices/gate-7/heartbeat", r.URL.Path)
		requireAuthHeaders(t, r)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))

	hb := &Heartbeat{
		PropertyID:      "prop-1",
		Status:          "online",
		SnapshotVersion: 9,
		Fingerprint:     "abc123",
	}
	require.NoError(t, client.SendHeartbeat(context.Background(), hb))
	assert.Equal(t, "prop-1", received.PropertyID)
	assert.Equal(t, uint64(9), received.SnapshotVersion)
}

func TestReportEvents(t *testing.T) {
	t.Parallel()

	var received []decision.Record
	client := newTestCloudClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/events", r.URL.Path)
		requireAuthHeaders(t, r)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":2,"duplicates":1}`))
	}))

	records := []decision.Record{
		{DeviceID: "gate-7", DeliveryID: "d-1", Plate: "ABC-1234", Outcome: "granted"},
		{DeviceID: "gate-7", DeliveryID: "d-2", Plate: "XYZ-999", Outcome: "denied"},
		{DeviceID: "gate-7", DeliveryID: "d-2", Plate: "XYZ-999", Outcome: "denied"},
	}

	resp, err := client.ReportEvents(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Accepted)
	assert.Equal(t, 1, resp.Duplicates)
	assert.Len(t, received, 3)
}

func TestFetchFingerprintServerError(t *testing.T) {
	t.Parallel()

	client := newTestCloudClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := client.FetchFingerprint(context.Background())
	require.Error(t, err)
	assert.True(t, httpclient.IsStatus(err, http.StatusInternalServerError))
}

func TestBaseURLTrailingSlash(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sync/properties/prop-1/fingerprint", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"property_id":"prop-1","version":1,"fingerprint":"aa","rule_count":0,"generated_at":"2026-04-01T09:00:00Z"}`))
	}))
	t.Cleanup(server.Close)

	settings := &conf.Settings{}
	settings.Edge.DeviceID = "gate-7"
	settings.Edge.PropertyID = "prop-1"
	settings.Edge.CloudURL = server.URL + "/"
	settings.Edge.APIKey = "secret-key"
	settings.Edge.Sync.RequestTimeoutSeconds = 5

	client := NewCloudClient(settings)
	t.Cleanup(client.Close)

	info, err := client.FetchFingerprint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Version)
}
