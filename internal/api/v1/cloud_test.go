package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/datastore"
	"github.com/plategate/plategate/internal/decision"
	"github.com/plategate/plategate/internal/health"
	"github.com/plategate/plategate/internal/rules"
	"github.com/plategate/plategate/internal/rulestore"
)

func cloudTestSettings(t *testing.T, apiKey string) *conf.Settings {
	t.Helper()

	settings := &conf.Settings{}
	settings.Version = "test"
	settings.Cloud.APIKey = apiKey
	settings.Cloud.Health.OfflineTimeoutSeconds = 75
	settings.Cloud.Health.SweepIntervalSeconds = 15
	settings.Decision.ConfidenceThreshold = 60
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "cloud.db")
	return settings
}

func setupCloud(t *testing.T, apiKey string) (*echo.Echo, *CloudController) {
	t.Helper()

	settings := cloudTestSettings(t, apiKey)
	ds := datastore.New(settings)
	require.NotNil(t, ds)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { require.NoError(t, ds.Close()) })

	e := echo.New()
	controller := NewCloud(e, ds, settings, rulestore.New(ds), health.NewTracker(ds, settings), nil)
	t.Cleanup(controller.Shutdown)
	return e, controller
}

func jsonRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func eventRecord(deviceID, deliveryID string) decision.Record {
	return decision.Record{
		DeviceID:        deviceID,
		DeliveryID:      deliveryID,
		PropertyID:      "prop-1",
		Plate:           "ABC-1234",
		NormalizedPlate: "ABC1234",
		Confidence:      93.5,
		Outcome:         decision.Granted,
		Reason:          "matched allow list",
		Source:          decision.SourceWebhook,
		DetectedAt:      time.Now().UTC(),
	}
}

func TestGetFingerprintUnknownProperty(t *testing.T) {
	t.Parallel()
	e, controller := setupCloud(t, "")

	req := jsonRequest(http.MethodGet, "/api/v1/sync/properties/prop-1/fingerprint", "")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/sync/properties/:propertyID/fingerprint")
	c.SetParamNames("propertyID")
	c.SetParamValues("prop-1")

	require.NoError(t, controller.GetFingerprint(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var info rulestore.SnapshotInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "prop-1", info.PropertyID)
	assert.Zero(t, info.Version)
	assert.Equal(t, rules.Fingerprint(nil), info.Fingerprint)
}

func TestSnapshotMatchesFingerprintProbe(t *testing.T) {
	t.Parallel()
	e, controller := setupCloud(t, "")

	rule := rules.Rule{PropertyID: "prop-1", Plate: "ABC-1234", Category: rules.CategoryAllow}
	_, err := controller.Rules.CreateRule(&rule)
	require.NoError(t, err)

	req := jsonRequest(http.MethodGet, "/api/v1/sync/properties/prop-1/snapshot", "")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/sync/properties/:propertyID/snapshot")
	c.SetParamNames("propertyID")
	c.SetParamValues("prop-1")

	require.NoError(t, controller.GetSnapshot(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var snapshot rules.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, uint64(1), snapshot.Version)
	require.Len(t, snapshot.Rules, 1)
	// The wire fingerprint must equal one recomputed from the carried rules,
	// that is exactly the check edges run before adopting.
	assert.Equal(t, snapshot.Fingerprint, rules.Fingerprint(snapshot.Rules))
}

func TestSyncFetchRefreshesDeviceLiveness(t *testing.T) {
	t.Parallel()
	e, controller := setupCloud(t, "")

	// Swept offline long ago; its heartbeat loop never recovered.
	require.NoError(t, controller.DS.UpsertDeviceState(&datastore.DeviceState{
		DeviceID:   "edge-1",
		PropertyID: "prop-1",
		Status:     datastore.DeviceOffline,
		LastSeenAt: time.Now().Add(-time.Hour),
	}))

	req := jsonRequest(http.MethodGet, "/api/v1/sync/properties/prop-1/fingerprint", "")
	req.Header.Set("X-Device-ID", "edge-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	state, err := controller.Health.Device("edge-1")
	require.NoError(t, err)
	assert.Equal(t, datastore.DeviceOnline, state.Status)
	assert.WithinDuration(t, time.Now(), state.LastSeenAt, 5*time.Second)

	// The snapshot endpoint counts as contact for a first-seen device too.
	req = jsonRequest(http.MethodGet, "/api/v1/sync/properties/prop-1/snapshot", "")
	req.Header.Set("X-Device-ID", "edge-2")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	state, err = controller.Health.Device("edge-2")
	require.NoError(t, err)
	assert.Equal(t, datastore.DeviceOnline, state.Status)
	assert.Equal(t, "prop-1", state.PropertyID)

	// Without the identifying header nothing is tracked.
	req = jsonRequest(http.MethodGet, "/api/v1/sync/properties/prop-1/fingerprint", "")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	devices, err := controller.Health.Devices("")
	require.NoError(t, err)
	assert.Len(t, devices, 2)
}

func TestAPIKeyGuardsSyncRoutes(t *testing.T) {
	t.Parallel()
	e, _ := setupCloud(t, "sekret")

	req := jsonRequest(http.MethodGet, "/api/v1/sync/properties/prop-1/fingerprint", "")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = jsonRequest(http.MethodGet, "/api/v1/sync/properties/prop-1/fingerprint", "")
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = jsonRequest(http.MethodGet, "/api/v1/sync/properties/prop-1/fingerprint", "")
	req.Header.Set("X-API-Key", "sekret")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadRoutesSkipAPIKey(t *testing.T) {
	t.Parallel()
	e, _ := setupCloud(t, "sekret")

	req := jsonRequest(http.MethodGet, "/api/v1/devices", "")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateRuleEndpoint(t *testing.T) {
	t.Parallel()
	e, _ := setupCloud(t, "")

	body := `{"property_id":"prop-1","plate":"ABC-1234","category":"allow","label":"resident"}`
	req := jsonRequest(http.MethodPost, "/api/v1/rules", body)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created rules.Rule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotZero(t, created.ID)
	assert.Equal(t, rules.CategoryAllow, created.Category)
}

func TestCreateRuleRejectsUnknownCategory(t *testing.T) {
	t.Parallel()
	e, _ := setupCloud(t, "")

	body := `{"property_id":"prop-1","plate":"ABC-1234","category":"wildcard"}`
	req := jsonRequest(http.MethodPost, "/api/v1/rules", body)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.CorrelationID)
}

func TestRuleLifecycle(t *testing.T) {
	t.Parallel()
	e, controller := setupCloud(t, "")

	rule := rules.Rule{PropertyID: "prop-1", Plate: "ABC-1234", Category: rules.CategoryAllow}
	created, err := controller.Rules.CreateRule(&rule)
	require.NoError(t, err)

	// Update flips the category to deny.
	body := `{"property_id":"prop-1","plate":"ABC-1234","category":"deny"}`
	req := jsonRequest(http.MethodPut, fmt.Sprintf("/api/v1/rules/%d", created.ID), body)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Each mutation republished the snapshot.
	info, err := controller.Rules.Probe("prop-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.Version)

	req = jsonRequest(http.MethodDelete, fmt.Sprintf("/api/v1/rules/%d", created.ID), "")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = jsonRequest(http.MethodGet, fmt.Sprintf("/api/v1/rules/%d", created.ID), "")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRulesFiltersByCategoryAndPlate(t *testing.T) {
	t.Parallel()
	e, controller := setupCloud(t, "")

	for _, spec := range []struct {
		plate    string
		category rules.Category
	}{
		{"ABC-1234", rules.CategoryAllow},
		{"XYZ-999", rules.CategoryDeny},
		{"VND 777", rules.CategoryVendor},
	} {
		rule := rules.Rule{PropertyID: "prop-1", Plate: spec.plate, Category: spec.category}
		_, err := controller.Rules.CreateRule(&rule)
		require.NoError(t, err)
	}

	req := jsonRequest(http.MethodGet, "/api/v1/rules?property_id=prop-1&category=deny", "")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed struct {
		Rules []rules.Rule `json:"rules"`
		Count int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Equal(t, 1, listed.Count)
	assert.Equal(t, rules.CategoryDeny, listed.Rules[0].Category)

	// Plate lookup is normalization-insensitive.
	req = jsonRequest(http.MethodGet, "/api/v1/rules?property_id=prop-1&plate=vnd777", "")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Equal(t, 1, listed.Count)
	assert.Equal(t, "VND 777", listed.Rules[0].Plate)
}

func TestCheckRulesEvaluatesCanonicalStore(t *testing.T) {
	t.Parallel()
	e, controller := setupCloud(t, "")

	rule := rules.Rule{PropertyID: "prop-1", Plate: "BAD-001", Category: rules.CategoryDeny}
	_, err := controller.Rules.CreateRule(&rule)
	require.NoError(t, err)

	req := jsonRequest(http.MethodGet, "/api/v1/rules/check?property_id=prop-1&plate=bad001&confidence=95", "")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var check CheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	assert.Equal(t, string(decision.Denied), check.Outcome)
	assert.Equal(t, decision.ReasonMatchedDenyList, check.Reason)
	assert.Equal(t, "BAD001", check.NormalizedPlate)

	// Below the threshold the rules are not even consulted.
	req = jsonRequest(http.MethodGet, "/api/v1/rules/check?property_id=prop-1&plate=bad001&confidence=10", "")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	assert.Equal(t, string(decision.Unknown), check.Outcome)
	assert.Equal(t, decision.ReasonBelowThreshold, check.Reason)
}

func TestHeartbeatUpdatesDeviceState(t *testing.T) {
	t.Parallel()
	e, _ := setupCloud(t, "")

	body := `{"property_id":"prop-1","status":"online","snapshot_version":3,"local_ip":"10.0.0.8","firmware":"1.4.0"}`
	req := jsonRequest(http.MethodPost, "/api/v1/devices/edge-1/heartbeat", body)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var state DeviceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "edge-1", state.DeviceID)
	assert.Equal(t, "online", state.Status)
	assert.Equal(t, uint64(3), state.SnapshotVersion)

	req = jsonRequest(http.MethodGet, "/api/v1/devices/edge-1", "")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = jsonRequest(http.MethodGet, "/api/v1/devices?property_id=prop-1", "")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var devices struct {
		Devices []DeviceResponse `json:"devices"`
		Count   int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &devices))
	assert.Equal(t, 1, devices.Count)
}

func TestGetDeviceUnknown(t *testing.T) {
	t.Parallel()
	e, _ := setupCloud(t, "")

	req := jsonRequest(http.MethodGet, "/api/v1/devices/ghost", "")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthzReportsDatabase(t *testing.T) {
	t.Parallel()
	e, _ := setupCloud(t, "")

	req := jsonRequest(http.MethodGet, "/healthz", "")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "connected", resp["database_status"])
}
