package httpclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// activateHTTPMock reroutes the client's transport through httpmock so tests
// can script responses for URLs no local server answers.
func activateHTTPMock(t *testing.T, client *Client) {
	t.Helper()
	httpmock.ActivateNonDefault(client.client)
	t.Cleanup(httpmock.DeactivateAndReset)
}

func TestGetJSON(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"version": 3, "fingerprint": "abc"})
	})

	client := newTestClient(t)

	var out struct {
		Version     uint64 `json:"version"`
		Fingerprint string `json:"fingerprint"`
	}
	headers := http.Header{"X-API-Key": []string{"secret"}}
	require.NoError(t, client.GetJSON(t.Context(), server.URL, headers, &out))
	assert.Equal(t, uint64(3), out.Version)
	assert.Equal(t, "abc", out.Fingerprint)
}

func TestPostJSON_RoundTrip(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["plate"]})
	})

	client := newTestClient(t)

	var out struct {
		Echo string `json:"echo"`
	}
	err := client.PostJSON(t.Context(), server.URL, nil, map[string]string{"plate": "ABC-1234"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ABC-1234", out.Echo)
}

func TestPostJSON_NilOut(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ignored":true}`))
	})

	client := newTestClient(t)
	require.NoError(t, client.PostJSON(t.Context(), server.URL, nil, map[string]int{"n": 1}, nil))
}

func TestJSONStatusError(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "property not found", http.StatusNotFound)
	})

	client := newTestClient(t)

	err := client.GetJSON(t.Context(), server.URL, nil, &struct{}{})
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.False(t, IsStatus(err, http.StatusInternalServerError))
	assert.Contains(t, err.Error(), "property not found")
}

func TestGetJSON_TransportError(t *testing.T) {
	client := newTestClient(t)
	activateHTTPMock(t, client)

	httpmock.RegisterResponder(http.MethodGet, `=~^https://cloud\.example\.com/api/v1/sync/`,
		httpmock.NewErrorResponder(fmt.Errorf("connect: connection refused")))

	err := client.GetJSON(t.Context(),
		"https://cloud.example.com/api/v1/sync/properties/prop-1/fingerprint", nil, &struct{}{})
	require.Error(t, err)
	assert.False(t, IsStatus(err, http.StatusInternalServerError), "transport failures carry no HTTP status")
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestGetJSON_MalformedBody(t *testing.T) {
	client := newTestClient(t)
	activateHTTPMock(t, client)

	httpmock.RegisterResponder(http.MethodGet, "https://cloud.example.com/api/v1/plates/count",
		httpmock.NewStringResponder(http.StatusOK, "not json"))

	var out struct {
		Count int `json:"count"`
	}
	err := client.GetJSON(t.Context(), "https://cloud.example.com/api/v1/plates/count", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode response")
}
