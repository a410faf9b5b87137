package statuspage

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outage-tracker/pkg/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(types.StatusPageConfig{
		APIURL: server.URL,
		APIKey: "sp-key",
		PageID: "pg1",
	})
}

func TestNewClientDisabledWithoutConfig(t *testing.T) {
	assert.Nil(t, NewClient(types.StatusPageConfig{APIURL: "https://api.example.com"}))
}

func TestCreateIncident(t *testing.T) {
	var gotReq incidentRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/pages/pg1/incidents", r.URL.Path)
		assert.Equal(t, "sp-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(Incident{ID: "inc1", Name: gotReq.Incident.Name, Status: "investigating"})
	})

	incident, err := client.CreateIncident("Payment API", []string{"comp1", "comp2"}, "<2h")
	require.NoError(t, err)

	assert.Equal(t, "inc1", incident.ID)
	assert.Equal(t, "Payment API incident", gotReq.Incident.Name)
	assert.Equal(t, "investigating", gotReq.Incident.Status)
	assert.Contains(t, gotReq.Incident.Body, "ETA: <2h")
	assert.Equal(t, map[string]string{"comp1": "partial_outage", "comp2": "partial_outage"}, gotReq.Incident.Components)
}

func TestResolveIncident(t *testing.T) {
	var gotReq incidentRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/pages/pg1/incidents/inc1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, client.ResolveIncident("inc1", []string{"comp1"}))
	assert.Equal(t, "resolved", gotReq.Incident.Status)
	assert.Equal(t, map[string]string{"comp1": "operational"}, gotReq.Incident.Components)
}

func TestCreateIncidentErrorResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error": "component not found"}`))
	})

	_, err := client.CreateIncident("Payment API", []string{"nope"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}
