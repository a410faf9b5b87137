package tracker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"outage-tracker/pkg/integrations/statuspage"
	"outage-tracker/pkg/types"
)

// statusPageRecorder records the incident calls the reconciler makes against
// a fake status page API.
type statusPageRecorder struct {
	creates  []string
	resolves []string
}

func (f *reconcilerFixture) withStatusPage(t *testing.T) *statusPageRecorder {
	t.Helper()

	recorder := &statusPageRecorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			recorder.creates = append(recorder.creates, r.URL.Path)
			_ = json.NewEncoder(w).Encode(statuspage.Incident{ID: "inc1", Status: "investigating"})
		case http.MethodPatch:
			recorder.resolves = append(recorder.resolves, r.URL.Path)
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(server.Close)

	f.reconciler.statusPage = statuspage.NewClient(types.StatusPageConfig{
		APIURL: server.URL,
		APIKey: "sp-key",
		PageID: "pg1",
	})
	return recorder
}

func seedStatusPageSystem(f *reconcilerFixture, outage *types.Outage) {
	system := types.System{Name: "Payment Gateway", StatusPageComponentID: "comp1"}
	system.ID = 7
	f.systems.Systems = []types.System{system}
	systemID := uint(7)
	outage.SystemID = &systemID
}

func TestReconcileOpensStatusPageIncident(t *testing.T) {
	f := newReconcilerFixture(t)
	outage := f.seedOutage()
	seedStatusPageSystem(f, outage)
	recorder := f.withStatusPage(t)

	f.reconciler.Reconcile(1)

	require.Len(t, recorder.creates, 1)
	assert.Equal(t, "/pages/pg1/incidents", recorder.creates[0])
	assert.Equal(t, "inc1", f.store.Announcement.StatusPageIncidentID)

	// Converging again must not open a second incident.
	f.reconciler.Reconcile(1)
	assert.Len(t, recorder.creates, 1)
}

func TestReconcileResolvesStatusPageIncident(t *testing.T) {
	f := newReconcilerFixture(t)
	outage := f.seedOutage()
	seedStatusPageSystem(f, outage)
	f.markPosted()
	f.store.Announcement.StatusPageIncidentID = "inc1"
	recorder := f.withStatusPage(t)

	outage.Resolved = true
	outage.Solution = &types.Solution{
		Model: gorm.Model{ID: 5},
		SolutionFields: types.SolutionFields{
			Summary:    "Rolled back the deploy",
			CreatedBy:  "bob@example.com",
			ResolvedAt: time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC),
		},
		OutageID: 1,
	}
	f.solutions.HistoryEntries = []types.SolutionHistory{
		{Model: gorm.Model{ID: 9}, SolutionFields: outage.Solution.SolutionFields, SolutionID: 5},
	}

	f.reconciler.Reconcile(1)

	require.Len(t, recorder.resolves, 1)
	assert.Equal(t, "/pages/pg1/incidents/inc1", recorder.resolves[0])
	assert.Empty(t, recorder.creates)
	assert.Empty(t, f.store.Announcement.StatusPageIncidentID)
}

func TestReconcileSkipsStatusPageWithoutComponentBinding(t *testing.T) {
	f := newReconcilerFixture(t)
	outage := f.seedOutage()
	seedStatusPageSystem(f, outage)
	f.systems.Systems[0].StatusPageComponentID = ""
	recorder := f.withStatusPage(t)

	f.reconciler.Reconcile(1)

	assert.Empty(t, recorder.creates)
	assert.Empty(t, f.store.Announcement.StatusPageIncidentID)
}
