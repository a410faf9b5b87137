package tracker

import (
	"database/sql"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"outage-tracker/pkg/repositories"
	"outage-tracker/pkg/types"
)

type differFixture struct {
	differ   *Differ
	systems  *repositories.MockSystemRepository
	users    *repositories.MockUserRepository
	notifier *MockNotifier
}

func newDifferFixture(t *testing.T) *differFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	fixture := &differFixture{
		systems: &repositories.MockSystemRepository{},
		users: &repositories.MockUserRepository{
			UsersByEmail: map[string]*types.User{
				"alice@example.com": {Email: "alice@example.com", ChatID: "UALICE"},
				"bob@example.com":   {Email: "bob@example.com", ChatID: "UBOB"},
				"carol@example.com": {Email: "carol@example.com", ChatID: "UCAROL"},
			},
		},
		notifier: &MockNotifier{},
	}
	fixture.differ = NewDiffer(fixture.systems, fixture.users, fixture.notifier, logger)
	return fixture
}

func outageVersion(id uint, fields types.OutageFields) *types.OutageHistory {
	return &types.OutageHistory{
		Model:        gorm.Model{ID: id},
		OutageFields: fields,
		OutageID:     1,
	}
}

func baseOutageFields() types.OutageFields {
	return types.OutageFields{
		Summary:               "Payment API down",
		CreatedBy:             "alice@example.com",
		SolutionAssignee:      "bob@example.com",
		CommunicationAssignee: "carol@example.com",
		StartedAt:             time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC),
		AnnounceOnChat:        true,
		SalesImpact:           types.SalesImpactUnknown,
	}
}

func TestDiffOutageIdenticalSnapshotsIsEmpty(t *testing.T) {
	f := newDifferFixture(t)

	prev := outageVersion(1, baseOutageFields())
	cur := outageVersion(2, baseOutageFields())
	cur.ModifiedBy = "bob@example.com"

	cs := f.differ.DiffOutage(&types.Outage{}, cur, prev, "")
	assert.True(t, cs.Empty())
	// The attribution line alone is no narrative.
	assert.Empty(t, cs.ShortText())
	assert.Empty(t, f.notifier.Assigned)
	assert.Empty(t, f.notifier.Unassigned)
}

func TestDiffOutageFirstVersionIsEmpty(t *testing.T) {
	f := newDifferFixture(t)

	cur := outageVersion(1, baseOutageFields())
	cs := f.differ.DiffOutage(&types.Outage{}, cur, nil, "")
	assert.True(t, cs.Empty())
}

func TestDiffOutageReasonFirstAttributionLast(t *testing.T) {
	f := newDifferFixture(t)

	prev := outageVersion(1, baseOutageFields())
	fields := baseOutageFields()
	fields.Summary = "Payment API degraded"
	cur := outageVersion(2, fields)
	cur.ChangeDesc = "Escalated to the payment provider"
	cur.ModifiedBy = "bob@example.com"

	cs := f.differ.DiffOutage(&types.Outage{}, cur, prev, "")
	require.False(t, cs.Empty())

	short := cs.ShortText()
	lines := []string{
		"Escalated to the payment provider",
		"Summary changed to: Payment API degraded.",
		"by <@UBOB>",
	}
	assert.Equal(t, lines[0]+"\n"+lines[1]+"\n"+lines[2], short)
	// The audit rendering names the modifier by email, not by mention.
	assert.Contains(t, cs.LongText(), "by bob@example.com")
	assert.NotContains(t, cs.LongText(), "<@UBOB>")
}

func TestDiffOutageAttributionFallsBackToEmail(t *testing.T) {
	f := newDifferFixture(t)

	prev := outageVersion(1, baseOutageFields())
	fields := baseOutageFields()
	fields.Summary = "Payment API degraded"
	cur := outageVersion(2, fields)
	cur.ModifiedBy = "mallory@example.com" // no chat identity on file

	cs := f.differ.DiffOutage(&types.Outage{}, cur, prev, "")
	assert.Contains(t, cs.ShortText(), "by mallory@example.com")
}

func TestDiffOutageETAChange(t *testing.T) {
	f := newDifferFixture(t)

	anchor := time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC)
	prev := outageVersion(1, baseOutageFields())
	fields := baseOutageFields()
	fields.SetETA("<2h", anchor)
	cur := outageVersion(2, fields)

	cs := f.differ.DiffOutage(&types.Outage{}, cur, prev, "")
	require.False(t, cs.Empty())
	// Deadline is the anchor plus the bucket bound.
	assert.Contains(t, cs.ShortText(), "ETA changed to ")
	assert.Contains(t, cs.ShortText(), "2024-05-14T14:00:00Z")
	assert.Contains(t, cs.LongText(), "ETA changed to 2024-05-14 14:00 (UTC).")
}

func TestDiffOutageETAClearedRendersUnknown(t *testing.T) {
	f := newDifferFixture(t)

	fields := baseOutageFields()
	fields.SetETA("<2h", time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC))
	prev := outageVersion(1, fields)
	cur := outageVersion(2, baseOutageFields())

	cs := f.differ.DiffOutage(&types.Outage{}, cur, prev, "")
	assert.Contains(t, cs.ShortText(), "ETA changed to Unknown.")
}

func TestDiffOutageETAReanchorSameBucket(t *testing.T) {
	f := newDifferFixture(t)

	fields := baseOutageFields()
	fields.SetETA("<30m", time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC))
	prev := outageVersion(1, fields)

	fields.SetETA("<30m", time.Date(2024, 5, 14, 13, 0, 0, 0, time.UTC))
	cur := outageVersion(2, fields)

	cs := f.differ.DiffOutage(&types.Outage{}, cur, prev, "")
	require.False(t, cs.Empty())
	assert.Contains(t, cs.ShortText(), "2024-05-14T13:30:00Z")
}

func TestDiffOutageUnanchoredBucketIsNoChange(t *testing.T) {
	f := newDifferFixture(t)

	fields := baseOutageFields()
	fields.ETA = ">24h"
	prev := outageVersion(1, fields)
	fields.ETALastModified = sql.NullTime{Time: time.Now(), Valid: true}
	cur := outageVersion(2, fields)

	// ">24h" carries no deadline; re-anchoring it narrates nothing.
	cs := f.differ.DiffOutage(&types.Outage{}, cur, prev, "")
	assert.True(t, cs.Empty())
}

func TestDiffOutageAssigneeChangeNotifiesChangedRoleOnly(t *testing.T) {
	f := newDifferFixture(t)

	prev := outageVersion(1, baseOutageFields())
	fields := baseOutageFields()
	fields.SolutionAssignee = "alice@example.com"
	cur := outageVersion(2, fields)

	cs := f.differ.DiffOutage(&types.Outage{}, cur, prev, "https://chat.example.com/p1")
	assert.Contains(t, cs.ShortText(),
		"Solution assignee is <@UALICE>. Communication assignee is <@UCAROL>.")
	assert.Contains(t, cs.LongText(),
		"Solution assignee is alice@example.com. Communication assignee is carol@example.com.")

	require.Len(t, f.notifier.Unassigned, 1)
	assert.Equal(t, RecordedNotification{
		Email: "bob@example.com", Role: RoleSolution, Link: "https://chat.example.com/p1",
	}, f.notifier.Unassigned[0])
	require.Len(t, f.notifier.Assigned, 1)
	assert.Equal(t, RecordedNotification{
		Email: "alice@example.com", Role: RoleSolution, Link: "https://chat.example.com/p1",
	}, f.notifier.Assigned[0])
}

func TestDiffOutageBothRolesChanged(t *testing.T) {
	f := newDifferFixture(t)

	prev := outageVersion(1, baseOutageFields())
	fields := baseOutageFields()
	fields.SolutionAssignee = "alice@example.com"
	fields.CommunicationAssignee = "bob@example.com"
	cur := outageVersion(2, fields)

	f.differ.DiffOutage(&types.Outage{}, cur, prev, "")

	require.Len(t, f.notifier.Unassigned, 2)
	require.Len(t, f.notifier.Assigned, 2)
	assert.Equal(t, RoleSolution, f.notifier.Unassigned[0].Role)
	assert.Equal(t, RoleCommunication, f.notifier.Unassigned[1].Role)
}

func TestDiffOutageReopened(t *testing.T) {
	f := newDifferFixture(t)

	fields := baseOutageFields()
	fields.Resolved = true
	prev := outageVersion(1, fields)
	cur := outageVersion(2, baseOutageFields())
	cur.ChangeDesc = "The error rate spiked again"
	cur.ModifiedBy = "alice@example.com"

	outage := &types.Outage{Solution: &types.Solution{}}
	cs := f.differ.DiffOutage(outage, cur, prev, "")
	assert.Contains(t, cs.ShortText(), "Outage has been reopened.")
	// The reason the modifier gave still leads.
	assert.Equal(t, 0, indexOfLine(t, cs, "The error rate spiked again"))
}

func TestDiffOutageLookupFields(t *testing.T) {
	f := newDifferFixture(t)

	system, err := f.systems.GetOrCreateSystem("Search")
	require.NoError(t, err)
	cause, err := f.systems.GetOrCreateRootCause("Deploy")
	require.NoError(t, err)

	prev := outageVersion(1, baseOutageFields())
	fields := baseOutageFields()
	fields.SystemID = &system.ID
	fields.RootCauseID = &cause.ID
	fields.SalesImpact = types.SalesImpactYes
	cur := outageVersion(2, fields)

	cs := f.differ.DiffOutage(&types.Outage{}, cur, prev, "")
	assert.Contains(t, cs.ShortText(), "Sales affected changed to: Yes.")
	assert.Contains(t, cs.ShortText(), "System affected changed to: Search.")
	assert.Contains(t, cs.ShortText(), "Root cause changed to: Deploy.")
}

func TestDiffSolutionFirstVersionAnnouncesResolution(t *testing.T) {
	f := newDifferFixture(t)

	cur := &types.SolutionHistory{
		Model: gorm.Model{ID: 1},
		SolutionFields: types.SolutionFields{
			Summary:    "Rolled back the deploy",
			CreatedBy:  "bob@example.com",
			ResolvedAt: time.Date(2024, 5, 14, 15, 0, 0, 0, time.UTC),
		},
	}

	cs := f.differ.DiffSolution(&types.Outage{}, cur, nil, nil, nil)
	// Only the fixed notice plus attribution; the modifier falls back to the
	// solution's creator when the snapshot has none.
	assert.Equal(t, "Outage has been resolved.\nby <@UBOB>", cs.ShortText())
	assert.Equal(t, "Outage has been resolved. by bob@example.com", cs.LongText())
}

func TestDiffSolutionFieldChanges(t *testing.T) {
	f := newDifferFixture(t)

	resolvedAt := time.Date(2024, 5, 14, 15, 0, 0, 0, time.UTC)
	prev := &types.SolutionHistory{
		Model: gorm.Model{ID: 1},
		SolutionFields: types.SolutionFields{
			Summary:    "Rolled back the deploy",
			CreatedBy:  "bob@example.com",
			ResolvedAt: resolvedAt,
		},
	}
	cur := &types.SolutionHistory{
		Model: gorm.Model{ID: 2},
		SolutionFields: types.SolutionFields{
			Summary:          "Rolled back the deploy",
			CreatedBy:        "bob@example.com",
			ResolvedAt:       resolvedAt.Add(30 * time.Minute),
			SuggestedOutcome: types.OutcomePostmortem,
			ReportURL:        "wiki.example.com/pm-42",
		},
		ModifiedBy: "alice@example.com",
	}

	cs := f.differ.DiffSolution(&types.Outage{}, cur, prev, nil, nil)
	assert.Contains(t, cs.ShortText(), "Suggested outcome changed to: Postmortem report.")
	assert.Contains(t, cs.ShortText(), "Report URL changed to: wiki.example.com/pm-42.")
	assert.Contains(t, cs.LongText(), "Resolved at changed to: 2024-05-14 15:30 (UTC).")
	assert.Contains(t, cs.ShortText(), "by <@UALICE>")
}

func TestDiffSolutionSalesFieldsComeFromOutageSnapshots(t *testing.T) {
	f := newDifferFixture(t)

	solutionFields := types.SolutionFields{
		Summary:    "Rolled back the deploy",
		CreatedBy:  "bob@example.com",
		ResolvedAt: time.Date(2024, 5, 14, 15, 0, 0, 0, time.UTC),
	}
	prev := &types.SolutionHistory{Model: gorm.Model{ID: 1}, SolutionFields: solutionFields}
	cur := &types.SolutionHistory{Model: gorm.Model{ID: 2}, SolutionFields: solutionFields, ModifiedBy: "alice@example.com"}

	prevOut := outageVersion(10, baseOutageFields())
	outFields := baseOutageFields()
	outFields.SalesImpact = types.SalesImpactYes
	outFields.SalesImpactDetails = "12 lost bookings, 3000 EUR impact on turnover"
	curOut := outageVersion(11, outFields)

	cs := f.differ.DiffSolution(&types.Outage{}, cur, prev, curOut, prevOut)
	assert.Contains(t, cs.ShortText(), "Sales affected changed to: Yes.")
	assert.Contains(t, cs.ShortText(),
		"Sales affected details changed to: 12 lost bookings, 3000 EUR impact on turnover.")
}

// indexOfLine returns the position of a line in the short rendering.
func indexOfLine(t *testing.T, cs *ChangeSet, line string) int {
	t.Helper()
	for i, l := range cs.short {
		if l == line {
			return i
		}
	}
	t.Fatalf("line %q not found in %q", line, cs.ShortText())
	return -1
}
