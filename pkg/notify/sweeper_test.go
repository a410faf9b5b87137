package notify

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"outage-tracker/pkg/chat"
	"outage-tracker/pkg/config"
	"outage-tracker/pkg/integrations/issuetracker"
	"outage-tracker/pkg/mail"
	"outage-tracker/pkg/metrics"
	"outage-tracker/pkg/repositories"
	"outage-tracker/pkg/types"
)

type sweeperFixture struct {
	sweeper   *Sweeper
	outages   *repositories.MockOutageRepository
	solutions *repositories.MockSolutionRepository
	users     *repositories.MockUserRepository
	mailer    *mail.MockSender
	server    *chat.MockServer
	now       time.Time
}

func newSweeperFixture(t *testing.T) *sweeperFixture {
	t.Helper()

	server := chat.NewMockServer(t)
	t.Cleanup(server.Close)

	cfg := &types.TrackerConfig{
		Chat: types.ChatConfig{
			AnnounceChannelID:       "C-ANNOUNCE",
			PostmortemReportChannel: "C-REPORTS",
		},
		Sweeps: types.SweepConfig{}.WithDefaults(),
	}

	fixture := &sweeperFixture{
		outages:   &repositories.MockOutageRepository{},
		solutions: &repositories.MockSolutionRepository{},
		users: &repositories.MockUserRepository{
			UsersByEmail: map[string]*types.User{
				"alice@example.com": {Email: "alice@example.com", ChatID: "UALICE"},
				"bob@example.com":   {Email: "bob@example.com", ChatID: "UBOB"},
				"carol@example.com": {Email: "carol@example.com", ChatID: "UCAROL"},
			},
		},
		mailer: &mail.MockSender{},
		server: server,
		now:    time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC),
	}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	repos := repositories.Repositories{
		Outages:   fixture.outages,
		Solutions: fixture.solutions,
		Users:     fixture.users,
	}
	fixture.sweeper = NewSweeper(repos, server.Client(), fixture.mailer, nil,
		config.CreateTestConfigManager(cfg), metrics.NewForTesting(), logger)
	fixture.sweeper.now = func() time.Time { return fixture.now }
	return fixture
}

func (f *sweeperFixture) unresolvedOutage(id uint, opts ...func(*types.Outage)) types.Outage {
	outage := types.Outage{
		Model: gorm.Model{ID: id, CreatedAt: f.now.Add(-2 * time.Hour)},
		OutageFields: types.OutageFields{
			Summary:               "Payment API down",
			CreatedBy:             "alice@example.com",
			SolutionAssignee:      "bob@example.com",
			CommunicationAssignee: "carol@example.com",
			StartedAt:             f.now.Add(-2 * time.Hour),
			AnnounceOnChat:        true,
		},
		Announcement: &types.Announcement{
			OutageID:  id,
			ChannelID: "C-ANNOUNCE",
			MessageTS: "1234.5678",
			Permalink: "https://chat.example.com/archives/C-ANNOUNCE/p12345678",
		},
	}
	for _, opt := range opts {
		opt(&outage)
	}
	return outage
}

func TestETASweepNotifiesInvolvedUsersOnce(t *testing.T) {
	f := newSweeperFixture(t)

	outage := f.unresolvedOutage(1)
	outage.SetETA("<30m", f.now.Add(-time.Hour))
	// The creator also holds the communication role; one message, not two.
	outage.CommunicationAssignee = "alice@example.com"
	f.outages.UnresolvedWithDeadline = []types.Outage{outage}

	require.NoError(t, f.sweeper.RunETA(context.Background()))

	aliceMsgs := f.server.DirectMessages("UALICE")
	require.Len(t, aliceMsgs, 1)
	require.Len(t, aliceMsgs[0].Attachments, 1)
	attachment := aliceMsgs[0].Attachments[0]
	assert.Equal(t, "danger", attachment.Color)
	assert.Equal(t, "Notification: Outage not resolved", attachment.Title)
	assert.Equal(t, outage.Announcement.Permalink, attachment.TitleLink)
	assert.Equal(t, "Payment API down", attachment.Text)
	require.Len(t, attachment.Fields, 1)
	assert.Equal(t, "ETA", attachment.Fields[0].Title)
	assert.Contains(t, attachment.Fields[0].Value, "<30m")

	assert.Len(t, f.server.DirectMessages("UBOB"), 1)
	assert.Empty(t, f.server.DirectMessages("UCAROL"))
}

func TestETASweepRepeatsOnEveryRun(t *testing.T) {
	f := newSweeperFixture(t)

	outage := f.unresolvedOutage(1)
	outage.SetETA("<2h", f.now.Add(-3*time.Hour))
	f.outages.UnresolvedWithDeadline = []types.Outage{outage}

	require.NoError(t, f.sweeper.RunETA(context.Background()))
	require.NoError(t, f.sweeper.RunETA(context.Background()))

	assert.Len(t, f.server.DirectMessages("UBOB"), 2)
}

func TestETASweepSkipsFutureDeadline(t *testing.T) {
	f := newSweeperFixture(t)

	outage := f.unresolvedOutage(1)
	outage.SetETA("<24h", f.now.Add(-time.Minute))
	f.outages.UnresolvedWithDeadline = []types.Outage{outage}

	require.NoError(t, f.sweeper.RunETA(context.Background()))

	assert.Empty(t, f.server.PostedMessages())
}

func TestETASweepSkipsUsersWithoutChatID(t *testing.T) {
	f := newSweeperFixture(t)
	delete(f.users.UsersByEmail, "alice@example.com")

	outage := f.unresolvedOutage(1)
	outage.SetETA("<30m", f.now.Add(-time.Hour))
	f.outages.UnresolvedWithDeadline = []types.Outage{outage}

	require.NoError(t, f.sweeper.RunETA(context.Background()))

	assert.Empty(t, f.server.DirectMessages("UALICE"))
	assert.Len(t, f.server.DirectMessages("UBOB"), 1)
	assert.Len(t, f.server.DirectMessages("UCAROL"), 1)
}

func TestCommunicationSweepPingsOnInterval(t *testing.T) {
	f := newSweeperFixture(t)

	due := f.unresolvedOutage(1)
	recent := f.unresolvedOutage(2)
	recent.CommunicationLastNotified = sql.NullTime{Time: f.now.Add(-5 * time.Minute), Valid: true}
	f.outages.Unresolved = []types.Outage{due, recent}

	require.NoError(t, f.sweeper.RunCommunication(context.Background()))

	carolMsgs := f.server.DirectMessages("UCAROL")
	require.Len(t, carolMsgs, 1)
	assert.Contains(t, carolMsgs[0].Text, "communication update")
	assert.Contains(t, carolMsgs[0].Text, "Payment API down")

	require.Contains(t, f.outages.CommunicationMarks, uint(1))
	assert.Equal(t, f.now, f.outages.CommunicationMarks[uint(1)])
	assert.NotContains(t, f.outages.CommunicationMarks, uint(2))
}

func TestCommunicationSweepDoesNotAdvanceOnFailedDelivery(t *testing.T) {
	f := newSweeperFixture(t)
	delete(f.users.UsersByEmail, "carol@example.com")

	f.outages.Unresolved = []types.Outage{f.unresolvedOutage(1)}

	require.NoError(t, f.sweeper.RunCommunication(context.Background()))

	assert.Empty(t, f.server.PostedMessages())
	assert.Empty(t, f.outages.CommunicationMarks)
}

func TestMissingETASweepPromptsSolutionAssignee(t *testing.T) {
	f := newSweeperFixture(t)

	f.outages.UnresolvedMissingETA = []types.Outage{f.unresolvedOutage(1)}

	require.NoError(t, f.sweeper.RunMissingETA(context.Background()))

	bobMsgs := f.server.DirectMessages("UBOB")
	require.Len(t, bobMsgs, 1)
	assert.Contains(t, bobMsgs[0].Text, "has no ETA set")

	// The prompt repeats until an estimate shows up.
	require.NoError(t, f.sweeper.RunMissingETA(context.Background()))
	assert.Len(t, f.server.DirectMessages("UBOB"), 2)
}

func missingPostmortemSolution(resolvedAt time.Time) types.Solution {
	return types.Solution{
		Model:    gorm.Model{ID: 7},
		OutageID: 1,
		SolutionFields: types.SolutionFields{
			Summary:          "Rolled back the deploy",
			CreatedBy:        "bob@example.com",
			ResolvedAt:       resolvedAt,
			SuggestedOutcome: types.OutcomePostmortem,
		},
	}
}

func TestPostmortemSweepChatStage(t *testing.T) {
	f := newSweeperFixture(t)

	outage := f.unresolvedOutage(1)
	f.outages.OutageByID = &outage
	f.solutions.MissingPostmortem = []types.Solution{missingPostmortemSolution(f.now.Add(-13 * time.Hour))}

	require.NoError(t, f.sweeper.RunPostmortem(context.Background()))

	bobMsgs := f.server.DirectMessages("UBOB")
	require.Len(t, bobMsgs, 1)
	assert.Contains(t, bobMsgs[0].Text, "post-mortem report")
	assert.Empty(t, f.mailer.Sent)

	require.Len(t, f.solutions.SavedNotifications, 1)
	state := f.solutions.SavedNotifications[0]
	assert.True(t, state.ChatNotified)
	assert.False(t, state.EmailNotified)
	assert.False(t, state.LabelNotified)

	// Second run within the same stage stays quiet.
	require.NoError(t, f.sweeper.RunPostmortem(context.Background()))
	assert.Len(t, f.server.DirectMessages("UBOB"), 1)
}

func TestPostmortemSweepEmailStage(t *testing.T) {
	f := newSweeperFixture(t)

	cfg := f.sweeper.configManager.Get()
	cfg.Sweeps.PostmortemEmailRecipients = []string{"managers@example.com"}

	outage := f.unresolvedOutage(1)
	f.outages.OutageByID = &outage
	f.solutions.MissingPostmortem = []types.Solution{missingPostmortemSolution(f.now.Add(-25 * time.Hour))}

	require.NoError(t, f.sweeper.RunPostmortem(context.Background()))

	// Both overdue stages fire in one pass.
	assert.Len(t, f.server.DirectMessages("UBOB"), 1)
	require.Len(t, f.mailer.Sent, 1)
	sent := f.mailer.Sent[0]
	assert.Equal(t, []string{"managers@example.com"}, sent.To)
	assert.Contains(t, sent.Subject, "Missing post-mortem report")
	assert.Contains(t, sent.Body, "Payment API down")
	assert.Contains(t, sent.Body, "bob@example.com")

	require.NotNil(t, f.solutions.Notifications)
	assert.True(t, f.solutions.Notifications.ChatNotified)
	assert.True(t, f.solutions.Notifications.EmailNotified)
	assert.False(t, f.solutions.Notifications.LabelNotified)
}

func TestPostmortemSweepLabelStage(t *testing.T) {
	f := newSweeperFixture(t)

	outage := f.unresolvedOutage(1)
	f.outages.OutageByID = &outage
	f.solutions.MissingPostmortem = []types.Solution{missingPostmortemSolution(f.now.Add(-49 * time.Hour))}
	f.solutions.Notifications = &types.PostmortemNotifications{
		SolutionID:    7,
		ChatNotified:  true,
		EmailNotified: true,
	}
	f.solutions.MissingPostmortem[0].PostmortemNotifications = f.solutions.Notifications

	require.NoError(t, f.sweeper.RunPostmortem(context.Background()))

	assert.Empty(t, f.server.DirectMessages("UBOB"))
	assert.Empty(t, f.mailer.Sent)

	posted := f.server.PostedMessages()
	require.Len(t, posted, 1)
	assert.Equal(t, "C-REPORTS", posted[0].Channel)
	assert.Contains(t, posted[0].Text, "missing its post-mortem report")
	assert.True(t, f.solutions.Notifications.LabelNotified)
}

func TestPostmortemSweepFailedEmailRetries(t *testing.T) {
	f := newSweeperFixture(t)

	cfg := f.sweeper.configManager.Get()
	cfg.Sweeps.PostmortemEmailRecipients = []string{"managers@example.com"}

	outage := f.unresolvedOutage(1)
	f.outages.OutageByID = &outage
	f.solutions.MissingPostmortem = []types.Solution{missingPostmortemSolution(f.now.Add(-25 * time.Hour))}
	f.solutions.Notifications = &types.PostmortemNotifications{SolutionID: 7, ChatNotified: true}
	f.solutions.MissingPostmortem[0].PostmortemNotifications = f.solutions.Notifications
	f.mailer.SendError = assert.AnError

	require.NoError(t, f.sweeper.RunPostmortem(context.Background()))
	assert.False(t, f.solutions.Notifications.EmailNotified)

	f.mailer.SendError = nil
	require.NoError(t, f.sweeper.RunPostmortem(context.Background()))
	assert.Len(t, f.mailer.Sent, 1)
	assert.True(t, f.solutions.Notifications.EmailNotified)
}

func TestETASweepDedupsSharedChatAccount(t *testing.T) {
	f := newSweeperFixture(t)
	// Two role addresses resolve to the same chat account.
	f.users.UsersByEmail["bob.oncall@example.com"] = &types.User{
		Email: "bob.oncall@example.com", ChatID: "UBOB",
	}

	outage := f.unresolvedOutage(1)
	outage.SetETA("<30m", f.now.Add(-time.Hour))
	outage.CreatedBy = "bob@example.com"
	outage.SolutionAssignee = "bob@example.com"
	outage.CommunicationAssignee = "bob.oncall@example.com"
	f.outages.UnresolvedWithDeadline = []types.Outage{outage}

	require.NoError(t, f.sweeper.RunETA(context.Background()))

	assert.Len(t, f.server.DirectMessages("UBOB"), 1)
}

func TestPostmortemSweepWarnsWhenEmailRecipientsMissing(t *testing.T) {
	f := newSweeperFixture(t)
	var logs bytes.Buffer
	f.sweeper.logger.SetOutput(&logs)
	f.sweeper.logger.SetLevel(logrus.WarnLevel)

	outage := f.unresolvedOutage(1)
	f.outages.OutageByID = &outage
	f.solutions.MissingPostmortem = []types.Solution{missingPostmortemSolution(f.now.Add(-25 * time.Hour))}
	f.solutions.Notifications = &types.PostmortemNotifications{SolutionID: 7, ChatNotified: true}
	f.solutions.MissingPostmortem[0].PostmortemNotifications = f.solutions.Notifications

	require.NoError(t, f.sweeper.RunPostmortem(context.Background()))

	assert.Empty(t, f.mailer.Sent)
	assert.False(t, f.solutions.Notifications.EmailNotified)
	assert.Contains(t, logs.String(), "no recipients configured")
}

func attachedPostmortemSolution(resolvedAt time.Time, reportURL string) types.Solution {
	solution := missingPostmortemSolution(resolvedAt)
	solution.ReportURL = reportURL
	return solution
}

// withIssueTracker points the sweeper at a fake tracker serving a single
// issue and enables the compliance label check.
func (f *sweeperFixture) withIssueTracker(t *testing.T, issue issuetracker.Issue) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != fmt.Sprintf("/api/v4/projects/postmortems/issues/%d", issue.IID) {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(issue)
	}))
	t.Cleanup(srv.Close)
	f.sweeper.issues = issuetracker.NewClient(types.IssueTrackerConfig{
		BaseURL: srv.URL,
		Token:   "test-token",
		Project: "postmortems",
	})
	f.sweeper.configManager.Get().IssueTracker.ComplianceLabel = "compliance/approved"
}

func TestPostmortemSweepFlagsMissingComplianceLabel(t *testing.T) {
	f := newSweeperFixture(t)
	f.withIssueTracker(t, issuetracker.Issue{IID: 42, Labels: []string{"postmortem"}})

	outage := f.unresolvedOutage(1)
	f.outages.OutageByID = &outage
	f.solutions.Notifications = &types.PostmortemNotifications{
		SolutionID:    7,
		ChatNotified:  true,
		EmailNotified: true,
	}
	solution := attachedPostmortemSolution(f.now.Add(-72*time.Hour),
		"https://tracker.example.com/ops/postmortems/-/issues/42")
	solution.PostmortemNotifications = f.solutions.Notifications
	f.solutions.PostmortemWithReport = []types.Solution{solution}

	require.NoError(t, f.sweeper.RunPostmortem(context.Background()))

	posted := f.server.PostedMessages()
	require.Len(t, posted, 1)
	assert.Equal(t, "C-REPORTS", posted[0].Channel)
	assert.Contains(t, posted[0].Text, `missing the "compliance/approved" label`)
	assert.True(t, f.solutions.Notifications.LabelNotified)

	// One notice per solution; the next run stays quiet.
	f.solutions.PostmortemWithReport[0].PostmortemNotifications = f.solutions.Notifications
	require.NoError(t, f.sweeper.RunPostmortem(context.Background()))
	assert.Len(t, f.server.PostedMessages(), 1)
}

func TestPostmortemSweepAcceptsLabeledReport(t *testing.T) {
	f := newSweeperFixture(t)
	f.withIssueTracker(t, issuetracker.Issue{IID: 42, Labels: []string{"postmortem", "compliance/approved"}})

	outage := f.unresolvedOutage(1)
	f.outages.OutageByID = &outage
	f.solutions.Notifications = &types.PostmortemNotifications{
		SolutionID:    7,
		ChatNotified:  true,
		EmailNotified: true,
	}
	solution := attachedPostmortemSolution(f.now.Add(-72*time.Hour),
		"https://tracker.example.com/ops/postmortems/-/issues/42")
	solution.PostmortemNotifications = f.solutions.Notifications
	f.solutions.PostmortemWithReport = []types.Solution{solution}

	require.NoError(t, f.sweeper.RunPostmortem(context.Background()))

	assert.Empty(t, f.server.PostedMessages())
	// Compliant issues are marked so later sweeps skip the lookup.
	assert.True(t, f.solutions.Notifications.LabelNotified)
}

func TestPostmortemSweepIgnoresExternalReports(t *testing.T) {
	f := newSweeperFixture(t)
	f.withIssueTracker(t, issuetracker.Issue{IID: 42})

	outage := f.unresolvedOutage(1)
	f.outages.OutageByID = &outage
	f.solutions.Notifications = &types.PostmortemNotifications{
		SolutionID:    7,
		ChatNotified:  true,
		EmailNotified: true,
	}
	solution := attachedPostmortemSolution(f.now.Add(-72*time.Hour),
		"https://docs.example.com/reports/payment-outage")
	solution.PostmortemNotifications = f.solutions.Notifications
	f.solutions.PostmortemWithReport = []types.Solution{solution}

	require.NoError(t, f.sweeper.RunPostmortem(context.Background()))

	assert.Empty(t, f.server.PostedMessages())
	assert.False(t, f.solutions.Notifications.LabelNotified)
}
