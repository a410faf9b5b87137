package issuetracker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outage-tracker/pkg/chat"
	"outage-tracker/pkg/config"
	"outage-tracker/pkg/mail"
	"outage-tracker/pkg/types"
)

func TestNewClientDisabledWithoutConfig(t *testing.T) {
	assert.Nil(t, NewClient(types.IssueTrackerConfig{}))
	assert.NotNil(t, NewClient(types.IssueTrackerConfig{BaseURL: "https://git.example.com", Token: "secret"}))
}

func TestListOpenIssues(t *testing.T) {
	var gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("PRIVATE-TOKEN")
		assert.Equal(t, "opened", r.URL.Query().Get("state"))
		_ = json.NewEncoder(w).Encode([]Issue{
			{ID: 1, Title: "Postmortem: payment outage", WebURL: "https://git.example.com/i/1", DueDate: "2024-05-10"},
			{ID: 2, Title: "Postmortem: search outage", WebURL: "https://git.example.com/i/2"},
		})
	}))
	defer server.Close()

	client := NewClient(types.IssueTrackerConfig{BaseURL: server.URL, Token: "secret"})
	issues, err := client.ListOpenIssues()
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "secret", gotToken)
	assert.Equal(t, "Postmortem: payment outage", issues[0].Title)
}

func TestIssuesDueSoon(t *testing.T) {
	today := time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC)
	issues := []Issue{
		{ID: 1, DueDate: "2024-05-15"}, // 1 day out
		{ID: 2, DueDate: "2024-05-17"}, // 3 days out
		{ID: 3, DueDate: "2024-05-21"}, // 7 days out
		{ID: 4, DueDate: ""},
		{ID: 5, DueDate: "2024-05-16"}, // 2 days out, not in the notify list
	}

	due := IssuesDueSoon(issues, []int{1, 7}, today)
	require.Len(t, due, 2)
	assert.Equal(t, 1, due[0].ID)
	assert.Equal(t, 3, due[1].ID)
}

func TestIssuesPastDueDate(t *testing.T) {
	today := time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC)
	issues := []Issue{
		{ID: 1, DueDate: "2024-05-13"},
		{ID: 2, DueDate: "2024-05-14"}, // due today is not past due
		{ID: 3, DueDate: "2024-05-01"},
		{ID: 4, DueDate: ""},
	}

	past := IssuesPastDueDate(issues, today)
	require.Len(t, past, 2)
	// Sorted by due date, oldest first.
	assert.Equal(t, 3, past[0].ID)
	assert.Equal(t, 1, past[1].ID)
}

func TestIssueIIDFromURL(t *testing.T) {
	tests := []struct {
		url string
		iid int
		ok  bool
	}{
		{"https://git.example.com/ops/postmortems/-/issues/42", 42, true},
		{"https://git.example.com/ops/postmortems/issues/7", 7, true},
		{"https://git.example.com/ops/postmortems/-/issues/42#note_1", 42, true},
		{"https://docs.example.com/reports/payment-outage", 0, false},
		{"https://git.example.com/ops/postmortems/-/issues/abc", 0, false},
		{"https://git.example.com/ops/postmortems/-/issues/-3", 0, false},
		{"", 0, false},
	}
	for _, tc := range tests {
		iid, ok := IssueIIDFromURL(tc.url)
		assert.Equal(t, tc.ok, ok, tc.url)
		assert.Equal(t, tc.iid, iid, tc.url)
	}
}

func TestIssueHasLabel(t *testing.T) {
	issue := Issue{Labels: []string{"postmortem", "compliance-ok"}}
	assert.True(t, issue.HasLabel("compliance-ok"))
	assert.False(t, issue.HasLabel("incident"))
}

func newReporterFixture(t *testing.T, issues []Issue) (*Reporter, *chat.MockServer, *mail.MockSender) {
	t.Helper()

	tracker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(issues)
	}))
	t.Cleanup(tracker.Close)

	chatServer := chat.NewMockServer(t)
	t.Cleanup(chatServer.Close)

	cfg := &types.TrackerConfig{
		Chat: types.ChatConfig{PostmortemReportChannel: "C-REPORTS"},
		Sweeps: types.SweepConfig{
			PostmortemEmailRecipients: []string{"managers@example.com"},
		}.WithDefaults(),
	}
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	mailer := &mail.MockSender{}
	client := NewClient(types.IssueTrackerConfig{BaseURL: tracker.URL, Token: "secret"})
	reporter := NewReporter(client, chatServer.Client(), mailer, config.CreateTestConfigManager(cfg), logger)
	reporter.now = func() time.Time { return time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC) }
	return reporter, chatServer, mailer
}

func TestPastDueReportWithOverdueIssues(t *testing.T) {
	reporter, chatServer, mailer := newReporterFixture(t, []Issue{
		{ID: 1, Title: "Postmortem: payment outage", WebURL: "https://git.example.com/i/1", DueDate: "2024-05-10"},
		{ID: 2, Title: "Postmortem: search outage", WebURL: "https://git.example.com/i/2", DueDate: "2024-06-01"},
	})

	require.NoError(t, reporter.RunPastDueReport())

	posted := chatServer.PostedMessages()
	require.Len(t, posted, 1)
	assert.Equal(t, "C-REPORTS", posted[0].Channel)
	assert.Contains(t, posted[0].Text, "past their due date is 1")
	require.Len(t, posted[0].Attachments, 1)
	require.Len(t, posted[0].Attachments[0].Fields, 1)
	assert.Contains(t, posted[0].Attachments[0].Fields[0].Value, "https://git.example.com/i/1")

	require.Len(t, mailer.Sent, 1)
	assert.Contains(t, mailer.Sent[0].Body, "https://git.example.com/i/1")
	assert.NotContains(t, mailer.Sent[0].Body, "https://git.example.com/i/2")
}

func TestPastDueReportIncludesDueSoonWarning(t *testing.T) {
	reporter, chatServer, _ := newReporterFixture(t, []Issue{
		{ID: 1, Title: "Postmortem: payment outage", WebURL: "https://git.example.com/i/1", DueDate: "2024-05-10"},
		{ID: 2, Title: "Postmortem: search outage", WebURL: "https://git.example.com/i/2", DueDate: "2024-05-15"},
	})
	reporter.configManager.Get().IssueTracker.DueDateNotifyDays = []int{1, 7}

	require.NoError(t, reporter.RunPastDueReport())

	posted := chatServer.PostedMessages()
	require.Len(t, posted, 1)
	require.Len(t, posted[0].Attachments, 2)
	assert.Equal(t, "danger", posted[0].Attachments[0].Color)

	warning := posted[0].Attachments[1]
	assert.Equal(t, "warning", warning.Color)
	assert.Equal(t, "Postmortems approaching their due date", warning.Title)
	require.Len(t, warning.Fields, 1)
	assert.Contains(t, warning.Fields[0].Value, "https://git.example.com/i/2")
}

func TestPastDueReportWithoutOverdueIssues(t *testing.T) {
	reporter, chatServer, mailer := newReporterFixture(t, nil)

	require.NoError(t, reporter.RunPastDueReport())

	posted := chatServer.PostedMessages()
	require.Len(t, posted, 1)
	assert.Contains(t, posted[0].Text, ":tada:")
	assert.Empty(t, posted[0].Attachments)
	require.Len(t, mailer.Sent, 1)
}
