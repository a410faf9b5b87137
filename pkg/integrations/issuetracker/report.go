package issuetracker

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"outage-tracker/pkg/chat"
	"outage-tracker/pkg/config"
	"outage-tracker/pkg/mail"
	"outage-tracker/pkg/types"
)

// Reporter produces the postmortem due-date report and delivers it to the
// report channel and the configured email recipients.
type Reporter struct {
	client        *Client
	chatClient    *chat.Client
	mailer        mail.Sender
	configManager *config.Manager[types.TrackerConfig]
	logger        *logrus.Logger

	// now is replaced in tests to pin date arithmetic.
	now func() time.Time
}

// NewReporter creates a new Reporter instance.
func NewReporter(client *Client, chatClient *chat.Client, mailer mail.Sender,
	configManager *config.Manager[types.TrackerConfig], logger *logrus.Logger) *Reporter {
	return &Reporter{
		client:        client,
		chatClient:    chatClient,
		mailer:        mailer,
		configManager: configManager,
		logger:        logger,
		now:           time.Now,
	}
}

// RunPastDueReport lists open postmortem issues already past their due date
// and publishes the report.
func (r *Reporter) RunPastDueReport() error {
	if r.client == nil {
		r.logger.Info("Issue tracker not configured, skipping postmortem report")
		return nil
	}
	issues, err := r.client.ListOpenIssues()
	if err != nil {
		return fmt.Errorf("listing open issues: %w", err)
	}
	cfg := r.configManager.Get()
	pastDue := IssuesPastDueDate(issues, r.now())
	dueSoon := IssuesDueSoon(issues, cfg.IssueTracker.DueDateNotifyDays, r.now())

	reaction := "No postmortems past their due date :tada:"
	if len(pastDue) > 0 {
		reaction = fmt.Sprintf("Number of postmortems past their due date is %d", len(pastDue))
	}
	comment := fmt.Sprintf("New postmortem report is ready. %s", reaction)

	if cfg.Chat.PostmortemReportChannel != "" {
		msg := chat.Message{Text: comment}
		if len(pastDue) > 0 {
			msg.Attachments = append(msg.Attachments,
				issueListAttachment(pastDue, "danger", "Postmortems past their due date"))
		}
		if len(dueSoon) > 0 {
			msg.Attachments = append(msg.Attachments,
				issueListAttachment(dueSoon, "warning", "Postmortems approaching their due date"))
		}
		if _, err := r.chatClient.PostMessage(cfg.Chat.PostmortemReportChannel, msg); err != nil {
			r.logger.WithField("error", err).Error("Failed to post postmortem report to chat")
		}
	}
	if len(cfg.Sweeps.PostmortemEmailRecipients) > 0 {
		body := fmt.Sprintf("%s\n\n%s", comment, issueListCSV(pastDue))
		if err := r.mailer.Send(cfg.Sweeps.PostmortemEmailRecipients, "Postmortem due date report", body); err != nil {
			r.logger.WithField("error", err).Error("Failed to send postmortem report email")
		}
	}
	return nil
}

func issueListAttachment(issues []Issue, color, title string) slack.Attachment {
	fields := make([]slack.AttachmentField, 0, len(issues))
	for _, issue := range issues {
		fields = append(fields, slack.AttachmentField{
			Title: issue.DueDate,
			Value: chat.FormatLink(issue.WebURL, issue.Title),
		})
	}
	return slack.Attachment{
		Color:  color,
		Title:  title,
		Fields: fields,
	}
}

func issueListCSV(issues []Issue) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"row", "url", "due date"})
	for i, issue := range issues {
		_ = w.Write([]string{strconv.Itoa(i + 1), issue.WebURL, issue.DueDate})
	}
	w.Flush()
	return buf.String()
}
