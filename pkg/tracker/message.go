package tracker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"outage-tracker/pkg/chat"
	"outage-tracker/pkg/eta"
	"outage-tracker/pkg/repositories"
	"outage-tracker/pkg/types"
)

// MessageBuilder renders the announcement attachment for an outage. The
// field layout differs between unresolved and resolved outages; both use the
// same message slot, updated in place.
type MessageBuilder struct {
	systems repositories.SystemRepository
	users   repositories.UserRepository
	logger  *logrus.Logger
}

// NewMessageBuilder creates a new MessageBuilder instance.
func NewMessageBuilder(systems repositories.SystemRepository, users repositories.UserRepository, logger *logrus.Logger) *MessageBuilder {
	return &MessageBuilder{
		systems: systems,
		users:   users,
		logger:  logger,
	}
}

// Build renders the current announcement body for an outage.
func (b *MessageBuilder) Build(outage *types.Outage, ann *types.Announcement) chat.Message {
	if outage.Resolved && outage.Solution != nil {
		return chat.Message{Attachments: []slack.Attachment{b.resolvedAttachment(outage)}}
	}
	return chat.Message{Attachments: []slack.Attachment{b.unresolvedAttachment(outage, ann)}}
}

func (b *MessageBuilder) title(outage *types.Outage) string {
	return fmt.Sprintf("%s incident", b.systemName(outage.SystemID))
}

func (b *MessageBuilder) unresolvedAttachment(outage *types.Outage, ann *types.Announcement) slack.Attachment {
	attachment := slack.Attachment{
		CallbackID: strconv.FormatUint(uint64(outage.ID), 10),
		Fallback:   fmt.Sprintf("%s - %s", b.title(outage), outage.Summary),
		Color:      "danger",
		Title:      b.title(outage),
		Text:       outage.Summary,
		Fields: []slack.AttachmentField{
			{Title: "Impact on sales", Value: b.salesValue(outage)},
			{Title: "Assignees", Value: b.assigneesValue(outage), Short: true},
			{Title: "ETA", Value: b.etaValue(outage), Short: true},
		},
	}
	if ann != nil && ann.DedicatedChannelID != "" {
		attachment.Fields = append(attachment.Fields, slack.AttachmentField{
			Title: "Dedicated channel",
			Value: chat.FormatChannel(ann.DedicatedChannelID, ""),
			Short: true,
		})
	}
	return attachment
}

func (b *MessageBuilder) resolvedAttachment(outage *types.Outage) slack.Attachment {
	solution := outage.Solution
	title := "Resolved " + b.title(outage)
	if solution.ReportTitle != "" {
		title = solution.ReportTitle
	}
	return slack.Attachment{
		CallbackID: strconv.FormatUint(uint64(outage.ID), 10),
		Fallback:   fmt.Sprintf("%s - %s", title, outage.Summary),
		Color:      "good",
		Title:      title,
		Text:       outage.Summary,
		Fields: []slack.AttachmentField{
			{Title: "Impact on sales", Value: b.salesValue(outage)},
			{Title: "Resolution", Value: b.resolutionValue(solution)},
			{Title: "Assignees", Value: b.assigneesValue(outage), Short: true},
			{Title: "Duration", Value: formatDowntime(solution.Downtime(outage.StartedAt)), Short: true},
		},
		Footer: fmt.Sprintf("Outage was resolved by %s", b.mention(solution.CreatedBy)),
		Ts:     json.Number(strconv.FormatInt(solution.ResolvedAt.Unix(), 10)),
	}
}

func (b *MessageBuilder) salesValue(outage *types.Outage) string {
	value := outage.SalesImpact.Label() + "."
	if outage.SalesImpactDetails != "" {
		value += " " + outage.SalesImpactDetails
	}
	return value
}

func (b *MessageBuilder) assigneesValue(outage *types.Outage) string {
	return fmt.Sprintf("%s for resolution\n%s for communication",
		b.mention(outage.SolutionAssignee), b.mention(outage.CommunicationAssignee))
}

func (b *MessageBuilder) etaValue(outage *types.Outage) string {
	bucket, ok := eta.Parse(outage.ETA)
	if !ok {
		return "Unknown"
	}
	deadline, ok := eta.Deadline(bucket, outage.ETALastModified.Time, outage.ETALastModified.Valid)
	if !ok {
		return "Unknown"
	}
	return chat.FormatDate(deadline)
}

func (b *MessageBuilder) resolutionValue(solution *types.Solution) string {
	resolution := solution.Summary
	if solution.PostmortemRequired() {
		if solution.ReportURL != "" {
			resolution += fmt.Sprintf("\n\nSee %s.", chat.FormatLink(solution.FullReportURL(), "post-mortem report"))
		} else {
			resolution += "\n\nPost-mortem report will be created."
		}
	}
	return resolution
}

func (b *MessageBuilder) mention(email string) string {
	user, err := b.users.GetByEmail(email)
	if err != nil {
		return email
	}
	return user.Mention()
}

func (b *MessageBuilder) systemName(id *uint) string {
	if id == nil {
		return "Unknown system"
	}
	system, err := b.systems.GetSystemByID(*id)
	if err != nil {
		b.logger.WithFields(logrus.Fields{
			"system_id": *id,
			"error":     err,
		}).Warn("Failed to resolve system name for announcement")
		return "Unknown system"
	}
	return system.Name
}

// formatDowntime renders a duration as "1d 2h 5m", omitting leading zero
// units but always showing minutes.
func formatDowntime(d time.Duration) string {
	d = d.Round(time.Minute)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	out := fmt.Sprintf("%dm", minutes)
	if hours > 0 || days > 0 {
		out = fmt.Sprintf("%dh %s", hours, out)
	}
	if days > 0 {
		out = fmt.Sprintf("%dd %s", days, out)
	}
	return out
}
