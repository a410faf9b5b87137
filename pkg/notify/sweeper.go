package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"outage-tracker/pkg/chat"
	"outage-tracker/pkg/config"
	"outage-tracker/pkg/eta"
	"outage-tracker/pkg/integrations/issuetracker"
	"outage-tracker/pkg/mail"
	"outage-tracker/pkg/metrics"
	"outage-tracker/pkg/repositories"
	"outage-tracker/pkg/types"
)

// Sweeper runs the periodic notification sweeps: estimate deadlines,
// communication cadence, missing estimates and overdue postmortem reports.
// Each sweep is safe to re-run at any time; delivery bookkeeping is only
// committed after the notification actually went out, so a crashed run
// retries and a completed run stays quiet.
type Sweeper struct {
	repos         repositories.Repositories
	chatClient    *chat.Client
	mailer        mail.Sender
	issues        *issuetracker.Client
	configManager *config.Manager[types.TrackerConfig]
	metrics       *metrics.Metrics
	logger        *logrus.Logger

	// now is replaced in tests to pin sweep time arithmetic.
	now func() time.Time
}

// NewSweeper creates a new Sweeper instance. issues may be nil when the issue
// tracker integration is not configured; the postmortem sweep then skips the
// compliance label check.
func NewSweeper(repos repositories.Repositories, chatClient *chat.Client, mailer mail.Sender,
	issues *issuetracker.Client, configManager *config.Manager[types.TrackerConfig],
	m *metrics.Metrics, logger *logrus.Logger) *Sweeper {
	return &Sweeper{
		repos:         repos,
		chatClient:    chatClient,
		mailer:        mailer,
		issues:        issues,
		configManager: configManager,
		metrics:       m,
		logger:        logger,
		now:           time.Now,
	}
}

// RunETA notifies everyone involved in an unresolved outage whose estimated
// deadline has passed or is about to pass. Recipients are deduplicated per
// outage, and the sweep keeps nagging on every run until the estimate is
// updated or the outage is resolved.
func (s *Sweeper) RunETA(ctx context.Context) error {
	cfg := s.configManager.Get()
	ctx, cancel := context.WithTimeout(ctx, cfg.Sweeps.Timeout)
	defer cancel()
	s.metrics.SweepRunsTotal.WithLabelValues("eta").Inc()

	outages, err := s.repos.Outages.ListUnresolvedWithDeadline()
	if err != nil {
		return fmt.Errorf("listing outages with deadline: %w", err)
	}
	now := s.now()
	for i := range outages {
		if err := ctx.Err(); err != nil {
			return err
		}
		outage := &outages[i]
		bucket, ok := eta.Parse(outage.ETA)
		if !ok {
			continue
		}
		deadline, ok := eta.Deadline(bucket, outage.ETALastModified.Time, outage.ETALastModified.Valid)
		if !ok || deadline.After(now.Add(cfg.Sweeps.ETALead)) {
			continue
		}
		s.notifyInvolved(outage, deadline)
	}
	return nil
}

// notifyInvolved sends the deadline warning to every involved user of the
// outage, at most once each even when one user holds several roles.
func (s *Sweeper) notifyInvolved(outage *types.Outage, deadline time.Time) {
	msg := chat.Message{Attachments: []slack.Attachment{{
		Color:     "danger",
		Title:     "Notification: Outage not resolved",
		TitleLink: s.permalink(outage),
		Text:      outage.Summary,
		Fields: []slack.AttachmentField{{
			Title: "ETA",
			Value: fmt.Sprintf("%s (%s)", eta.Bucket(outage.ETA).Label(), chat.FormatDate(deadline)),
			Short: true,
		}},
	}}}
	// Several role addresses can resolve to the same account; dedup on the
	// chat id so nobody gets the warning twice.
	notified := make(map[string]bool)
	for _, email := range outage.InvolvedUsers() {
		chatID, ok := s.chatIDForEmail(email)
		if !ok || notified[chatID] {
			continue
		}
		notified[chatID] = true
		if s.sendDirect(chatID, email, msg) {
			s.metrics.SweepNotificationsTotal.WithLabelValues("eta", "dm").Inc()
		}
	}
}

// RunCommunication pings the communication assignee of every unresolved
// outage whose last ping is older than the configured interval. The timestamp
// is only advanced after the ping went out, so a failed delivery is retried
// on the next run.
func (s *Sweeper) RunCommunication(ctx context.Context) error {
	cfg := s.configManager.Get()
	ctx, cancel := context.WithTimeout(ctx, cfg.Sweeps.Timeout)
	defer cancel()
	s.metrics.SweepRunsTotal.WithLabelValues("communication").Inc()

	outages, err := s.repos.Outages.ListUnresolved()
	if err != nil {
		return fmt.Errorf("listing unresolved outages: %w", err)
	}
	now := s.now()
	for i := range outages {
		if err := ctx.Err(); err != nil {
			return err
		}
		outage := &outages[i]
		last := outage.CreatedAt
		if outage.CommunicationLastNotified.Valid {
			last = outage.CommunicationLastNotified.Time
		}
		if now.Sub(last) < cfg.Sweeps.CommunicationInterval {
			continue
		}
		text := fmt.Sprintf("Notification: please post a communication update for Outage %s", s.outageRef(outage))
		if !s.directMessage(outage.CommunicationAssignee, chat.Message{Text: text}) {
			continue
		}
		s.metrics.SweepNotificationsTotal.WithLabelValues("communication", "dm").Inc()
		if err := s.repos.Outages.SetCommunicationNotified(outage.ID, now); err != nil {
			s.logger.WithFields(logrus.Fields{
				"outage_id": outage.ID,
				"error":     err,
			}).Error("Failed to record communication notification time")
		}
	}
	return nil
}

// RunMissingETA prompts the solution assignee of every unresolved outage that
// has been open longer than the configured delay without an estimate. The
// prompt repeats on every run until an estimate is set.
func (s *Sweeper) RunMissingETA(ctx context.Context) error {
	cfg := s.configManager.Get()
	ctx, cancel := context.WithTimeout(ctx, cfg.Sweeps.Timeout)
	defer cancel()
	s.metrics.SweepRunsTotal.WithLabelValues("missing_eta").Inc()

	outages, err := s.repos.Outages.ListUnresolvedMissingETA(s.now().Add(-cfg.Sweeps.MissingETADelay))
	if err != nil {
		return fmt.Errorf("listing outages without estimate: %w", err)
	}
	for i := range outages {
		if err := ctx.Err(); err != nil {
			return err
		}
		outage := &outages[i]
		text := fmt.Sprintf("Notification: Outage %s has no ETA set. Please provide one.", s.outageRef(outage))
		if s.directMessage(outage.SolutionAssignee, chat.Message{Text: text}) {
			s.metrics.SweepNotificationsTotal.WithLabelValues("missing_eta", "dm").Inc()
		}
	}
	return nil
}

// RunPostmortem escalates overdue postmortem reports in three one-shot
// stages measured from the resolution time: a direct message to the solution
// assignee, an email to the configured recipients, and finally a notice in
// the report channel. Every stage fires exactly once per solution.
func (s *Sweeper) RunPostmortem(ctx context.Context) error {
	cfg := s.configManager.Get()
	ctx, cancel := context.WithTimeout(ctx, cfg.Sweeps.Timeout)
	defer cancel()
	s.metrics.SweepRunsTotal.WithLabelValues("postmortem").Inc()

	solutions, err := s.repos.Solutions.ListMissingPostmortem()
	if err != nil {
		return fmt.Errorf("listing missing postmortems: %w", err)
	}
	now := s.now()
	for i := range solutions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.escalatePostmortem(&solutions[i], now, cfg); err != nil {
			s.logger.WithFields(logrus.Fields{
				"solution_id": solutions[i].ID,
				"error":       err,
			}).Error("Failed to escalate missing postmortem report")
		}
	}

	if s.issues != nil && cfg.IssueTracker.ComplianceLabel != "" && cfg.Chat.PostmortemReportChannel != "" {
		attached, err := s.repos.Solutions.ListPostmortemWithReport()
		if err != nil {
			return fmt.Errorf("listing attached postmortem reports: %w", err)
		}
		for i := range attached {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.verifyComplianceLabel(&attached[i], cfg); err != nil {
				s.logger.WithFields(logrus.Fields{
					"solution_id": attached[i].ID,
					"error":       err,
				}).Error("Failed to verify postmortem compliance label")
			}
		}
	}
	return nil
}

// verifyComplianceLabel checks that an attached postmortem report's tracker
// issue carries the compliance label and posts a one-shot notice to the
// report channel when it does not. A compliant issue sets the flag too, so
// later sweeps skip the remote lookup.
func (s *Sweeper) verifyComplianceLabel(solution *types.Solution, cfg *types.TrackerConfig) error {
	state := solution.PostmortemNotifications
	if state == nil {
		var err error
		state, err = s.repos.Solutions.EnsurePostmortemNotifications(solution.ID)
		if err != nil {
			return fmt.Errorf("loading notification state: %w", err)
		}
	}
	if state.LabelNotified {
		return nil
	}
	iid, ok := issuetracker.IssueIIDFromURL(solution.ReportURL)
	if !ok {
		// Reports hosted outside the tracker carry no labels to check.
		return nil
	}
	issue, err := s.issues.GetIssue(iid)
	if err != nil {
		return fmt.Errorf("loading report issue: %w", err)
	}
	if issue.HasLabel(cfg.IssueTracker.ComplianceLabel) {
		state.LabelNotified = true
		return s.repos.Solutions.SavePostmortemNotifications(state)
	}

	outage, err := s.repos.Outages.GetOutageByID(solution.OutageID)
	if err != nil {
		return fmt.Errorf("loading outage: %w", err)
	}
	text := fmt.Sprintf("The post-mortem report for Outage %s is missing the %q label.",
		s.outageRef(outage), cfg.IssueTracker.ComplianceLabel)
	if _, err := s.chatClient.PostMessage(cfg.Chat.PostmortemReportChannel, chat.Message{Text: text}); err != nil {
		s.logger.WithFields(logrus.Fields{
			"solution_id": solution.ID,
			"error":       err,
		}).Error("Failed to post compliance label notice to report channel")
		return nil
	}
	s.metrics.SweepNotificationsTotal.WithLabelValues("postmortem", "label").Inc()
	state.LabelNotified = true
	return s.repos.Solutions.SavePostmortemNotifications(state)
}

func (s *Sweeper) escalatePostmortem(solution *types.Solution, now time.Time, cfg *types.TrackerConfig) error {
	elapsed := now.Sub(solution.ResolvedAt)
	if elapsed < cfg.Sweeps.PostmortemChatAfter {
		return nil
	}
	state := solution.PostmortemNotifications
	if state == nil {
		var err error
		state, err = s.repos.Solutions.EnsurePostmortemNotifications(solution.ID)
		if err != nil {
			return fmt.Errorf("loading notification state: %w", err)
		}
	}
	outage, err := s.repos.Outages.GetOutageByID(solution.OutageID)
	if err != nil {
		return fmt.Errorf("loading outage: %w", err)
	}
	ref := s.outageRef(outage)

	if !state.ChatNotified {
		text := fmt.Sprintf("A post-mortem report for Outage %s is overdue. Please create one.", ref)
		if s.directMessage(outage.SolutionAssignee, chat.Message{Text: text}) {
			s.metrics.SweepNotificationsTotal.WithLabelValues("postmortem", "dm").Inc()
			state.ChatNotified = true
			if err := s.repos.Solutions.SavePostmortemNotifications(state); err != nil {
				return fmt.Errorf("saving notification state: %w", err)
			}
		}
	}

	if elapsed >= cfg.Sweeps.PostmortemEmailAfter && !state.EmailNotified && len(cfg.Sweeps.PostmortemEmailRecipients) == 0 {
		s.logger.WithField("solution_id", solution.ID).
			Warn("Postmortem email escalation due but no recipients configured, skipping email stage")
	}
	if elapsed >= cfg.Sweeps.PostmortemEmailAfter && !state.EmailNotified && len(cfg.Sweeps.PostmortemEmailRecipients) > 0 {
		subject := fmt.Sprintf("Missing post-mortem report for outage: %s", outage.Summary)
		body := fmt.Sprintf("The outage %q was resolved at %s but its post-mortem report has not been created yet.\n"+
			"Solution assignee: %s\n",
			outage.Summary, solution.ResolvedAt.UTC().Format("2006-01-02 15:04"), outage.SolutionAssignee)
		if outage.Announcement != nil && outage.Announcement.Permalink != "" {
			body += fmt.Sprintf("Announcement: %s\n", outage.Announcement.Permalink)
		}
		if err := s.mailer.Send(cfg.Sweeps.PostmortemEmailRecipients, subject, body); err != nil {
			s.logger.WithFields(logrus.Fields{
				"solution_id": solution.ID,
				"error":       err,
			}).Error("Failed to send postmortem reminder email")
		} else {
			s.metrics.SweepNotificationsTotal.WithLabelValues("postmortem", "email").Inc()
			state.EmailNotified = true
			if err := s.repos.Solutions.SavePostmortemNotifications(state); err != nil {
				return fmt.Errorf("saving notification state: %w", err)
			}
		}
	}

	if elapsed >= cfg.Sweeps.PostmortemLabelAfter && !state.LabelNotified && cfg.Chat.PostmortemReportChannel != "" {
		text := fmt.Sprintf("Outage %s is still missing its post-mortem report.", ref)
		if _, err := s.chatClient.PostMessage(cfg.Chat.PostmortemReportChannel, chat.Message{Text: text}); err != nil {
			s.logger.WithFields(logrus.Fields{
				"solution_id": solution.ID,
				"error":       err,
			}).Error("Failed to post postmortem notice to report channel")
		} else {
			s.metrics.SweepNotificationsTotal.WithLabelValues("postmortem", "channel").Inc()
			state.LabelNotified = true
			if err := s.repos.Solutions.SavePostmortemNotifications(state); err != nil {
				return fmt.Errorf("saving notification state: %w", err)
			}
		}
	}
	return nil
}

// directMessage delivers a direct message to the user identified by email.
// Returns true only when the message was handed to the chat workspace.
func (s *Sweeper) directMessage(email string, msg chat.Message) bool {
	chatID, ok := s.chatIDForEmail(email)
	if !ok {
		return false
	}
	return s.sendDirect(chatID, email, msg)
}

func (s *Sweeper) chatIDForEmail(email string) (string, bool) {
	user, err := s.repos.Users.GetByEmail(email)
	if err != nil || user.ChatID == "" {
		s.logger.Warnf("Unable to send notification to user %s because chat id is unknown", email)
		return "", false
	}
	return user.ChatID, true
}

func (s *Sweeper) sendDirect(chatID, email string, msg chat.Message) bool {
	if err := s.chatClient.SendDirectMessage(chatID, msg); err != nil {
		s.logger.WithFields(logrus.Fields{
			"email": email,
			"error": err,
		}).Error("Failed to send sweep notification")
		return false
	}
	return true
}

// permalink returns the announcement permalink of the outage, or "" when it
// has not been announced yet.
func (s *Sweeper) permalink(outage *types.Outage) string {
	if outage.Announcement != nil {
		return outage.Announcement.Permalink
	}
	return ""
}

// outageRef renders the outage as a chat link when a permalink is known,
// falling back to the plain summary.
func (s *Sweeper) outageRef(outage *types.Outage) string {
	if link := s.permalink(outage); link != "" {
		return chat.FormatLink(link, outage.Summary)
	}
	return outage.Summary
}
