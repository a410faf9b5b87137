package types

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// TrackerConfig contains the application configuration: chat routing, sweep
// thresholds and the external integrations the core talks to.
type TrackerConfig struct {
	Chat         ChatConfig         `json:"chat" yaml:"chat"`
	Sweeps       SweepConfig        `json:"sweeps" yaml:"sweeps"`
	SMTP         SMTPConfig         `json:"smtp" yaml:"smtp"`
	StatusPage   StatusPageConfig   `json:"status_page" yaml:"status_page"`
	IssueTracker IssueTrackerConfig `json:"issue_tracker" yaml:"issue_tracker"`
}

// ChatConfig defines where announcements and notifications are routed.
type ChatConfig struct {
	// AnnounceChannelID is the channel every new outage is announced to.
	AnnounceChannelID string `json:"announce_channel_id" yaml:"announce_channel_id"`
	// SalesChannelID receives a one-shot notification when an outage affecting
	// sales is announced. Empty disables the feature.
	SalesChannelID string `json:"sales_channel_id" yaml:"sales_channel_id"`
	// PostmortemReportChannel receives postmortem nags and due-date reports.
	PostmortemReportChannel string `json:"postmortem_report_channel" yaml:"postmortem_report_channel"`
	// WorkspaceURL is the base URL used to build message permalinks.
	WorkspaceURL string `json:"workspace_url" yaml:"workspace_url"`
	// BotUserID is invited into dedicated outage channels.
	BotUserID string `json:"bot_user_id" yaml:"bot_user_id"`
}

// SweepConfig holds the thresholds driving the periodic notification sweeps.
type SweepConfig struct {
	// ETALead is how far before the computed deadline the ETA sweep starts
	// notifying involved users.
	ETALead time.Duration `json:"eta_lead" yaml:"eta_lead"`
	// CommunicationInterval is the minimum time between pings to the
	// communication assignee of an unresolved outage.
	CommunicationInterval time.Duration `json:"communication_interval" yaml:"communication_interval"`
	// MissingETADelay is how long after announcement an outage without an ETA
	// waits before the solution assignee is prompted for one.
	MissingETADelay time.Duration `json:"missing_eta_delay" yaml:"missing_eta_delay"`
	// Postmortem nag stages, measured from the solution's resolved-at time.
	PostmortemChatAfter  time.Duration `json:"postmortem_chat_after" yaml:"postmortem_chat_after"`
	PostmortemEmailAfter time.Duration `json:"postmortem_email_after" yaml:"postmortem_email_after"`
	PostmortemLabelAfter time.Duration `json:"postmortem_label_after" yaml:"postmortem_label_after"`
	// PostmortemEmailRecipients receives the email nag stage.
	PostmortemEmailRecipients []string `json:"postmortem_email_recipients" yaml:"postmortem_email_recipients"`
	// Timeout bounds a single sweep run; exceeding it aborts the run after the
	// current per-recipient step commits.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// sweepConfigYAML mirrors SweepConfig with durations as strings, so config
// files can say "30m" or "12h" instead of nanosecond counts.
type sweepConfigYAML struct {
	ETALead                   string   `yaml:"eta_lead"`
	CommunicationInterval     string   `yaml:"communication_interval"`
	MissingETADelay           string   `yaml:"missing_eta_delay"`
	PostmortemChatAfter       string   `yaml:"postmortem_chat_after"`
	PostmortemEmailAfter      string   `yaml:"postmortem_email_after"`
	PostmortemLabelAfter      string   `yaml:"postmortem_label_after"`
	PostmortemEmailRecipients []string `yaml:"postmortem_email_recipients"`
	Timeout                   string   `yaml:"timeout"`
}

// UnmarshalYAML parses the sweep thresholds from duration strings.
func (c *SweepConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw sweepConfigYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}
	for _, field := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"eta_lead", raw.ETALead, &c.ETALead},
		{"communication_interval", raw.CommunicationInterval, &c.CommunicationInterval},
		{"missing_eta_delay", raw.MissingETADelay, &c.MissingETADelay},
		{"postmortem_chat_after", raw.PostmortemChatAfter, &c.PostmortemChatAfter},
		{"postmortem_email_after", raw.PostmortemEmailAfter, &c.PostmortemEmailAfter},
		{"postmortem_label_after", raw.PostmortemLabelAfter, &c.PostmortemLabelAfter},
		{"timeout", raw.Timeout, &c.Timeout},
	} {
		if field.raw == "" {
			continue
		}
		d, err := time.ParseDuration(field.raw)
		if err != nil {
			return fmt.Errorf("sweeps.%s: %w", field.name, err)
		}
		*field.dst = d
	}
	c.PostmortemEmailRecipients = raw.PostmortemEmailRecipients
	return nil
}

// WithDefaults fills in the sweep thresholds that were left unset.
func (c SweepConfig) WithDefaults() SweepConfig {
	if c.ETALead == 0 {
		c.ETALead = 10 * time.Minute
	}
	if c.CommunicationInterval == 0 {
		c.CommunicationInterval = 30 * time.Minute
	}
	if c.MissingETADelay == 0 {
		c.MissingETADelay = 15 * time.Minute
	}
	if c.PostmortemChatAfter == 0 {
		c.PostmortemChatAfter = 12 * time.Hour
	}
	if c.PostmortemEmailAfter == 0 {
		c.PostmortemEmailAfter = 24 * time.Hour
	}
	if c.PostmortemLabelAfter == 0 {
		c.PostmortemLabelAfter = 48 * time.Hour
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Minute
	}
	return c
}

// SMTPConfig configures the outbound email transport.
type SMTPConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	From     string `json:"from" yaml:"from"`
	UseTLS   bool   `json:"use_tls" yaml:"use_tls"`
}

// StatusPageConfig configures the public incident-communication page.
// All fields empty disables the integration.
type StatusPageConfig struct {
	APIURL string `json:"api_url" yaml:"api_url"`
	APIKey string `json:"api_key" yaml:"api_key"`
	PageID string `json:"page_id" yaml:"page_id"`
}

// Enabled reports whether the status page integration is configured.
func (c StatusPageConfig) Enabled() bool {
	return c.APIURL != "" && c.APIKey != "" && c.PageID != ""
}

// IssueTrackerConfig configures the issue tracker holding postmortem reports.
// All fields empty disables the integration.
type IssueTrackerConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Token   string `json:"token" yaml:"token"`
	Project string `json:"project" yaml:"project"`
	// ComplianceLabel is the label a postmortem issue must carry; the label
	// nag stage fires when it is missing.
	ComplianceLabel string `json:"compliance_label" yaml:"compliance_label"`
	// DueDateNotifyDays lists how many days before an issue due date the
	// due-date report mentions it.
	DueDateNotifyDays []int `json:"due_date_notify_days" yaml:"due_date_notify_days"`
}

// Enabled reports whether the issue tracker integration is configured.
func (c IssueTrackerConfig) Enabled() bool {
	return c.BaseURL != "" && c.Token != ""
}
