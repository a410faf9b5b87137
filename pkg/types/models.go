package types

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// SalesImpact classifies whether an outage affected sales.
type SalesImpact string

const (
	SalesImpactYes     SalesImpact = "yes"
	SalesImpactNo      SalesImpact = "no"
	SalesImpactUnknown SalesImpact = "unknown"
)

// IsValidSalesImpact checks if the provided string is a valid sales impact classification.
func IsValidSalesImpact(impact string) bool {
	switch SalesImpact(impact) {
	case SalesImpactYes, SalesImpactNo, SalesImpactUnknown:
		return true
	default:
		return false
	}
}

// Label returns the human-readable form of the classification.
func (s SalesImpact) Label() string {
	switch s {
	case SalesImpactYes:
		return "Yes"
	case SalesImpactNo:
		return "No"
	default:
		return "Unknown"
	}
}

// Outcome is the suggested follow-up once an outage is resolved.
type Outcome string

const (
	OutcomePostmortem Outcome = "postmortem"
	OutcomeNone       Outcome = "none"
)

// OutcomeLabel returns the human-readable label for an outcome.
func OutcomeLabel(o Outcome) string {
	if o == OutcomePostmortem {
		return "Postmortem report"
	}
	return "None"
}

// System is a lookup table of systems an outage can affect.
type System struct {
	gorm.Model
	Name string `json:"name" gorm:"column:name;not null;uniqueIndex"`
	// StatusPageComponentID maps the system to a public status page
	// component. Empty means the system is not published there.
	StatusPageComponentID string `json:"status_page_component_id" gorm:"column:status_page_component_id"`
}

// RootCause is a lookup table of known root-cause categories.
type RootCause struct {
	gorm.Model
	Name string `json:"name" gorm:"column:name;not null;uniqueIndex"`
}

// User binds an email identity to a chat identity. A user without a ChatID
// cannot receive direct messages; deliveries to them are logged and skipped.
type User struct {
	gorm.Model
	Email       string `json:"email" gorm:"column:email;not null;uniqueIndex"`
	ChatID      string `json:"chat_id" gorm:"column:chat_id;index"`
	DisplayName string `json:"display_name" gorm:"column:display_name"`
	Timezone    string `json:"timezone" gorm:"column:timezone;default:Etc/UTC"`
}

// Mention renders the user for a chat message, falling back to the email
// when no chat identity is on file.
func (u *User) Mention() string {
	if u != nil && u.ChatID != "" {
		return fmt.Sprintf("<@%s>", u.ChatID)
	}
	if u != nil {
		return u.Email
	}
	return "unknown"
}

// OutageFields is the shared field set of an outage. The live Outage row and
// its history snapshots embed the same struct so the two stay structurally
// aligned.
type OutageFields struct {
	Summary               string       `json:"summary" gorm:"column:summary;type:text;not null"`
	SystemID              *uint        `json:"system_id" gorm:"column:system_id;index"`
	RootCauseID           *uint        `json:"root_cause_id" gorm:"column:root_cause_id"`
	CreatedBy             string       `json:"created_by" gorm:"column:created_by;not null"`
	SolutionAssignee      string       `json:"solution_assignee" gorm:"column:solution_assignee;not null"`
	CommunicationAssignee string       `json:"communication_assignee" gorm:"column:communication_assignee;not null"`
	StartedAt             time.Time    `json:"started_at" gorm:"column:started_at;not null"`
	AnnounceOnChat        bool         `json:"announce_on_chat" gorm:"column:announce_on_chat;default:true"`
	SalesImpact           SalesImpact  `json:"sales_impact" gorm:"column:sales_impact;default:unknown"`
	SalesImpactDetails    string       `json:"sales_impact_details" gorm:"column:sales_impact_details;type:text"`
	LostBookings          *int         `json:"lost_bookings,omitempty" gorm:"column:lost_bookings"`
	TurnoverImpact        *int         `json:"turnover_impact,omitempty" gorm:"column:turnover_impact"`
	ETA                   string       `json:"eta" gorm:"column:eta"`
	ETALastModified       sql.NullTime `json:"eta_last_modified" gorm:"column:eta_last_modified"`
	Resolved              bool         `json:"resolved" gorm:"column:resolved;default:false;index"`
}

// SetETA sets the ETA bucket and resets its modification anchor. The two must
// always change together; a bucket with a stale anchor yields a wrong deadline.
func (f *OutageFields) SetETA(bucket string, now time.Time) {
	f.ETA = bucket
	f.ETALastModified = sql.NullTime{Time: now, Valid: true}
}

// FillSalesImpactDetails derives the combined human-readable impact string
// from the structured sub-fields.
func (f *OutageFields) FillSalesImpactDetails() {
	lost := "N/A"
	if f.LostBookings != nil {
		lost = fmt.Sprintf("%d", *f.LostBookings)
	}
	turnover := "N/A"
	if f.TurnoverImpact != nil {
		turnover = fmt.Sprintf("%d", *f.TurnoverImpact)
	}
	f.SalesImpactDetails = fmt.Sprintf("%s lost bookings, %s EUR impact on turnover", lost, turnover)
}

// Normalize trims user-supplied text fields.
func (f *OutageFields) Normalize() {
	f.Summary = strings.TrimSpace(f.Summary)
}

// Outage represents a tracked incident with lifecycle fields and two distinct
// assignee roles: solution (fixes the problem) and communication (informs
// stakeholders). Outages are never physically deleted; lifecycle ends with the
// resolved flag.
type Outage struct {
	gorm.Model
	OutageFields `gorm:"embedded"`
	// CommunicationLastNotified records the last periodic ping sent to the
	// communication assignee while the outage stays unresolved.
	CommunicationLastNotified sql.NullTime `json:"communication_last_notified" gorm:"column:communication_last_notified"`

	Solution     *Solution       `json:"solution,omitempty" gorm:"foreignKey:OutageID"`
	Announcement *Announcement   `json:"announcement,omitempty" gorm:"foreignKey:OutageID"`
	History      []OutageHistory `json:"-" gorm:"foreignKey:OutageID"`
	ChangeNotes  []ChangeNote    `json:"-" gorm:"foreignKey:OutageID"`
}

// InvolvedUsers returns the distinct emails of the creator and both assignees.
func (o *Outage) InvolvedUsers() []string {
	seen := make(map[string]bool)
	var users []string
	for _, email := range []string{o.CreatedBy, o.SolutionAssignee, o.CommunicationAssignee} {
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		users = append(users, email)
	}
	return users
}

// CanEdit checks if the given user is linked to the outage.
func (o *Outage) CanEdit(email string) bool {
	for _, involved := range o.InvolvedUsers() {
		if involved == email {
			return true
		}
	}
	return false
}

// IsReopened reports whether a previously resolved outage has been reopened:
// a solution exists but the resolved flag was cleared.
func (o *Outage) IsReopened() bool {
	return o.Solution != nil && !o.Resolved
}

// Validate validates the outage and returns an error message and whether it's valid.
// Returns an empty string and true if valid, otherwise returns an aggregated error message and false.
func (o *Outage) Validate() (string, bool) {
	var validationErrors []string

	if strings.TrimSpace(o.Summary) == "" {
		validationErrors = append(validationErrors, "Summary is required")
	}

	if o.CreatedBy == "" {
		validationErrors = append(validationErrors, "CreatedBy is required")
	}

	if o.StartedAt.IsZero() {
		validationErrors = append(validationErrors, "StartedAt is required")
	}

	if o.SalesImpact != "" && !IsValidSalesImpact(string(o.SalesImpact)) {
		validationErrors = append(validationErrors, "Invalid sales impact. Must be one of: yes, no, unknown")
	}

	if len(validationErrors) > 0 {
		return strings.Join(validationErrors, "; "), false
	}

	return "", true
}

// OutageHistory is an immutable snapshot of an outage at one point in time.
// Rows are append-only and ordered newest-first; the diff engine always
// compares the two most recent rows.
type OutageHistory struct {
	gorm.Model
	OutageFields `gorm:"embedded"`
	OutageID     uint   `json:"-" gorm:"column:outage_id;not null;index"`
	ChangeDesc   string `json:"change_desc" gorm:"column:change_desc;type:text"`
	ModifiedBy   string `json:"modified_by" gorm:"column:modified_by"`
}

// SolutionFields is the shared field set of a solution, embedded by both the
// live row and its history snapshots.
type SolutionFields struct {
	Summary          string    `json:"summary" gorm:"column:summary;type:text"`
	CreatedBy        string    `json:"created_by" gorm:"column:created_by"`
	ResolvedAt       time.Time `json:"resolved_at" gorm:"column:resolved_at;not null"`
	SuggestedOutcome Outcome   `json:"suggested_outcome" gorm:"column:suggested_outcome;default:none"`
	ReportURL        string    `json:"report_url" gorm:"column:report_url"`
	ReportTitle      string    `json:"report_title" gorm:"column:report_title"`
}

// Normalize trims user-supplied text fields.
func (f *SolutionFields) Normalize() {
	f.Summary = strings.TrimSpace(f.Summary)
}

// Solution is the resolution record closing out an outage.
type Solution struct {
	gorm.Model
	SolutionFields `gorm:"embedded"`
	OutageID       uint `json:"-" gorm:"column:outage_id;not null;uniqueIndex"`

	PostmortemNotifications *PostmortemNotifications `json:"postmortem_notifications,omitempty" gorm:"foreignKey:SolutionID"`
	History                 []SolutionHistory        `json:"-" gorm:"foreignKey:SolutionID"`
}

// PostmortemRequired reports whether the suggested outcome asks for a
// postmortem report.
func (s *Solution) PostmortemRequired() bool {
	return s.SuggestedOutcome == OutcomePostmortem
}

// MissingPostmortem reports whether a required postmortem report has not been
// attached yet.
func (s *Solution) MissingPostmortem() bool {
	return s.PostmortemRequired() && s.ReportURL == ""
}

// FullReportURL returns the report URL with a scheme, defaulting to https.
func (s *Solution) FullReportURL() string {
	if s.ReportURL != "" && !strings.HasPrefix(s.ReportURL, "http") {
		return "https://" + s.ReportURL
	}
	return s.ReportURL
}

// Downtime returns the outage duration as seen by this solution.
func (s *Solution) Downtime(startedAt time.Time) time.Duration {
	if startedAt.After(s.ResolvedAt) {
		return 0
	}
	return s.ResolvedAt.Sub(startedAt)
}

// SolutionHistory is an immutable snapshot of a solution at one point in time.
type SolutionHistory struct {
	gorm.Model
	SolutionFields `gorm:"embedded"`
	SolutionID     uint   `json:"-" gorm:"column:solution_id;not null;index"`
	ChangeDesc     string `json:"change_desc" gorm:"column:change_desc;type:text"`
	ModifiedBy     string `json:"modified_by" gorm:"column:modified_by"`
}

// PostmortemNotifications tracks the three escalating postmortem nag stages.
// Each flag is one-shot: once fired for a stage it never re-fires.
type PostmortemNotifications struct {
	gorm.Model
	SolutionID    uint `json:"-" gorm:"column:solution_id;not null;uniqueIndex"`
	ChatNotified  bool `json:"chat_notified" gorm:"column:chat_notified;default:false"`
	EmailNotified bool `json:"email_notified" gorm:"column:email_notified;default:false"`
	LabelNotified bool `json:"label_notified" gorm:"column:label_notified;default:false"`
}

// MonitoringSystem identifies the external alerting provider a monitor
// belongs to.
type MonitoringSystem string

const (
	MonitoringSystemDatadog MonitoringSystem = "datadog"
	MonitoringSystemPingdom MonitoringSystem = "pingdom"
)

// IsValidMonitoringSystem checks if the provided string names a supported provider.
func IsValidMonitoringSystem(system string) bool {
	switch MonitoringSystem(system) {
	case MonitoringSystemDatadog, MonitoringSystemPingdom:
		return true
	default:
		return false
	}
}

// MonitorSeverity is the severity classification of a monitor.
type MonitorSeverity string

const (
	MonitorSeverityUndefined MonitorSeverity = "undefined"
	MonitorSeverityLow       MonitorSeverity = "low"
	MonitorSeverityMedium    MonitorSeverity = "medium"
	MonitorSeverityHigh      MonitorSeverity = "high"
)

// MonitorFields is the shared field set of a monitor, embedded by both the
// live row and its history snapshots.
type MonitorFields struct {
	MonitoringSystem MonitoringSystem `json:"monitoring_system" gorm:"column:monitoring_system;not null"`
	ExternalID       string           `json:"external_id" gorm:"column:external_id;not null"`
	Name             string           `json:"name" gorm:"column:name"`
	Link             string           `json:"link" gorm:"column:link"`
	Severity         MonitorSeverity  `json:"severity" gorm:"column:severity;default:undefined"`
	Description      string           `json:"description" gorm:"column:description;type:text"`
	CreatedBy        string           `json:"created_by" gorm:"column:created_by"`
	ChatChannelID    string           `json:"chat_channel_id" gorm:"column:chat_channel_id"`
	ChatChannelName  string           `json:"chat_channel_name" gorm:"column:chat_channel_name"`
}

// Monitor is a binding to an external alerting-system check. It is unique on
// (monitoring_system, external_id) and owns an idempotent log of Alert
// occurrences.
type Monitor struct {
	gorm.Model
	MonitorFields `gorm:"embedded"`

	Alerts  []Alert          `json:"alerts,omitempty" gorm:"foreignKey:MonitorID"`
	History []MonitorHistory `json:"-" gorm:"foreignKey:MonitorID"`
}

// TableName pins the table and lets the migration attach the composite unique
// index on (monitoring_system, external_id) to the live table only.
func (Monitor) TableName() string {
	return "monitors"
}

// MonitorHistory is an immutable snapshot of a monitor at one point in time.
type MonitorHistory struct {
	gorm.Model
	MonitorFields `gorm:"embedded"`
	MonitorID     uint   `json:"-" gorm:"column:monitor_id;not null;index"`
	ModifiedBy    string `json:"modified_by" gorm:"column:modified_by"`
}

// AlertType classifies an alert occurrence.
type AlertType string

const (
	AlertTypeUndefined AlertType = "undefined"
	AlertTypeWarning   AlertType = "warning"
	AlertTypeCritical  AlertType = "critical"
)

// Alert is a single timestamped occurrence reported by a monitoring system.
// Rows are unique on (monitor_id, ts): posting the same occurrence twice
// results in exactly one row.
type Alert struct {
	gorm.Model
	MonitorID uint      `json:"-" gorm:"column:monitor_id;not null;uniqueIndex:idx_monitor_ts"`
	Ts        time.Time `json:"ts" gorm:"column:ts;not null;uniqueIndex:idx_monitor_ts"`
	AlertType AlertType `json:"alert_type" gorm:"column:alert_type;default:undefined"`
}

// Announcement is the external chat-message binding representing an outage's
// live broadcast state. MessageTS stays empty until the first successful post;
// the reconciler treats an empty ts as "still needs creation".
type Announcement struct {
	gorm.Model
	OutageID           uint   `json:"-" gorm:"column:outage_id;not null;uniqueIndex"`
	ChannelID          string `json:"channel_id" gorm:"column:channel_id;not null"`
	MessageTS          string `json:"message_ts" gorm:"column:message_ts"`
	Permalink          string `json:"permalink" gorm:"column:permalink"`
	DedicatedChannelID string `json:"dedicated_channel_id" gorm:"column:dedicated_channel_id"`
	SalesNotified      bool   `json:"sales_notified" gorm:"column:sales_notified;default:false"`
	// StatusPageIncidentID tracks the open incident on the public status
	// page. Cleared once the incident has been resolved there.
	StatusPageIncidentID string `json:"-" gorm:"column:status_page_incident_id"`

	// NarratedOutageHistoryID and NarratedSolutionHistoryID record the newest
	// history snapshot whose change narrative has already been published, so a
	// re-run of the reconciler never posts the same comment twice.
	NarratedOutageHistoryID   uint `json:"-" gorm:"column:narrated_outage_history_id;default:0"`
	NarratedSolutionHistoryID uint `json:"-" gorm:"column:narrated_solution_history_id;default:0"`
}

// Posted reports whether the initial chat message has been created.
func (a *Announcement) Posted() bool {
	return a.MessageTS != ""
}

// ChangeNote is the internal audit record of a rendered change narrative.
// It is the long-form twin of the comment posted to chat.
type ChangeNote struct {
	gorm.Model
	OutageID  uint   `json:"-" gorm:"column:outage_id;not null;index"`
	Text      string `json:"text" gorm:"column:text;type:text;not null"`
	CreatedBy string `json:"created_by" gorm:"column:created_by"`
}
