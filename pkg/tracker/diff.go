package tracker

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"outage-tracker/pkg/chat"
	"outage-tracker/pkg/eta"
	"outage-tracker/pkg/repositories"
	"outage-tracker/pkg/types"
)

// Assignee role names used in notifications and narratives.
const (
	RoleSolution      = "Solution"
	RoleCommunication = "Communication"
)

// ChangeSet holds the two renderings of one entity transition: the terse
// chat narrative and the detailed audit narrative.
type ChangeSet struct {
	short []string
	long  []string
}

// add appends the same line to both renderings.
func (c *ChangeSet) add(line string) {
	c.short = append(c.short, line)
	c.long = append(c.long, line)
}

// addSplit appends differently formatted lines to each rendering.
func (c *ChangeSet) addSplit(short, long string) {
	c.short = append(c.short, short)
	c.long = append(c.long, long)
}

// Empty reports whether no narrative line was produced.
func (c *ChangeSet) Empty() bool {
	return len(c.short) == 0
}

// ShortText returns the chat rendering, one line per change.
func (c *ChangeSet) ShortText() string {
	return strings.Join(c.short, "\n")
}

// LongText returns the audit rendering as a single paragraph.
func (c *ChangeSet) LongText() string {
	return strings.Join(c.long, " ")
}

// Differ computes changed fields between two consecutive versions of an
// entity and renders their narratives. Assignee changes additionally produce
// direct notifications to the old and new holders of the changed role.
type Differ struct {
	systems  repositories.SystemRepository
	users    repositories.UserRepository
	notifier Notifier
	logger   *logrus.Logger
}

// NewDiffer creates a new Differ instance.
func NewDiffer(systems repositories.SystemRepository, users repositories.UserRepository, notifier Notifier, logger *logrus.Logger) *Differ {
	return &Differ{
		systems:  systems,
		users:    users,
		notifier: notifier,
		logger:   logger,
	}
}

// outageFieldDiff is one entry in the ordered outage field table. A nil
// render falls back to the generic "{label} changed to: {value}." line.
type outageFieldDiff struct {
	label   string
	changed func(cur, prev *types.OutageHistory) bool
	value   func(d *Differ, cur *types.OutageHistory) string
	render  func(d *Differ, o *types.Outage, cur, prev *types.OutageHistory, link string, cs *ChangeSet)
}

// outageFields is evaluated and rendered in declared order.
var outageFields = []outageFieldDiff{
	{
		label:   "Summary",
		changed: func(cur, prev *types.OutageHistory) bool { return cur.Summary != prev.Summary },
		value:   func(d *Differ, cur *types.OutageHistory) string { return cur.Summary },
	},
	{
		changed: etaChanged,
		render:  renderETAChange,
	},
	{
		changed: func(cur, prev *types.OutageHistory) bool {
			return cur.SolutionAssignee != prev.SolutionAssignee ||
				cur.CommunicationAssignee != prev.CommunicationAssignee
		},
		render: renderAssigneeChange,
	},
	{
		label:   "Sales affected",
		changed: func(cur, prev *types.OutageHistory) bool { return cur.SalesImpact != prev.SalesImpact },
		value:   func(d *Differ, cur *types.OutageHistory) string { return cur.SalesImpact.Label() },
	},
	{
		label:   "Sales affected details",
		changed: func(cur, prev *types.OutageHistory) bool { return cur.SalesImpactDetails != prev.SalesImpactDetails },
		value:   func(d *Differ, cur *types.OutageHistory) string { return cur.SalesImpactDetails },
	},
	{
		changed: func(cur, prev *types.OutageHistory) bool { return !cur.StartedAt.Equal(prev.StartedAt) },
		render: func(d *Differ, o *types.Outage, cur, prev *types.OutageHistory, link string, cs *ChangeSet) {
			cs.addSplit(
				fmt.Sprintf("Started at changed to: %s (UTC).", chat.FormatDate(cur.StartedAt)),
				fmt.Sprintf("Started at changed to: %s (UTC).", formatAuditTime(cur.StartedAt)),
			)
		},
	},
	{
		label:   "System affected",
		changed: func(cur, prev *types.OutageHistory) bool { return !uintPtrEqual(cur.SystemID, prev.SystemID) },
		value: func(d *Differ, cur *types.OutageHistory) string {
			return d.systemName(cur.SystemID)
		},
	},
	{
		label:   "Root cause",
		changed: func(cur, prev *types.OutageHistory) bool { return !uintPtrEqual(cur.RootCauseID, prev.RootCauseID) },
		value: func(d *Differ, cur *types.OutageHistory) string {
			return d.rootCauseName(cur.RootCauseID)
		},
	},
}

// DiffOutage compares the two most recent history rows of an unresolved
// outage. A nil prev means the outage was just created and nothing is
// narrated. The modifier's change reason, when present, always comes first;
// the attribution line comes last and only when another line was produced.
func (d *Differ) DiffOutage(o *types.Outage, cur, prev *types.OutageHistory, link string) *ChangeSet {
	cs := &ChangeSet{}
	if cur == nil || prev == nil {
		return cs
	}

	if reason := strings.TrimSpace(cur.ChangeDesc); reason != "" {
		cs.add(reason)
	}

	for _, field := range outageFields {
		if !field.changed(cur, prev) {
			continue
		}
		if field.render != nil {
			field.render(d, o, cur, prev, link, cs)
			continue
		}
		cs.add(fmt.Sprintf("%s changed to: %s.", field.label, field.value(d, cur)))
	}

	if prev.Resolved && !cur.Resolved && o.Solution != nil {
		cs.add("Outage has been reopened.")
	}

	d.addAttribution(cs, cur.ModifiedBy)
	return cs
}

// DiffSolution compares the two most recent solution history rows of a
// resolved outage. A nil prev is the first transition into resolved and emits
// the fixed resolved notice. Sales and start-time fields live on the outage,
// so their change detection uses the outage's two most recent snapshots.
func (d *Differ) DiffSolution(o *types.Outage, cur, prev *types.SolutionHistory, curOut, prevOut *types.OutageHistory) *ChangeSet {
	cs := &ChangeSet{}
	if cur == nil {
		return cs
	}
	modifier := cur.ModifiedBy
	if prev == nil {
		cs.add("Outage has been resolved.")
		if modifier == "" {
			modifier = cur.CreatedBy
		}
		d.addAttribution(cs, modifier)
		return cs
	}

	if reason := strings.TrimSpace(cur.ChangeDesc); reason != "" {
		cs.add(reason)
	}

	if cur.Summary != prev.Summary {
		cs.add(fmt.Sprintf("Summary changed to: %s.", cur.Summary))
	}
	if curOut != nil && prevOut != nil {
		if curOut.SalesImpact != prevOut.SalesImpact {
			cs.add(fmt.Sprintf("Sales affected changed to: %s.", curOut.SalesImpact.Label()))
		}
		if curOut.SalesImpactDetails != prevOut.SalesImpactDetails {
			cs.add(fmt.Sprintf("Sales affected details changed to: %s.", curOut.SalesImpactDetails))
		}
	}
	if cur.SuggestedOutcome != prev.SuggestedOutcome {
		cs.add(fmt.Sprintf("Suggested outcome changed to: %s.", types.OutcomeLabel(cur.SuggestedOutcome)))
	}
	if cur.ReportURL != prev.ReportURL {
		cs.add(fmt.Sprintf("Report URL changed to: %s.", cur.ReportURL))
	}
	if curOut != nil && prevOut != nil && !curOut.StartedAt.Equal(prevOut.StartedAt) {
		cs.addSplit(
			fmt.Sprintf("Started at changed to: %s (UTC).", chat.FormatDate(curOut.StartedAt)),
			fmt.Sprintf("Started at changed to: %s (UTC).", formatAuditTime(curOut.StartedAt)),
		)
	}
	if !cur.ResolvedAt.Equal(prev.ResolvedAt) {
		cs.addSplit(
			fmt.Sprintf("Resolved at changed to: %s (UTC).", chat.FormatDate(cur.ResolvedAt)),
			fmt.Sprintf("Resolved at changed to: %s (UTC).", formatAuditTime(cur.ResolvedAt)),
		)
	}

	d.addAttribution(cs, modifier)
	return cs
}

// addAttribution appends the trailing "by {modifier}" line when at least one
// other line was produced.
func (d *Differ) addAttribution(cs *ChangeSet, modifier string) {
	if cs.Empty() || modifier == "" {
		return
	}
	cs.addSplit("by "+d.mention(modifier), "by "+modifier)
}

// mention renders a chat mention for the user behind an email address,
// falling back to the plain address when no chat identity is on file.
func (d *Differ) mention(email string) string {
	user, err := d.users.GetByEmail(email)
	if err != nil {
		return email
	}
	return user.Mention()
}

func (d *Differ) systemName(id *uint) string {
	if id == nil {
		return "None"
	}
	system, err := d.systems.GetSystemByID(*id)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"system_id": *id,
			"error":     err,
		}).Warn("Failed to resolve system name")
		return "None"
	}
	return system.Name
}

func (d *Differ) rootCauseName(id *uint) string {
	if id == nil {
		return "None"
	}
	cause, err := d.systems.GetRootCauseByID(*id)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"root_cause_id": *id,
			"error":         err,
		}).Warn("Failed to resolve root cause name")
		return "None"
	}
	return cause.Name
}

// etaChanged reports whether the estimate moved: either the bucket itself
// changed, or the same bucket was re-anchored to a new modification time.
func etaChanged(cur, prev *types.OutageHistory) bool {
	if cur.ETA != prev.ETA {
		return true
	}
	bucket, ok := eta.Parse(cur.ETA)
	if !ok || !bucket.HasDeadline() {
		return false
	}
	if cur.ETALastModified.Valid != prev.ETALastModified.Valid {
		return true
	}
	return cur.ETALastModified.Valid && !cur.ETALastModified.Time.Equal(prev.ETALastModified.Time)
}

func renderETAChange(d *Differ, o *types.Outage, cur, prev *types.OutageHistory, link string, cs *ChangeSet) {
	bucket, _ := eta.Parse(cur.ETA)
	deadline, ok := eta.Deadline(bucket, cur.ETALastModified.Time, cur.ETALastModified.Valid)
	if !ok {
		cs.add("ETA changed to Unknown.")
		return
	}
	cs.addSplit(
		fmt.Sprintf("ETA changed to %s (UTC).", chat.FormatDate(deadline)),
		fmt.Sprintf("ETA changed to %s (UTC).", formatAuditTime(deadline)),
	)
}

// renderAssigneeChange narrates the new holders of both roles and direct
// messages the old and new holder of each role that actually changed. The
// notifications are a side effect of the diff, not merely a narration of it.
func renderAssigneeChange(d *Differ, o *types.Outage, cur, prev *types.OutageHistory, link string, cs *ChangeSet) {
	cs.addSplit(
		fmt.Sprintf("Solution assignee is %s. Communication assignee is %s.",
			d.mention(cur.SolutionAssignee), d.mention(cur.CommunicationAssignee)),
		fmt.Sprintf("Solution assignee is %s. Communication assignee is %s.",
			cur.SolutionAssignee, cur.CommunicationAssignee),
	)

	if cur.SolutionAssignee != prev.SolutionAssignee {
		d.notifier.NotifyUnassigned(prev.SolutionAssignee, RoleSolution, link)
		d.notifier.NotifyAssigned(cur.SolutionAssignee, RoleSolution, link)
	}
	if cur.CommunicationAssignee != prev.CommunicationAssignee {
		d.notifier.NotifyUnassigned(prev.CommunicationAssignee, RoleCommunication, link)
		d.notifier.NotifyAssigned(cur.CommunicationAssignee, RoleCommunication, link)
	}
}

func formatAuditTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}

func uintPtrEqual(a, b *uint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
