package tracker

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"outage-tracker/pkg/config"
	"outage-tracker/pkg/eta"
	"outage-tracker/pkg/repositories"
	"outage-tracker/pkg/types"
)

// Manager is the entity store: every save of an Outage, Solution or Monitor
// persists the row and an immutable history snapshot in one transaction, then
// hands the outage to the reconciler queue.
type Manager struct {
	repos         repositories.Repositories
	configManager *config.Manager[types.TrackerConfig]
	enqueue       func(outageID uint)
	logger        *logrus.Logger
}

// NewManager creates a new Manager instance. enqueue schedules an
// announcement reconciliation for an outage and may be nil for callers that
// do not drive announcements (migrations, seeds).
func NewManager(
	repos repositories.Repositories,
	configManager *config.Manager[types.TrackerConfig],
	enqueue func(outageID uint),
	logger *logrus.Logger,
) *Manager {
	return &Manager{
		repos:         repos,
		configManager: configManager,
		enqueue:       enqueue,
		logger:        logger,
	}
}

func (m *Manager) scheduleReconcile(outageID uint) {
	if m.enqueue != nil {
		m.enqueue(outageID)
	}
}

// prepare normalizes and derives computed fields before any write.
func prepare(fields *types.OutageFields, now time.Time) {
	fields.Normalize()
	if fields.SalesImpact == "" {
		fields.SalesImpact = types.SalesImpactUnknown
	}
	if fields.StartedAt.IsZero() {
		fields.StartedAt = now
	}
	if fields.LostBookings != nil || fields.TurnoverImpact != nil {
		fields.FillSalesImpactDetails()
	}
	if fields.ETA != "" && !fields.ETALastModified.Valid {
		fields.SetETA(fields.ETA, now)
	}
}

// CreateOutage persists a new outage, its first history snapshot and its
// announcement row, then schedules the initial announcement post. The actor
// becomes the default holder of any unset assignee role.
func (m *Manager) CreateOutage(outage *types.Outage, actor string) error {
	now := time.Now().UTC()
	// The deadline anchor is server-managed; whatever the caller sent is
	// discarded and prepare stamps a fresh one for a non-empty bucket.
	outage.ETALastModified = sql.NullTime{}
	if outage.CreatedBy == "" {
		outage.CreatedBy = actor
	}
	if outage.SolutionAssignee == "" {
		outage.SolutionAssignee = actor
	}
	if outage.CommunicationAssignee == "" {
		outage.CommunicationAssignee = actor
	}
	prepare(&outage.OutageFields, now)

	ann := &types.Announcement{
		ChannelID: m.configManager.Get().Chat.AnnounceChannelID,
	}
	if err := m.repos.Outages.Transaction(func(repo repositories.OutageRepository) error {
		if err := repo.CreateOutage(outage); err != nil {
			return err
		}
		if err := repo.CreateHistory(&types.OutageHistory{
			OutageFields: outage.OutageFields,
			OutageID:     outage.ID,
			ModifiedBy:   actor,
		}); err != nil {
			return err
		}
		// The announcement row is the reconciler's lock target, so the
		// outage must never outlive the transaction without one.
		ann.OutageID = outage.ID
		return repo.CreateAnnouncement(ann)
	}); err != nil {
		return err
	}
	outage.Announcement = ann

	m.scheduleReconcile(outage.ID)
	return nil
}

// UpdateOutage persists a mutated outage with its history snapshot and
// schedules reconciliation. changeDesc is the modifier's free-text reason and
// leads the rendered change narrative.
func (m *Manager) UpdateOutage(outage *types.Outage, actor, changeDesc string) error {
	now := time.Now().UTC()
	stored, err := m.repos.Outages.GetOutageByID(outage.ID)
	if err != nil {
		return err
	}
	// The deadline anchor is server-managed. A changed bucket restarts it at
	// now, an unchanged bucket keeps the stored anchor; either way the
	// caller-supplied value is discarded.
	if outage.ETA != stored.ETA {
		outage.ETALastModified = sql.NullTime{}
		if outage.ETA != "" {
			outage.SetETA(outage.ETA, now)
		}
	} else {
		outage.ETALastModified = stored.ETALastModified
	}
	prepare(&outage.OutageFields, now)

	if err := m.repos.Outages.Transaction(func(repo repositories.OutageRepository) error {
		if err := repo.SaveOutage(outage); err != nil {
			return err
		}
		return repo.CreateHistory(&types.OutageHistory{
			OutageFields: outage.OutageFields,
			OutageID:     outage.ID,
			ChangeDesc:   changeDesc,
			ModifiedBy:   actor,
		})
	}); err != nil {
		return err
	}

	m.scheduleReconcile(outage.ID)
	return nil
}

// SetETA replaces the outage's estimate bucket. The deadline anchor restarts
// when the bucket actually changes; re-asserting the current bucket keeps the
// running deadline.
func (m *Manager) SetETA(outageID uint, bucket string, actor string) error {
	parsed, ok := eta.Parse(bucket)
	if !ok {
		return fmt.Errorf("invalid ETA value: %q", bucket)
	}
	outage, err := m.repos.Outages.GetOutageByID(outageID)
	if err != nil {
		return err
	}
	outage.SetETA(string(parsed), time.Now().UTC())
	return m.UpdateOutage(outage, actor, "")
}

// ResolveOutage attaches (or refreshes) the solution for an outage, flips the
// resolved flag and schedules reconciliation. The solution's history snapshot
// and the outage's are written in their own transactions, one per saved row.
func (m *Manager) ResolveOutage(outageID uint, fields types.SolutionFields, actor, changeDesc string) error {
	outage, err := m.repos.Outages.GetOutageByID(outageID)
	if err != nil {
		return err
	}

	fields.Normalize()
	if fields.ResolvedAt.IsZero() {
		fields.ResolvedAt = time.Now().UTC()
	}
	if fields.CreatedBy == "" {
		fields.CreatedBy = actor
	}

	var solution *types.Solution
	if err := m.repos.Solutions.Transaction(func(repo repositories.SolutionRepository) error {
		existing, err := repo.GetForOutage(outageID)
		switch err {
		case nil:
			fields.CreatedBy = existing.CreatedBy
			existing.SolutionFields = fields
			solution = existing
			if err := repo.SaveSolution(existing); err != nil {
				return err
			}
		case gorm.ErrRecordNotFound:
			solution = &types.Solution{SolutionFields: fields, OutageID: outageID}
			if err := repo.CreateSolution(solution); err != nil {
				return err
			}
		default:
			return err
		}
		return repo.CreateHistory(&types.SolutionHistory{
			SolutionFields: solution.SolutionFields,
			SolutionID:     solution.ID,
			ChangeDesc:     changeDesc,
			ModifiedBy:     actor,
		})
	}); err != nil {
		return err
	}

	if solution.PostmortemRequired() {
		if _, err := m.repos.Solutions.EnsurePostmortemNotifications(solution.ID); err != nil {
			return err
		}
	}

	if !outage.Resolved {
		outage.Resolved = true
		return m.UpdateOutage(outage, actor, "")
	}
	m.scheduleReconcile(outageID)
	return nil
}

// ReopenOutage clears the resolved flag while keeping the solution record, so
// the outage reads as reopened.
func (m *Manager) ReopenOutage(outageID uint, actor, reason string) error {
	outage, err := m.repos.Outages.GetOutageByID(outageID)
	if err != nil {
		return err
	}
	if !outage.Resolved {
		return fmt.Errorf("outage %d is not resolved", outageID)
	}
	outage.Resolved = false
	return m.UpdateOutage(outage, actor, reason)
}

// AttachReport links a postmortem report to the outage's solution.
func (m *Manager) AttachReport(outageID uint, reportURL, reportTitle, actor string) error {
	outage, err := m.repos.Outages.GetOutageByID(outageID)
	if err != nil {
		return err
	}
	if outage.Solution == nil {
		return fmt.Errorf("outage %d has no solution to attach a report to", outageID)
	}
	fields := outage.Solution.SolutionFields
	fields.ReportURL = reportURL
	fields.ReportTitle = reportTitle
	return m.ResolveOutage(outageID, fields, actor, "")
}

// SaveMonitor persists a monitor with its history snapshot.
func (m *Manager) SaveMonitor(monitor *types.Monitor, actor string) error {
	return m.repos.Monitors.Transaction(func(repo repositories.MonitorRepository) error {
		if err := repo.SaveMonitor(monitor); err != nil {
			return err
		}
		return repo.CreateHistory(&types.MonitorHistory{
			MonitorFields: monitor.MonitorFields,
			MonitorID:     monitor.ID,
			ModifiedBy:    actor,
		})
	})
}

// IngestAlert upserts the monitor for an incoming alert event and records the
// alert occurrence. Duplicate occurrences for the same (monitor, timestamp)
// are logged and swallowed so retried deliveries stay idempotent; recorded
// reports whether this delivery created a new occurrence.
func (m *Manager) IngestAlert(system types.MonitoringSystem, externalID string, defaults types.MonitorFields, alert types.Alert) (monitor *types.Monitor, recorded bool, err error) {
	monitor, created, err := m.repos.Monitors.GetOrCreateMonitor(system, externalID, defaults)
	if err != nil {
		return nil, false, err
	}
	if created {
		if err := m.repos.Monitors.CreateHistory(&types.MonitorHistory{
			MonitorFields: monitor.MonitorFields,
			MonitorID:     monitor.ID,
		}); err != nil {
			return nil, false, err
		}
		m.logger.WithFields(logrus.Fields{
			"monitoring_system": system,
			"external_id":       externalID,
		}).Info("Created monitor for incoming alert")
	}

	alert.MonitorID = monitor.ID
	alert.Ts = alert.Ts.Round(time.Second)
	if err := m.repos.Monitors.CreateAlert(&alert); err != nil {
		if err == repositories.ErrAlreadyExists {
			m.logger.WithFields(logrus.Fields{
				"monitor_id": monitor.ID,
				"ts":         alert.Ts,
			}).Info("Alert already recorded, skipping")
			return monitor, false, nil
		}
		return nil, false, err
	}
	return monitor, true, nil
}

// Read delegates.

func (m *Manager) GetOutageByID(outageID uint) (*types.Outage, error) {
	return m.repos.Outages.GetOutageByID(outageID)
}

func (m *Manager) ListUnresolved() ([]types.Outage, error) {
	return m.repos.Outages.ListUnresolved()
}

func (m *Manager) GetChangeNotes(outageID uint) ([]types.ChangeNote, error) {
	return m.repos.Outages.GetChangeNotes(outageID)
}

func (m *Manager) ListMonitors() ([]types.Monitor, error) {
	return m.repos.Monitors.ListMonitors()
}
