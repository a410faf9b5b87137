package repositories

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"outage-tracker/pkg/types"
)

// ErrAlreadyExists is returned when an insert collides with an existing row on
// a unique constraint.
var ErrAlreadyExists = errors.New("record already exists")

// MonitorRepository defines the interface for monitor, monitor history and
// alert database operations.
type MonitorRepository interface {
	GetOrCreateMonitor(system types.MonitoringSystem, externalID string, defaults types.MonitorFields) (*types.Monitor, bool, error)
	SaveMonitor(monitor *types.Monitor) error
	GetMonitorByID(monitorID uint) (*types.Monitor, error)
	ListMonitors() ([]types.Monitor, error)

	CreateHistory(entry *types.MonitorHistory) error
	RecentHistory(monitorID uint, limit int) ([]types.MonitorHistory, error)

	CreateAlert(alert *types.Alert) error
	CountAlerts(monitorID uint) (int64, error)
	ListAlerts(monitorID uint, limit int) ([]types.Alert, error)

	Transaction(fn func(MonitorRepository) error) error
}

// gormMonitorRepository is a GORM implementation of MonitorRepository.
type gormMonitorRepository struct {
	db *gorm.DB
}

// NewGORMMonitorRepository creates a new GORM-based MonitorRepository.
func NewGORMMonitorRepository(db *gorm.DB) MonitorRepository {
	return &gormMonitorRepository{db: db}
}

// GetOrCreateMonitor fetches the monitor identified by (system, externalID),
// creating one from defaults when absent. The second return value reports
// whether a row was created.
func (r *gormMonitorRepository) GetOrCreateMonitor(system types.MonitoringSystem, externalID string, defaults types.MonitorFields) (*types.Monitor, bool, error) {
	var monitor types.Monitor
	err := r.db.Where("monitoring_system = ? AND external_id = ?", system, externalID).First(&monitor).Error
	if err == nil {
		return &monitor, false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, false, err
	}
	defaults.MonitoringSystem = system
	defaults.ExternalID = externalID
	monitor = types.Monitor{MonitorFields: defaults}
	if err := r.db.Create(&monitor).Error; err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent ingest; the row exists now.
			if err := r.db.Where("monitoring_system = ? AND external_id = ?", system, externalID).First(&monitor).Error; err != nil {
				return nil, false, err
			}
			return &monitor, false, nil
		}
		return nil, false, err
	}
	return &monitor, true, nil
}

// SaveMonitor updates an existing monitor record in the database.
func (r *gormMonitorRepository) SaveMonitor(monitor *types.Monitor) error {
	return r.db.Save(monitor).Error
}

// GetMonitorByID retrieves a monitor by its primary key.
// Returns gorm.ErrRecordNotFound if the monitor is not found.
func (r *gormMonitorRepository) GetMonitorByID(monitorID uint) (*types.Monitor, error) {
	var monitor types.Monitor
	if err := r.db.First(&monitor, monitorID).Error; err != nil {
		return nil, err
	}
	return &monitor, nil
}

// ListMonitors retrieves all monitors ordered by name.
func (r *gormMonitorRepository) ListMonitors() ([]types.Monitor, error) {
	var monitors []types.Monitor
	err := r.db.Order("name ASC").Find(&monitors).Error
	return monitors, err
}

// CreateHistory appends a new monitor history entry.
func (r *gormMonitorRepository) CreateHistory(entry *types.MonitorHistory) error {
	return r.db.Create(entry).Error
}

// RecentHistory retrieves the most recent history entries for a monitor,
// newest first.
func (r *gormMonitorRepository) RecentHistory(monitorID uint, limit int) ([]types.MonitorHistory, error) {
	var entries []types.MonitorHistory
	err := r.db.Where("monitor_id = ?", monitorID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// CreateAlert records a received alert. Returns ErrAlreadyExists when an
// alert with the same monitor and timestamp was already recorded, so ingest
// retries stay idempotent.
func (r *gormMonitorRepository) CreateAlert(alert *types.Alert) error {
	if err := r.db.Create(alert).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

// CountAlerts counts the alerts recorded for a monitor.
func (r *gormMonitorRepository) CountAlerts(monitorID uint) (int64, error) {
	var count int64
	err := r.db.Model(&types.Alert{}).Where("monitor_id = ?", monitorID).Count(&count).Error
	return count, err
}

// ListAlerts retrieves the most recent alerts for a monitor, newest first.
func (r *gormMonitorRepository) ListAlerts(monitorID uint, limit int) ([]types.Alert, error) {
	var alerts []types.Alert
	err := r.db.Where("monitor_id = ?", monitorID).
		Order("ts DESC").
		Limit(limit).
		Find(&alerts).Error
	return alerts, err
}

// Transaction runs fn inside a database transaction, passing a repository
// bound to the transaction.
func (r *gormMonitorRepository) Transaction(fn func(MonitorRepository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormMonitorRepository{db: tx})
	})
}

// isUniqueViolation reports whether err is a unique constraint violation from
// either supported database backend.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value") // postgres
}
