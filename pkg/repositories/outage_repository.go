package repositories

import (
	"time"

	"gorm.io/gorm"

	"outage-tracker/pkg/eta"
	"outage-tracker/pkg/types"
)

// OutageRepository defines the interface for outage, outage history and change
// note database operations.
type OutageRepository interface {
	CreateOutage(outage *types.Outage) error
	SaveOutage(outage *types.Outage) error
	CreateAnnouncement(ann *types.Announcement) error
	GetOutageByID(outageID uint) (*types.Outage, error)
	ListUnresolved() ([]types.Outage, error)
	ListUnresolvedWithDeadline() ([]types.Outage, error)
	ListUnresolvedMissingETA(olderThan time.Time) ([]types.Outage, error)
	CountOutagesForSystemOnDay(systemID uint, dayStart, dayEnd time.Time, beforeID uint) (int64, error)
	SetCommunicationNotified(outageID uint, at time.Time) error

	CreateHistory(entry *types.OutageHistory) error
	RecentHistory(outageID uint, limit int) ([]types.OutageHistory, error)
	CountHistory(outageID uint) (int64, error)

	CreateChangeNote(note *types.ChangeNote) error
	GetChangeNotes(outageID uint) ([]types.ChangeNote, error)

	Transaction(fn func(OutageRepository) error) error
}

// gormOutageRepository is a GORM implementation of OutageRepository.
type gormOutageRepository struct {
	db *gorm.DB
}

// NewGORMOutageRepository creates a new GORM-based OutageRepository.
func NewGORMOutageRepository(db *gorm.DB) OutageRepository {
	return &gormOutageRepository{db: db}
}

// roundOutageTimes rounds all time fields in an outage to the nearest second
func roundOutageTimes(fields *types.OutageFields) {
	fields.StartedAt = fields.StartedAt.Round(time.Second)
	if fields.ETALastModified.Valid {
		fields.ETALastModified.Time = fields.ETALastModified.Time.Round(time.Second)
	}
}

// CreateOutage creates a new outage record in the database.
func (r *gormOutageRepository) CreateOutage(outage *types.Outage) error {
	roundOutageTimes(&outage.OutageFields)
	return r.db.Create(outage).Error
}

// SaveOutage updates an existing outage record in the database.
// If the outage does not exist, it will be created.
func (r *gormOutageRepository) SaveOutage(outage *types.Outage) error {
	roundOutageTimes(&outage.OutageFields)
	return r.db.Save(outage).Error
}

// CreateAnnouncement creates the announcement row for an outage. It lives on
// the outage repository so the row is born in the same transaction as the
// outage itself; an outage without an announcement has nothing to lock during
// reconciliation.
func (r *gormOutageRepository) CreateAnnouncement(ann *types.Announcement) error {
	return r.db.Create(ann).Error
}

// GetOutageByID retrieves an outage together with its solution, announcement
// and postmortem bookkeeping. Returns gorm.ErrRecordNotFound if missing.
func (r *gormOutageRepository) GetOutageByID(outageID uint) (*types.Outage, error) {
	var outage types.Outage
	err := r.db.Preload("Solution").Preload("Solution.PostmortemNotifications").Preload("Announcement").
		First(&outage, outageID).Error
	if err != nil {
		return nil, err
	}
	return &outage, nil
}

// ListUnresolved retrieves all outages that have not been resolved yet,
// oldest first.
func (r *gormOutageRepository) ListUnresolved() ([]types.Outage, error) {
	var outages []types.Outage
	err := r.db.Preload("Announcement").
		Where("resolved = ?", false).
		Order("id ASC").
		Find(&outages).Error
	return outages, err
}

// ListUnresolvedWithDeadline retrieves unresolved outages whose estimate
// carries a computable deadline. Outages without an estimate, or with the
// open-ended ">24h" estimate, are excluded.
func (r *gormOutageRepository) ListUnresolvedWithDeadline() ([]types.Outage, error) {
	var outages []types.Outage
	err := r.db.Preload("Announcement").
		Where("resolved = ? AND eta IN ? AND eta_last_modified IS NOT NULL", false, eta.DeadlineBuckets()).
		Order("id ASC").
		Find(&outages).Error
	return outages, err
}

// ListUnresolvedMissingETA retrieves unresolved outages created before
// olderThan that still have no estimate set. Used to prompt assignees to
// provide one.
func (r *gormOutageRepository) ListUnresolvedMissingETA(olderThan time.Time) ([]types.Outage, error) {
	var outages []types.Outage
	err := r.db.Preload("Announcement").
		Where("resolved = ? AND eta = ? AND created_at < ?", false, "", olderThan).
		Order("id ASC").
		Find(&outages).Error
	return outages, err
}

// CountOutagesForSystemOnDay counts outages for a system created within
// [dayStart, dayEnd) with an ID lower than beforeID. Used to derive the
// numeric suffix for dedicated channel names.
func (r *gormOutageRepository) CountOutagesForSystemOnDay(systemID uint, dayStart, dayEnd time.Time, beforeID uint) (int64, error) {
	var count int64
	err := r.db.Model(&types.Outage{}).
		Where("system_id = ? AND created_at >= ? AND created_at < ? AND id < ?", systemID, dayStart, dayEnd, beforeID).
		Count(&count).Error
	return count, err
}

// SetCommunicationNotified records the time of the latest communication
// reminder without touching the rest of the row.
func (r *gormOutageRepository) SetCommunicationNotified(outageID uint, at time.Time) error {
	return r.db.Model(&types.Outage{}).Where("id = ?", outageID).
		Update("communication_last_notified", at.Round(time.Second)).Error
}

// CreateHistory appends a new outage history entry.
func (r *gormOutageRepository) CreateHistory(entry *types.OutageHistory) error {
	roundOutageTimes(&entry.OutageFields)
	return r.db.Create(entry).Error
}

// RecentHistory retrieves the most recent history entries for an outage,
// newest first.
func (r *gormOutageRepository) RecentHistory(outageID uint, limit int) ([]types.OutageHistory, error) {
	var entries []types.OutageHistory
	err := r.db.Where("outage_id = ?", outageID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// CountHistory counts the history entries recorded for an outage.
func (r *gormOutageRepository) CountHistory(outageID uint) (int64, error) {
	var count int64
	err := r.db.Model(&types.OutageHistory{}).Where("outage_id = ?", outageID).Count(&count).Error
	return count, err
}

// CreateChangeNote appends an audit note to an outage.
func (r *gormOutageRepository) CreateChangeNote(note *types.ChangeNote) error {
	return r.db.Create(note).Error
}

// GetChangeNotes retrieves all audit notes for an outage, oldest first.
func (r *gormOutageRepository) GetChangeNotes(outageID uint) ([]types.ChangeNote, error) {
	var notes []types.ChangeNote
	err := r.db.Where("outage_id = ?", outageID).Order("id ASC").Find(&notes).Error
	return notes, err
}

// Transaction runs fn inside a database transaction, passing a repository
// bound to the transaction.
func (r *gormOutageRepository) Transaction(fn func(OutageRepository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormOutageRepository{db: tx})
	})
}
