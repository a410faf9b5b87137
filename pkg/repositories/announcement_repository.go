package repositories

import (
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"outage-tracker/pkg/types"
)

// ErrRowLocked is returned when an exclusive row lock could not be acquired
// because another writer currently holds it.
var ErrRowLocked = errors.New("row is locked by another writer")

// AnnouncementRepository defines the interface for announcement reads
// performed outside the reconcile critical section. Announcement rows are
// created through OutageRepository, inside the outage's own transaction.
type AnnouncementRepository interface {
	GetForOutage(outageID uint) (*types.Announcement, error)
	ListDedicatedChannels() ([]string, error)
}

// ReconcileStore serializes writers of a single announcement. WithOutageLock
// loads the outage and its announcement under an exclusive row lock and runs
// fn; save persists announcement mutations within the same transaction.
// When the rows are held by another writer it returns ErrRowLocked without
// waiting, so callers can abandon the run and rely on the holder to publish
// the final state.
type ReconcileStore interface {
	WithOutageLock(outageID uint, fn func(outage *types.Outage, ann *types.Announcement, save func(*types.Announcement) error) error) error
}

// gormAnnouncementRepository is a GORM implementation of both
// AnnouncementRepository and ReconcileStore.
type gormAnnouncementRepository struct {
	db *gorm.DB
}

// NewGORMAnnouncementRepository creates a new GORM-based AnnouncementRepository.
func NewGORMAnnouncementRepository(db *gorm.DB) AnnouncementRepository {
	return &gormAnnouncementRepository{db: db}
}

// NewGORMReconcileStore creates a new GORM-based ReconcileStore.
func NewGORMReconcileStore(db *gorm.DB) ReconcileStore {
	return &gormAnnouncementRepository{db: db}
}

// GetForOutage retrieves the announcement attached to an outage.
// Returns gorm.ErrRecordNotFound if the outage has no announcement.
func (r *gormAnnouncementRepository) GetForOutage(outageID uint) (*types.Announcement, error) {
	var ann types.Announcement
	if err := r.db.Where("outage_id = ?", outageID).First(&ann).Error; err != nil {
		return nil, err
	}
	return &ann, nil
}

// ListDedicatedChannels retrieves all dedicated channel IDs already assigned
// to announcements.
func (r *gormAnnouncementRepository) ListDedicatedChannels() ([]string, error) {
	var channels []string
	err := r.db.Model(&types.Announcement{}).
		Where("dedicated_channel_id <> ?", "").
		Pluck("dedicated_channel_id", &channels).Error
	return channels, err
}

// WithOutageLock implements ReconcileStore. On PostgreSQL the outage and
// announcement rows are selected FOR UPDATE NOWAIT; SQLite serializes writers
// at the database level, so no row lock is taken there.
func (r *gormAnnouncementRepository) WithOutageLock(outageID uint, fn func(outage *types.Outage, ann *types.Announcement, save func(*types.Announcement) error) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"})
		}

		var outage types.Outage
		if err := q.First(&outage, outageID).Error; err != nil {
			return translateLockError(err)
		}
		var ann types.Announcement
		if err := q.Where("outage_id = ?", outageID).First(&ann).Error; err != nil {
			return translateLockError(err)
		}
		// Relations loaded after the rows are locked; the lock on the parent
		// rows is what serializes writers.
		var solution types.Solution
		switch err := tx.Where("outage_id = ?", outageID).First(&solution).Error; err {
		case nil:
			outage.Solution = &solution
		case gorm.ErrRecordNotFound:
			outage.Solution = nil
		default:
			return err
		}

		save := func(a *types.Announcement) error {
			return tx.Save(a).Error
		}
		return fn(&outage, &ann, save)
	})
}

// translateLockError maps lock acquisition failures to ErrRowLocked and
// passes everything else through.
func translateLockError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "55P03") || strings.Contains(msg, "could not obtain lock") {
		return ErrRowLocked
	}
	return err
}
