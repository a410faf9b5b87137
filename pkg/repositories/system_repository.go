package repositories

import (
	"gorm.io/gorm"

	"outage-tracker/pkg/types"
)

// SystemRepository defines the interface for system and root cause lookup
// tables.
type SystemRepository interface {
	GetSystemByID(id uint) (*types.System, error)
	GetOrCreateSystem(name string) (*types.System, error)
	ListSystems() ([]types.System, error)

	GetRootCauseByID(id uint) (*types.RootCause, error)
	GetOrCreateRootCause(name string) (*types.RootCause, error)
	ListRootCauses() ([]types.RootCause, error)
}

// gormSystemRepository is a GORM implementation of SystemRepository.
type gormSystemRepository struct {
	db *gorm.DB
}

// NewGORMSystemRepository creates a new GORM-based SystemRepository.
func NewGORMSystemRepository(db *gorm.DB) SystemRepository {
	return &gormSystemRepository{db: db}
}

// GetSystemByID retrieves a system by its primary key.
func (r *gormSystemRepository) GetSystemByID(id uint) (*types.System, error) {
	var system types.System
	if err := r.db.First(&system, id).Error; err != nil {
		return nil, err
	}
	return &system, nil
}

// GetOrCreateSystem fetches the system with the given name, creating it when
// absent.
func (r *gormSystemRepository) GetOrCreateSystem(name string) (*types.System, error) {
	var system types.System
	err := r.db.Where("name = ?", name).First(&system).Error
	if err == nil {
		return &system, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	system = types.System{Name: name}
	if err := r.db.Create(&system).Error; err != nil {
		return nil, err
	}
	return &system, nil
}

// ListSystems retrieves all systems ordered by name.
func (r *gormSystemRepository) ListSystems() ([]types.System, error) {
	var systems []types.System
	err := r.db.Order("name ASC").Find(&systems).Error
	return systems, err
}

// GetRootCauseByID retrieves a root cause by its primary key.
func (r *gormSystemRepository) GetRootCauseByID(id uint) (*types.RootCause, error) {
	var cause types.RootCause
	if err := r.db.First(&cause, id).Error; err != nil {
		return nil, err
	}
	return &cause, nil
}

// GetOrCreateRootCause fetches the root cause with the given name, creating
// it when absent.
func (r *gormSystemRepository) GetOrCreateRootCause(name string) (*types.RootCause, error) {
	var cause types.RootCause
	err := r.db.Where("name = ?", name).First(&cause).Error
	if err == nil {
		return &cause, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	cause = types.RootCause{Name: name}
	if err := r.db.Create(&cause).Error; err != nil {
		return nil, err
	}
	return &cause, nil
}

// ListRootCauses retrieves all root causes ordered by name.
func (r *gormSystemRepository) ListRootCauses() ([]types.RootCause, error) {
	var causes []types.RootCause
	err := r.db.Order("name ASC").Find(&causes).Error
	return causes, err
}
