package repositories

import (
	"time"

	"gorm.io/gorm"

	"outage-tracker/pkg/types"
)

// SolutionRepository defines the interface for solution, solution history and
// postmortem notification database operations.
type SolutionRepository interface {
	CreateSolution(solution *types.Solution) error
	SaveSolution(solution *types.Solution) error
	GetForOutage(outageID uint) (*types.Solution, error)
	ListMissingPostmortem() ([]types.Solution, error)
	ListPostmortemWithReport() ([]types.Solution, error)

	CreateHistory(entry *types.SolutionHistory) error
	RecentHistory(solutionID uint, limit int) ([]types.SolutionHistory, error)

	EnsurePostmortemNotifications(solutionID uint) (*types.PostmortemNotifications, error)
	SavePostmortemNotifications(n *types.PostmortemNotifications) error

	Transaction(fn func(SolutionRepository) error) error
}

// gormSolutionRepository is a GORM implementation of SolutionRepository.
type gormSolutionRepository struct {
	db *gorm.DB
}

// NewGORMSolutionRepository creates a new GORM-based SolutionRepository.
func NewGORMSolutionRepository(db *gorm.DB) SolutionRepository {
	return &gormSolutionRepository{db: db}
}

// CreateSolution creates a new solution record in the database.
func (r *gormSolutionRepository) CreateSolution(solution *types.Solution) error {
	solution.ResolvedAt = solution.ResolvedAt.Round(time.Second)
	return r.db.Create(solution).Error
}

// SaveSolution updates an existing solution record in the database.
func (r *gormSolutionRepository) SaveSolution(solution *types.Solution) error {
	solution.ResolvedAt = solution.ResolvedAt.Round(time.Second)
	return r.db.Save(solution).Error
}

// GetForOutage retrieves the solution attached to an outage.
// Returns gorm.ErrRecordNotFound if the outage has no solution.
func (r *gormSolutionRepository) GetForOutage(outageID uint) (*types.Solution, error) {
	var solution types.Solution
	err := r.db.Preload("PostmortemNotifications").
		Where("outage_id = ?", outageID).First(&solution).Error
	if err != nil {
		return nil, err
	}
	return &solution, nil
}

// ListMissingPostmortem retrieves all solutions that require a postmortem
// report and do not have one attached yet, oldest first.
func (r *gormSolutionRepository) ListMissingPostmortem() ([]types.Solution, error) {
	var solutions []types.Solution
	err := r.db.Preload("PostmortemNotifications").
		Where("suggested_outcome = ? AND report_url = ?", types.OutcomePostmortem, "").
		Order("id ASC").
		Find(&solutions).Error
	return solutions, err
}

// ListPostmortemWithReport retrieves solutions whose postmortem report is
// already attached, for label verification against the tracker issue.
func (r *gormSolutionRepository) ListPostmortemWithReport() ([]types.Solution, error) {
	var solutions []types.Solution
	err := r.db.Preload("PostmortemNotifications").
		Where("suggested_outcome = ? AND report_url <> ?", types.OutcomePostmortem, "").
		Order("id ASC").
		Find(&solutions).Error
	return solutions, err
}

// CreateHistory appends a new solution history entry.
func (r *gormSolutionRepository) CreateHistory(entry *types.SolutionHistory) error {
	entry.ResolvedAt = entry.ResolvedAt.Round(time.Second)
	return r.db.Create(entry).Error
}

// RecentHistory retrieves the most recent history entries for a solution,
// newest first.
func (r *gormSolutionRepository) RecentHistory(solutionID uint, limit int) ([]types.SolutionHistory, error) {
	var entries []types.SolutionHistory
	err := r.db.Where("solution_id = ?", solutionID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// EnsurePostmortemNotifications fetches the notification bookkeeping row for a
// solution, creating an empty one when none exists yet.
func (r *gormSolutionRepository) EnsurePostmortemNotifications(solutionID uint) (*types.PostmortemNotifications, error) {
	var n types.PostmortemNotifications
	err := r.db.Where("solution_id = ?", solutionID).First(&n).Error
	if err == nil {
		return &n, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	n = types.PostmortemNotifications{SolutionID: solutionID}
	if err := r.db.Create(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

// SavePostmortemNotifications persists updated notification flags.
func (r *gormSolutionRepository) SavePostmortemNotifications(n *types.PostmortemNotifications) error {
	return r.db.Save(n).Error
}

// Transaction runs fn inside a database transaction, passing a repository
// bound to the transaction.
func (r *gormSolutionRepository) Transaction(fn func(SolutionRepository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormSolutionRepository{db: tx})
	})
}
