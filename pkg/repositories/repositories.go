package repositories

import "gorm.io/gorm"

// Repositories bundles every repository interface so callers can take the
// whole persistence layer as one dependency.
type Repositories struct {
	Outages       OutageRepository
	Solutions     SolutionRepository
	Monitors      MonitorRepository
	Announcements AnnouncementRepository
	Reconcile     ReconcileStore
	Users         UserRepository
	Systems       SystemRepository
}

// NewGORMRepositories creates GORM-backed implementations of all
// repositories sharing one database handle.
func NewGORMRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Outages:       NewGORMOutageRepository(db),
		Solutions:     NewGORMSolutionRepository(db),
		Monitors:      NewGORMMonitorRepository(db),
		Announcements: NewGORMAnnouncementRepository(db),
		Reconcile:     NewGORMReconcileStore(db),
		Users:         NewGORMUserRepository(db),
		Systems:       NewGORMSystemRepository(db),
	}
}
