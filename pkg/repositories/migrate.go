package repositories

import (
	"gorm.io/gorm"

	"outage-tracker/pkg/types"
)

// AutoMigrate creates or updates the schema for every tracked model.
// Monitors get their composite unique index here rather than through struct
// tags: the monitor field set is shared with the history table, which must
// accept many snapshots of the same monitor.
func AutoMigrate(db *gorm.DB) error {
	models := []interface{}{
		&types.System{},
		&types.RootCause{},
		&types.User{},
		&types.Outage{},
		&types.OutageHistory{},
		&types.ChangeNote{},
		&types.Solution{},
		&types.SolutionHistory{},
		&types.PostmortemNotifications{},
		&types.Monitor{},
		&types.MonitorHistory{},
		&types.Alert{},
		&types.Announcement{},
	}
	for _, model := range models {
		if err := db.AutoMigrate(model); err != nil {
			return err
		}
	}
	return db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_monitor_system_external_id ON monitors (monitoring_system, external_id)").Error
}
