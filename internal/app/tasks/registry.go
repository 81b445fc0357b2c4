package tasks

import (
	"context"

	"github.com/edgard/lifetracker/internal/config"
)

// ScheduledTaskFunc is the signature of every scheduled task.
// The context provided by the scheduler should be respected for cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// RegisterAllTasks returns all scheduled tasks keyed by the name used in
// the scheduler configuration.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := map[string]ScheduledTaskFunc{
		config.TaskSQLMaintenance: newSQLMaintenanceTask(deps),
		config.TaskImportContacts: newImportContactsTask(deps),
	}
	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
