package tasks

import (
	"context"
	"fmt"
	"time"
)

// newImportContactsTask refreshes the configured contacts relation from the dialog list.
func newImportContactsTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "import_contacts")

	return func(ctx context.Context) error {
		table := deps.Config.Contacts.Table
		log.InfoContext(ctx, "Starting scheduled contacts import", "table", table)
		startTime := time.Now()

		result, err := deps.Importer.ImportContacts(ctx, table)
		duration := time.Since(startTime)
		if err != nil {
			log.ErrorContext(ctx, "Contacts import failed", "error", err, "duration", duration)
			return fmt.Errorf("contacts import failed: %w", err)
		}

		log.InfoContext(ctx, "Contacts import completed",
			"unique", result.Unique,
			"committed", result.Committed,
			"duration", duration)
		return nil
	}
}
