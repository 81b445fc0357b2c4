// Package tasks implements the scheduled background tasks.
package tasks

import (
	"context"
	"log/slog"

	"github.com/edgard/lifetracker/internal/config"
	"github.com/edgard/lifetracker/internal/contacts"
	"github.com/edgard/lifetracker/internal/database"
)

// ContactImporter fetches the dialog list and imports it into table.
type ContactImporter interface {
	ImportContacts(ctx context.Context, table string) (*contacts.ImportResult, error)
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger   *slog.Logger
	Store    database.Store
	Importer ContactImporter
	Config   *config.Config
}
