package handlers

import (
	"context"
	"log/slog"

	"github.com/edgard/lifetracker/internal/config"
	"github.com/edgard/lifetracker/internal/database"
)

// ContactAnalyzer runs the analysis pipeline for one contact.
type ContactAnalyzer interface {
	Analyze(ctx context.Context, contactID int64) (*database.Contact, error)
}

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger   *slog.Logger
	Config   *config.Config
	Store    database.Store
	Analyzer ContactAnalyzer
}

func (d HandlerDeps) table() string {
	return d.Config.Contacts.Table
}
