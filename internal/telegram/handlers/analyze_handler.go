package handlers

import (
	"context"
	"errors"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/lifetracker/internal/contacts"
)

// NewAnalyzeHandler returns a handler for the /analyze command.
func NewAnalyzeHandler(deps HandlerDeps) bot.HandlerFunc {
	return analyzeHandler{deps}.Handle
}

// analyzeHandler runs the analysis pipeline for one contact and reports the outcome.
type analyzeHandler struct {
	deps HandlerDeps
}

// Handle processes "/analyze <id>". The pipeline keeps running in the
// background if the reply deadline passes, so a timeout reply does not
// mean the result is lost.
func (h analyzeHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "analyze")

	if update.Message == nil || update.Message.From == nil {
		log.ErrorContext(ctx, "Analyze handler called with nil Message or From", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	id, err := commandArgID(update.Message.Text)
	if err != nil {
		sendReply(ctx, b, log, chatID, msgUsageAnalyze)
		return
	}

	log.InfoContext(ctx, "Admin requested contact analysis", "chat_id", chatID, "contact_id", id)
	sendReply(ctx, b, log, chatID, msgAnalyzing)
	sendReply(ctx, b, log, chatID, h.reply(ctx, id))
}

func (h analyzeHandler) reply(ctx context.Context, id int64) string {
	contact, err := h.deps.Analyzer.Analyze(ctx, id)
	if err == nil {
		return FormatContact(contact)
	}

	h.deps.Logger.WarnContext(ctx, "Contact analysis failed", "error", err, "contact_id", id)
	var (
		fetchErr    *contacts.HistoryFetchError
		analysisErr *contacts.AnalysisError
		persistErr  *contacts.PersistError
		conflictErr *contacts.ConflictError
	)
	switch {
	case errors.As(err, &conflictErr):
		return msgAnalyzeBusy
	case errors.As(err, &persistErr) && persistErr.NotFound():
		return msgNotFound
	case errors.As(err, &fetchErr):
		return msgHistoryFailed
	case errors.As(err, &analysisErr):
		return msgAnalysisFailed
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return msgAnalyzeTimeout
	default:
		return msgGeneralError
	}
}
