package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewStartHandler returns a handler for the /start command.
func NewStartHandler(deps HandlerDeps) bot.HandlerFunc {
	return textHandler{deps: deps, name: "start", text: msgWelcome}.Handle
}

// NewHelpHandler returns a handler for the /help command.
func NewHelpHandler(deps HandlerDeps) bot.HandlerFunc {
	return textHandler{deps: deps, name: "help", text: msgHelp}.Handle
}

// textHandler replies with fixed text.
type textHandler struct {
	deps HandlerDeps
	name string
	text string
}

func (h textHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", h.name)

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	log.InfoContext(ctx, "Handling command", "chat_id", chatID, "user_id", update.Message.From.ID)
	sendReply(ctx, b, log, chatID, h.text)
}
