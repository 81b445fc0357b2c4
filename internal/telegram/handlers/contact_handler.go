package handlers

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/lifetracker/internal/database"
)

// NewContactHandler returns a handler for the /contact command.
func NewContactHandler(deps HandlerDeps) bot.HandlerFunc {
	return contactHandler{deps}.Handle
}

// contactHandler shows one stored contact.
type contactHandler struct {
	deps HandlerDeps
}

func (h contactHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "contact")

	if update.Message == nil || update.Message.From == nil {
		log.ErrorContext(ctx, "Contact handler called with nil Message or From", "update_id", update.ID)
		return
	}
	sendReply(ctx, b, log, update.Message.Chat.ID, h.reply(ctx, update.Message.Text))
}

func (h contactHandler) reply(ctx context.Context, text string) string {
	id, err := commandArgID(text)
	if err != nil {
		return msgUsageContact
	}
	contact, err := h.deps.Store.GetContact(ctx, h.deps.table(), id)
	if err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to get contact", "error", err, "contact_id", id)
		return msgGeneralError
	}
	if contact == nil {
		return msgNotFound
	}
	return FormatContact(contact)
}

// NewContactsHandler returns a handler for the /contacts command.
func NewContactsHandler(deps HandlerDeps) bot.HandlerFunc {
	return contactsHandler{deps}.Handle
}

// contactsHandler lists stored contacts in listing order.
type contactsHandler struct {
	deps HandlerDeps
}

func (h contactsHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "contacts")

	if update.Message == nil || update.Message.From == nil {
		log.ErrorContext(ctx, "Contacts handler called with nil Message or From", "update_id", update.ID)
		return
	}
	chatID := update.Message.Chat.ID
	log.InfoContext(ctx, "Admin requested contacts list", "chat_id", chatID)
	sendReply(ctx, b, log, chatID, h.reply(ctx))
}

func (h contactsHandler) reply(ctx context.Context) string {
	list, err := h.deps.Store.ListContacts(ctx, h.deps.table(), database.ListOptions{Limit: contactsListLimit})
	if err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to list contacts", "error", err)
		return msgGeneralError
	}
	if len(list) == 0 {
		return msgNoContacts
	}
	lines := make([]string, 0, len(list))
	for _, c := range list {
		lines = append(lines, formatContactLine(c))
	}
	return strings.Join(lines, "\n")
}
