package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
)

// maxMessageLength is the Telegram limit for one text message.
const maxMessageLength = 4096

func sendReply(ctx context.Context, b *bot.Bot, log *slog.Logger, chatID int64, text string) {
	if len(text) > maxMessageLength {
		text = text[:maxMessageLength-3] + "..."
	}
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		log.ErrorContext(ctx, "Failed to send reply", "error", err, "chat_id", chatID)
	}
}

// commandArgID parses the numeric argument of "/cmd <id>".
func commandArgID(text string) (int64, error) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return 0, fmt.Errorf("missing contact id")
	}
	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid contact id %q: %w", fields[1], err)
	}
	return id, nil
}
