package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/lifetracker/internal/database"
	"github.com/edgard/lifetracker/internal/realtime"
	"github.com/edgard/lifetracker/internal/telegram/handlers"
)

// Sender sends Telegram messages. *bot.Bot implements it.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// EventSource delivers contact change events.
type EventSource interface {
	Watch(ctx context.Context, filter realtime.Filter, fn func(database.ChangeEvent)) error
}

// Notifier tells the admin chat about new contact analyses.
type Notifier struct {
	sender Sender
	source EventSource
	table  string
	chatID int64
	log    *slog.Logger
}

// NewNotifier creates a Notifier for UPDATE events on table.
func NewNotifier(sender Sender, source EventSource, table string, chatID int64, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		sender: sender,
		source: source,
		table:  table,
		chatID: chatID,
		log:    logger.With("component", "telegram_notifier"),
	}
}

// Run watches for changed summaries until ctx is done or the source closes.
// A lagging subscription is replaced; missed events are not replayed.
func (n *Notifier) Run(ctx context.Context) error {
	filter := realtime.Filter{Table: n.table, Event: database.EventUpdate}
	for {
		err := n.source.Watch(ctx, filter, func(event database.ChangeEvent) {
			n.handle(ctx, event)
		})
		switch {
		case ctx.Err() != nil, errors.Is(err, realtime.ErrClosed):
			n.log.Info("Notifier stopped")
			return nil
		case errors.Is(err, realtime.ErrLagging):
			n.log.Warn("Notifier fell behind, resubscribing")
		default:
			return fmt.Errorf("notifier watch failed: %w", err)
		}
	}
}

func (n *Notifier) handle(ctx context.Context, event database.ChangeEvent) {
	if !SummaryChanged(event) {
		return
	}
	_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   "New analysis\n\n" + handlers.FormatContact(event.New),
	})
	if err != nil {
		n.log.ErrorContext(ctx, "Failed to send analysis notification", "error", err, "user_id", event.UserID())
		return
	}
	n.log.DebugContext(ctx, "Sent analysis notification", "user_id", event.UserID())
}

// SummaryChanged reports whether an UPDATE event carries a new summary.
func SummaryChanged(event database.ChangeEvent) bool {
	if event.Type != database.EventUpdate || event.New == nil || event.New.Summary == nil {
		return false
	}
	if event.Old == nil || event.Old.Summary == nil {
		return true
	}
	return !reflect.DeepEqual(event.Old.Summary, event.New.Summary)
}
