package events

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// MessageSender is the part of the Telegram bot client used for alerts.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramSink forwards selected status events to an operator chat.
type TelegramSink struct {
	sender   MessageSender
	chatID   int64
	statuses map[string]bool
	logger   *slog.Logger
}

// NewTelegramSink creates a sink that alerts on the given status names
// (as published, e.g. "error", "connected").
func NewTelegramSink(sender MessageSender, chatID int64, statuses []string, logger *slog.Logger) *TelegramSink {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	set := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		set[s] = true
	}
	return &TelegramSink{
		sender:   sender,
		chatID:   chatID,
		statuses: set,
		logger:   logger.With("component", "telegram_alerts"),
	}
}

func (s *TelegramSink) Publish(ctx context.Context, event Event) error {
	if event.Type != TypeStatus {
		return nil
	}
	status, _ := event.Data.(string)
	if !s.statuses[status] {
		return nil
	}

	_, err := s.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: s.chatID,
		Text:   fmt.Sprintf("Bot %s is now %s", event.BotID, status),
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram alert: %w", err)
	}

	s.logger.DebugContext(ctx, "Status alert sent", "bot_id", event.BotID, "status", status)
	return nil
}
