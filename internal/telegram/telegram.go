// Package telegram sets up the Telegram bot used by operators: it receives
// status alerts and answers the /status command in the operator chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/hyperbot/internal/database"
)

// NewTelegramBot creates a new Telegram bot instance using the go-telegram/bot library.
func NewTelegramBot(token string, logger *slog.Logger, opts ...bot.Option) (*bot.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram_bot")

	b, err := bot.New(token, opts...)
	if err != nil {
		log.Error("Failed to create Telegram bot instance", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	prefix := token
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	log.Info("Telegram bot instance created successfully", "token_prefix", prefix+"...")
	return b, nil
}

// Snapshot is the fleet state reported by /status.
type Snapshot struct {
	ActiveSessions int
	Bots           map[database.BotStatus]int
}

// SnapshotFunc gathers a Snapshot on demand.
type SnapshotFunc func(ctx context.Context) (Snapshot, error)

// StatusText renders a Snapshot for the operator chat.
func StatusText(s Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Active sessions: %d", s.ActiveSessions)

	statuses := make([]string, 0, len(s.Bots))
	for status := range s.Bots {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)

	total := 0
	for _, status := range statuses {
		n := s.Bots[database.BotStatus(status)]
		total += n
		fmt.Fprintf(&sb, "\n%s: %d", status, n)
	}
	fmt.Fprintf(&sb, "\nTotal bots: %d", total)
	return sb.String()
}

// RegisterOperatorCommands registers /status on b. Commands from chats other
// than chatID are ignored.
func RegisterOperatorCommands(b *bot.Bot, chatID int64, snapshot SnapshotFunc, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram_operator")

	b.RegisterHandler(bot.HandlerTypeMessageText, "status", bot.MatchTypeCommandStartOnly, func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if update.Message == nil || update.Message.Chat.ID != chatID {
			return
		}

		text := "Failed to collect status."
		s, err := snapshot(ctx)
		if err != nil {
			log.ErrorContext(ctx, "Failed to collect status snapshot", "error", err)
		} else {
			text = StatusText(s)
		}

		if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
			log.ErrorContext(ctx, "Failed to send status reply", "error", err, "chat_id", chatID)
		}
	})
	log.Info("Registered operator commands", "chat_id", chatID)
}
