// Package logger provides structured logging functionality for HyperBot.
// It uses Go's slog package for logging with configurable levels and formats.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/edgard/hyperbot/internal/database"
	"github.com/edgard/hyperbot/internal/transport"
)

// NewLogger creates a new slog Logger with the specified level and format.
// If jsonOutput is true, logs will be formatted as JSON, otherwise as text.
func NewLogger(levelStr string, jsonOutput bool) *slog.Logger {
	logger := newLogger(os.Stdout, levelStr, jsonOutput)
	slog.SetDefault(logger)
	return logger
}

func newLogger(w io.Writer, levelStr string, jsonOutput bool) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// MessageHandlerFunc handles one inbound message batch of a bot. It satisfies
// the session manager's message handler contract.
type MessageHandlerFunc func(ctx context.Context, conn transport.Conn, batch transport.MessagesUpsert, bot *database.BotWithGroups)

// HandleMessages calls f.
func (f MessageHandlerFunc) HandleMessages(ctx context.Context, conn transport.Conn, batch transport.MessagesUpsert, bot *database.BotWithGroups) {
	f(ctx, conn, batch, bot)
}

// Middleware creates a logging middleware for the message router.
// It logs every incoming batch and how long it took to process.
func Middleware(log *slog.Logger) func(next MessageHandlerFunc) MessageHandlerFunc {
	return func(next MessageHandlerFunc) MessageHandlerFunc {
		return func(ctx context.Context, conn transport.Conn, batch transport.MessagesUpsert, bot *database.BotWithGroups) {
			startTime := time.Now()

			logEntry := log.With(
				"bot_id", bot.ID,
				"batch_type", batch.Type,
				"message_count", len(batch.Messages),
			)

			if len(batch.Messages) > 0 {
				first := batch.Messages[0]
				logEntry = logEntry.With(
					"chat_id", first.Key.RemoteJID,
					"sender", first.Sender(),
					"from_me", first.Key.FromMe,
					"text_preview", truncateString(first.Text(), 50),
				)
			}

			logEntry.DebugContext(ctx, "Processing message batch")

			next(ctx, conn, batch, bot)

			logEntry.DebugContext(ctx, "Finished processing message batch", "duration", time.Since(startTime))
		}
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
