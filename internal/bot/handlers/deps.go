package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgard/hyperbot/internal/config"
	"github.com/edgard/hyperbot/internal/database"
	"github.com/edgard/hyperbot/internal/gemini"
)

// Scheduler runs deferred one-off jobs, such as lifting a timed mute.
type Scheduler interface {
	After(name string, delay time.Duration, fn func(ctx context.Context)) (cancel func(), err error)
}

// HandlerDeps provides dependencies for chat command handlers.
type HandlerDeps struct {
	Logger       *slog.Logger
	Config       *config.Config
	Store        database.Store
	GeminiClient gemini.Client // Optional; static texts are used without it
	Scheduler    Scheduler     // Optional; timed mutes are rejected without it
	// Intn picks random replies. Defaults to math/rand/v2.IntN.
	Intn func(n int) int
}
