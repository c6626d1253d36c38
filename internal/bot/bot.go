// Package bot wires the session engine, the event hub, the operator bot and
// the scheduler together and runs them until shutdown.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbot "github.com/go-telegram/bot"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/hyperbot/internal/config"
	"github.com/edgard/hyperbot/internal/database"
	"github.com/edgard/hyperbot/internal/events"
	"github.com/edgard/hyperbot/internal/session"
	"github.com/edgard/hyperbot/internal/telegram"
)

const shutdownTimeout = 10 * time.Second

// Bot represents the main application and manages its components' lifecycle.
type Bot struct {
	logger    *slog.Logger
	cfg       *config.Config
	store     database.Store
	manager   *session.Manager
	scheduler *Scheduler
	hub       *events.Hub // Nil when the event hub is disabled
	tgBot     *tgbot.Bot  // Nil when operator alerts are disabled
}

// NewBot creates the orchestrator. hub and tgBot are optional.
func NewBot(
	logger *slog.Logger,
	cfg *config.Config,
	store database.Store,
	manager *session.Manager,
	scheduler *Scheduler,
	hub *events.Hub,
	tgBot *tgbot.Bot,
) *Bot {
	return &Bot{
		logger:    logger.With("component", "bot_orchestrator"),
		cfg:       cfg,
		store:     store,
		manager:   manager,
		scheduler: scheduler,
		hub:       hub,
		tgBot:     tgBot,
	}
}

// Run restores the persisted sessions and serves until ctx is cancelled or a
// component fails. Sessions, jobs and event clients are closed on the way out.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")

	if err := b.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping components...")
		return nil
	})

	g.Go(func() error {
		if err := b.manager.RestoreActiveBots(gCtx); err != nil {
			return fmt.Errorf("failed to restore sessions: %w", err)
		}
		return nil
	})

	if b.hub != nil {
		g.Go(func() error { return b.serveEvents(gCtx) })
	}

	if b.tgBot != nil {
		telegram.RegisterOperatorCommands(b.tgBot, b.cfg.TelegramAlerts.ChatID, b.snapshot, b.logger)
		g.Go(func() error {
			b.logger.Info("Starting Telegram operator listener...")
			b.tgBot.Start(gCtx)
			b.logger.Info("Telegram operator listener stopped.")

			if gCtx.Err() == nil {
				return fmt.Errorf("telegram listener stopped unexpectedly")
			}
			return nil
		})
	}

	b.logger.Info("Bot orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	b.shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}

// serveEvents runs the websocket event endpoint until ctx is done.
func (b *Bot) serveEvents(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(b.cfg.Events.Path, b.hub)

	srv := &http.Server{
		Addr:              b.cfg.Events.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		b.logger.Info("Event hub listening", "addr", srv.Addr, "path", b.cfg.Events.Path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("event hub server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	b.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		b.logger.Warn("Event hub shutdown incomplete", "error", err)
	}
	return nil
}

func (b *Bot) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	b.logger.Info("Shutting down sessions", "active", b.manager.ActiveSessions())
	b.manager.Shutdown(ctx)

	if err := b.scheduler.Stop(); err != nil {
		b.logger.Error("Error stopping scheduler", "error", err)
	}
}

func (b *Bot) snapshot(ctx context.Context) (telegram.Snapshot, error) {
	bots, err := b.store.ListBotsByStatus(ctx, database.AllStatuses...)
	if err != nil {
		return telegram.Snapshot{}, err
	}

	s := telegram.Snapshot{
		ActiveSessions: b.manager.ActiveSessions(),
		Bots:           make(map[database.BotStatus]int),
	}
	for _, bot := range bots {
		s.Bots[bot.Status]++
	}
	return s, nil
}
