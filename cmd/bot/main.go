// Package main contains the entrypoint of the hyperbot session engine.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"

	"github.com/edgard/hyperbot/internal/bot"
	"github.com/edgard/hyperbot/internal/bot/handlers"
	"github.com/edgard/hyperbot/internal/bot/tasks"
	"github.com/edgard/hyperbot/internal/config"
	"github.com/edgard/hyperbot/internal/database"
	"github.com/edgard/hyperbot/internal/events"
	"github.com/edgard/hyperbot/internal/gemini"
	"github.com/edgard/hyperbot/internal/logger"
	"github.com/edgard/hyperbot/internal/session"
	"github.com/edgard/hyperbot/internal/telegram"
	"github.com/edgard/hyperbot/internal/transport/gateway"
	"github.com/edgard/hyperbot/internal/vault"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run wires every component, blocks until shutdown and returns the process
// exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	credVault, err := vault.New(cfg.Security.MasterSecret, cfg.Security.KDFSalt, store, log)
	if err != nil {
		log.Error("Failed to initialize credential vault", "error", err)
		return 1
	}

	var gemClient gemini.Client
	if cfg.Gemini.APIKey != "" {
		gemClient, err = gemini.NewClient(ctx, cfg.Gemini, log)
		if err != nil {
			log.Error("Failed to initialize Gemini client", "error", err)
			return 1
		}
	} else {
		log.Info("Gemini API key not set, fun commands use static texts")
	}

	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tasks.TaskDeps{Logger: log, Store: store}))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	sinks := []events.Sink{events.NewLogSink(log)}

	var hub *events.Hub
	if cfg.Events.Enabled {
		hub = events.NewHub(log)
		sinks = append(sinks, hub)
	}

	var tg *tgbot.Bot
	if cfg.TelegramAlerts.Token != "" {
		tg, err = telegram.NewTelegramBot(cfg.TelegramAlerts.Token, log)
		if err != nil {
			log.Error("Failed to create Telegram operator bot", "error", err)
			return 1
		}
		sinks = append(sinks, events.NewTelegramSink(tg, cfg.TelegramAlerts.ChatID, cfg.TelegramAlerts.Statuses, log))
	}

	router := handlers.NewRouter(handlers.HandlerDeps{
		Logger:       log,
		Config:       cfg,
		Store:        store,
		GeminiClient: gemClient,
		Scheduler:    sched,
	})

	manager, err := session.NewManager(session.Config{
		Policy: session.Policy{
			MaxRetries: cfg.Reconnect.MaxRetries,
			BaseDelay:  cfg.Reconnect.BaseDelay,
			MaxDelay:   cfg.Reconnect.MaxDelay,
		},
		Connect: session.ConnectOptions{
			ConnectTimeout: cfg.Gateway.ConnectTimeout,
			QueryTimeout:   cfg.Gateway.QueryTimeout,
			QRTimeout:      cfg.Gateway.QRTimeout,
			KeepAlive:      cfg.Gateway.KeepAlive,
			Browser:        cfg.Gateway.Browser,
		},
		ConnectedMessage: cfg.Messages.Connected,
	}, session.Deps{
		Store:     store,
		Vault:     credVault,
		Dialer:    gateway.NewDialer(cfg.Gateway.URL, log),
		Scheduler: sched,
		Publisher: events.NewPublisher(log, sinks...),
		Handler:   logger.Middleware(log)(router.HandleMessages),
		Logger:    log,
	})
	if err != nil {
		log.Error("Failed to create session manager", "error", err)
		return 1
	}

	app := bot.NewBot(log, cfg, store, manager, sched, hub, tg)

	log.Info("Starting hyperbot...")
	runErr := app.Run(ctx)
	log.Info("Run loop finished.")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Stopped gracefully.")
	return 0
}
