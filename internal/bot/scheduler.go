package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/edgard/hyperbot/internal/bot/tasks"
	"github.com/edgard/hyperbot/internal/config"
)

// Scheduler runs the configured cron tasks and the one-off delayed jobs the
// session manager and command handlers ask for, such as reconnect attempts
// and timed unmutes.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	cfg       *config.SchedulerConfig
	taskMap   map[string]tasks.ScheduledTaskFunc

	// ctx is handed to one-off jobs and cancelled on Stop.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a new scheduler instance using gocron.
func NewScheduler(logger *slog.Logger, cfg *config.SchedulerConfig, taskMap map[string]tasks.ScheduledTaskFunc) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "scheduler")

	s, err := gocron.NewScheduler(gocron.WithLogger(gocronLogger{log}))
	if err != nil {
		log.Error("Failed to create gocron scheduler", "error", err)
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		logger:    log,
		cfg:       cfg,
		taskMap:   taskMap,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start schedules every enabled task and starts the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	scheduledCount := 0
	if s.cfg == nil || len(s.cfg.Tasks) == 0 {
		s.logger.Warn("No scheduler tasks configured.")
	}
	if s.cfg != nil {
		for taskName, taskConfig := range s.cfg.Tasks {
			if s.scheduleTask(taskName, taskConfig) {
				scheduledCount++
			}
		}
	}

	s.scheduler.Start()
	s.running = true
	s.logger.Info("Scheduler initialized and started", "tasks_scheduled", scheduledCount)

	return nil
}

func (s *Scheduler) scheduleTask(taskName string, taskConfig config.TaskConfig) bool {
	if !taskConfig.Enabled {
		s.logger.Info("Skipping disabled task", "task_name", taskName)
		return false
	}

	taskFunc, exists := s.taskMap[taskName]
	if !exists {
		s.logger.Warn("Scheduled task configured but not found in registry, skipping", "task_name", taskName)
		return false
	}

	_, err := s.scheduler.NewJob(
		gocron.CronJob(taskConfig.Schedule, true),
		gocron.NewTask(
			func(ctx context.Context, name string) {
				s.logger.InfoContext(ctx, "Running scheduled task", "task_name", name)
				startTime := time.Now()
				if taskErr := taskFunc(ctx); taskErr != nil {
					s.logger.ErrorContext(ctx, "Scheduled task failed", "task_name", name, "error", taskErr)
				}
				s.logger.InfoContext(ctx, "Finished scheduled task", "task_name", name, "duration", time.Since(startTime))
			},
			s.ctx,
			taskName,
		),
		gocron.WithName(taskName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		s.logger.Error("Failed to schedule task", "task_name", taskName, "schedule", taskConfig.Schedule, "error", err)
		return false
	}

	s.logger.Info("Scheduled task", "task_name", taskName, "schedule", taskConfig.Schedule)
	return true
}

// After runs fn once, delay from now. The returned cancel removes the job if
// it has not started yet; a job that already runs is left to finish.
func (s *Scheduler) After(name string, delay time.Duration, fn func(ctx context.Context)) (func(), error) {
	start := gocron.OneTimeJobStartImmediately()
	if delay > 0 {
		start = gocron.OneTimeJobStartDateTime(time.Now().Add(delay))
	}

	job, err := s.scheduler.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(fn, s.ctx),
		gocron.WithName(name),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule %s: %w", name, err)
	}

	id := job.ID()
	s.logger.Debug("Scheduled one-off job", "job", name, "job_id", id, "delay", delay)
	return func() { s.remove(name, id) }, nil
}

func (s *Scheduler) remove(name string, id uuid.UUID) {
	err := s.scheduler.RemoveJob(id)
	switch {
	case err == nil:
		s.logger.Debug("Cancelled one-off job", "job", name, "job_id", id)
	case errors.Is(err, gocron.ErrJobNotFound):
		// Already ran or removed.
	default:
		s.logger.Warn("Failed to cancel one-off job", "job", name, "job_id", id, "error", err)
	}
}

// Stop cancels the context of running jobs and waits for them to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel()
	if !s.running {
		s.logger.Info("Scheduler is not running, nothing to stop.")
		return nil
	}

	err := s.scheduler.Shutdown()
	if err != nil {
		s.logger.Error("Error during scheduler shutdown", "error", err)
	} else {
		s.logger.Info("Scheduler stopped gracefully.")
	}

	s.running = false
	return err
}

// gocronLogger routes gocron's own logs to slog.
type gocronLogger struct {
	log *slog.Logger
}

func (l gocronLogger) Debug(msg string, args ...any) { l.log.Debug(msg, args...) }
func (l gocronLogger) Info(msg string, args ...any)  { l.log.Info(msg, args...) }
func (l gocronLogger) Warn(msg string, args ...any)  { l.log.Warn(msg, args...) }
func (l gocronLogger) Error(msg string, args ...any) { l.log.Error(msg, args...) }
