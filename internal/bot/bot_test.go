package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edgard/hyperbot/internal/bot/tasks"
	"github.com/edgard/hyperbot/internal/config"
	"github.com/edgard/hyperbot/internal/database"
	"github.com/edgard/hyperbot/internal/session"
	"github.com/edgard/hyperbot/internal/transport"
	"github.com/edgard/hyperbot/internal/vault"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(t *testing.T, cfg *config.SchedulerConfig, taskMap map[string]tasks.ScheduledTaskFunc) *Scheduler {
	t.Helper()
	s, err := NewScheduler(discardLogger(), cfg, taskMap)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestScheduler_AfterRunsOnce(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil, nil)

	done := make(chan struct{}, 2)
	if _, err := s.After("reconnect:bot-1", 20*time.Millisecond, func(context.Context) { done <- struct{}{} }); err != nil {
		t.Fatalf("After() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}

	select {
	case <-done:
		t.Fatal("job ran twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScheduler_CancelBeforeRun(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, nil, nil)

	var ran atomic.Bool
	cancel, err := s.After("unmute:bot-1:group", 300*time.Millisecond, func(context.Context) { ran.Store(true) })
	if err != nil {
		t.Fatalf("After() error = %v", err)
	}
	cancel()
	cancel()

	time.Sleep(600 * time.Millisecond)
	if ran.Load() {
		t.Error("cancelled job ran")
	}
}

func TestScheduler_StopCancelsJobContext(t *testing.T) {
	t.Parallel()
	s, err := NewScheduler(discardLogger(), nil, nil)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("second Start() error = nil, want error")
	}

	started := make(chan struct{})
	stopped := make(chan struct{})
	if _, err := s.After("long", 0, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(stopped)
	}); err != nil {
		t.Fatalf("After() error = %v", err)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not start")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case <-stopped:
	default:
		t.Error("job context was not cancelled by Stop")
	}
}

func TestScheduler_SchedulesOnlyKnownEnabledTasks(t *testing.T) {
	t.Parallel()

	noop := func(context.Context) error { return nil }
	s := newTestScheduler(t, &config.SchedulerConfig{Tasks: map[string]config.TaskConfig{
		"sql_maintenance": {Enabled: true, Schedule: "0 0 3 * * *"},
		"disabled":        {Enabled: false, Schedule: "0 0 3 * * *"},
		"unknown":         {Enabled: true, Schedule: "0 0 3 * * *"},
		"bad_schedule":    {Enabled: true, Schedule: "not a cron"},
	}}, map[string]tasks.ScheduledTaskFunc{
		"sql_maintenance": noop,
		"disabled":        noop,
		"bad_schedule":    noop,
	})

	jobs := s.scheduler.Jobs()
	if len(jobs) != 1 || jobs[0].Name() != "sql_maintenance" {
		names := make([]string, 0, len(jobs))
		for _, j := range jobs {
			names = append(names, j.Name())
		}
		t.Errorf("jobs = %v, want [sql_maintenance]", names)
	}
}

type refusingDialer struct{}

func (refusingDialer) Dial(context.Context, transport.Options) (transport.Conn, error) {
	return nil, errors.New("gateway unreachable")
}

func newTestBot(t *testing.T) (*Bot, database.Store) {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })
	store := database.NewStore(db, nil)

	v, err := vault.New("bot-test-master-secret", "salt", store, nil)
	if err != nil {
		t.Fatalf("vault.New() error = %v", err)
	}

	sched, err := NewScheduler(discardLogger(), nil, nil)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	manager, err := session.NewManager(session.Config{
		Policy: session.Policy{MaxRetries: 1, BaseDelay: time.Hour, MaxDelay: time.Hour},
	}, session.Deps{
		Store:     store,
		Vault:     v,
		Dialer:    refusingDialer{},
		Scheduler: sched,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	return NewBot(discardLogger(), &config.Config{}, store, manager, sched, nil, nil), store
}

func TestBot_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	b, _ := newTestBot(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestBot_Snapshot(t *testing.T) {
	t.Parallel()
	b, store := newTestBot(t)
	ctx := context.Background()

	for _, id := range []string{"bot-1", "bot-2"} {
		if err := store.CreateBot(ctx, &database.BotRecord{ID: id, TenantID: "tenant-a", Name: id}); err != nil {
			t.Fatalf("CreateBot() error = %v", err)
		}
	}
	if err := store.UpdateBotStatus(ctx, "bot-2", database.StatusUpdate{Status: database.StatusError}); err != nil {
		t.Fatalf("UpdateBotStatus() error = %v", err)
	}

	s, err := b.snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot() error = %v", err)
	}
	if s.ActiveSessions != 0 || s.Bots[database.StatusInitializing] != 1 || s.Bots[database.StatusError] != 1 {
		t.Errorf("snapshot = %+v, want one INITIALIZING and one ERROR", s)
	}
}
