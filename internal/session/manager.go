// Package session runs the connection lifecycle of every bot: it loads
// credentials, dials the chat network, follows connection events and
// reconnects with backoff after recoverable drops.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/hyperbot/internal/database"
	apperrors "github.com/edgard/hyperbot/internal/errors"
	"github.com/edgard/hyperbot/internal/syncutil"
	"github.com/edgard/hyperbot/internal/transport"
	"github.com/edgard/hyperbot/internal/vault"
)

const restoreConcurrency = 4

// Scheduler runs deferred one-off jobs. The returned cancel function removes
// the job if it has not started yet.
type Scheduler interface {
	After(name string, delay time.Duration, fn func(ctx context.Context)) (cancel func(), err error)
}

// Publisher mirrors lifecycle changes to external observers.
type Publisher interface {
	PairingCode(ctx context.Context, botID, code string)
	QRCode(ctx context.Context, botID, qr string)
	Status(ctx context.Context, botID string, status database.BotStatus)
	BotCreated(ctx context.Context, bot *database.BotRecord)
}

// MessageHandler consumes inbound message batches of a live session.
type MessageHandler interface {
	HandleMessages(ctx context.Context, conn transport.Conn, batch transport.MessagesUpsert, bot *database.BotWithGroups)
}

// ConnectOptions are the transport settings applied to every connection.
type ConnectOptions struct {
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	QRTimeout      time.Duration
	KeepAlive      time.Duration
	Browser        []string
}

// Config configures a Manager.
type Config struct {
	Policy  Policy
	Connect ConnectOptions
	// ConnectedMessage is sent to the bot's own chat once a connection opens.
	// A %s verb is replaced with the bot name.
	ConnectedMessage string
}

// Deps holds the collaborators of a Manager.
type Deps struct {
	Store     database.Store
	Vault     *vault.Vault
	Dialer    transport.Dialer
	Scheduler Scheduler
	Publisher Publisher
	Handler   MessageHandler
	Logger    *slog.Logger
}

// Manager owns every live session.
type Manager struct {
	cfg       Config
	store     database.Store
	vault     *vault.Vault
	dialer    transport.Dialer
	scheduler Scheduler
	publisher Publisher
	handler   MessageHandler
	logger    *slog.Logger

	registry *Registry
	counters *Counters
	locks    *syncutil.KeyedMutex

	// epochs identify the latest caller request per bot. Work started under
	// an older epoch is dropped.
	mu      sync.Mutex
	epochs  map[string]uint64
	pending map[string]func()

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a Manager. Store, Vault, Dialer and Scheduler are required.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	switch {
	case deps.Store == nil:
		return nil, apperrors.NewConfigError("session manager requires a store", nil)
	case deps.Vault == nil:
		return nil, apperrors.NewConfigError("session manager requires a credential vault", nil)
	case deps.Dialer == nil:
		return nil, apperrors.NewConfigError("session manager requires a dialer", nil)
	case deps.Scheduler == nil:
		return nil, apperrors.NewConfigError("session manager requires a scheduler", nil)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = nopPublisher{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		cfg:       cfg,
		store:     deps.Store,
		vault:     deps.Vault,
		dialer:    deps.Dialer,
		scheduler: deps.Scheduler,
		publisher: publisher,
		handler:   deps.Handler,
		logger:    logger.With("component", "session_manager"),
		registry:  NewRegistry(),
		counters:  NewCounters(),
		locks:     syncutil.NewKeyedMutex(),
		epochs:    make(map[string]uint64),
		pending:   make(map[string]func()),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// CreateBot stores a new bot for tenantID and starts its first connection.
// A failed connection start leaves the bot in place with status ERROR.
func (m *Manager) CreateBot(ctx context.Context, tenantID, name string, config database.JSONMap, phoneNumber string) (*database.BotRecord, error) {
	bot := &database.BotRecord{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Name:     name,
		Config:   config,
	}
	if err := m.store.CreateBot(ctx, bot); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Bot created", "bot_id", bot.ID, "tenant_id", tenantID)
	m.publisher.BotCreated(ctx, bot)

	if _, err := m.CreateBotInstance(ctx, bot.ID, phoneNumber); err != nil {
		m.logger.WarnContext(ctx, "Initial connection failed", "bot_id", bot.ID, "error", err)
	}

	if fresh, err := m.store.GetBot(ctx, bot.ID); err == nil && fresh != nil {
		return fresh, nil
	}
	return bot, nil
}

// CreateBotInstance starts a new connection for an existing bot, replacing any
// live one and cancelling a pending reconnect. When phoneNumber is set and
// the stored credentials are not paired yet, a pairing code is requested and
// published; otherwise the QR code is published once the network sends it.
func (m *Manager) CreateBotInstance(ctx context.Context, botID, phoneNumber string) (transport.Conn, error) {
	unlock := m.locks.Lock(botID)
	epoch := m.begin(botID)
	m.counters.Reset(botID)
	// A bot leaves DISCONNECTED or ERROR only on a caller request, so later
	// drops of this attempt can show as RECONNECTING.
	if bot, err := m.store.GetBot(ctx, botID); err == nil && bot != nil && bot.Status.Terminal() {
		m.persistStatus(ctx, botID, database.StatusUpdate{Status: database.StatusConnecting, TouchAttempt: true})
	}
	unlock()

	sess, err := m.connect(ctx, botID, phoneNumber, epoch)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			m.fail(ctx, botID, epoch, err)
		}
		return nil, err
	}

	return sess.Conn, nil
}

// DisconnectBot logs a bot out, marks it DISCONNECTED and deletes its
// credentials. It wins over any connection attempt or reconnect in flight.
func (m *Manager) DisconnectBot(ctx context.Context, botID string) error {
	unlock := m.locks.Lock(botID)
	defer unlock()

	m.begin(botID)
	m.counters.Reset(botID)

	if sess := m.registry.Remove(botID); sess != nil {
		if err := sess.logout(ctx); err != nil {
			m.logger.WarnContext(ctx, "Logout failed, connection closed anyway", "bot_id", botID, "error", err)
		}
	}

	update := database.StatusUpdate{Status: database.StatusDisconnected, TouchAttempt: true}
	if err := m.store.UpdateBotStatus(ctx, botID, update); err != nil {
		return err
	}
	m.publisher.Status(ctx, botID, database.StatusDisconnected)

	if err := m.vault.DeleteState(ctx, botID); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "Bot disconnected", "bot_id", botID)
	return nil
}

// RestoreActiveBots reconnects every bot that was connected or on its way to
// a connection when the process last stopped. Failures are logged per bot.
func (m *Manager) RestoreActiveBots(ctx context.Context) error {
	var statuses []database.BotStatus
	for _, s := range database.AllStatuses {
		if s.Restorable() {
			statuses = append(statuses, s)
		}
	}

	bots, err := m.store.ListBotsByStatus(ctx, statuses...)
	if err != nil {
		return err
	}

	var restored, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(restoreConcurrency)
	for _, bot := range bots {
		g.Go(func() error {
			if _, err := m.CreateBotInstance(ctx, bot.ID, ""); err != nil {
				failed.Add(1)
				m.logger.ErrorContext(ctx, "Failed to restore bot", "bot_id", bot.ID, "error", err)
				return nil
			}
			restored.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	m.logger.InfoContext(ctx, "Active bots restored",
		"total", len(bots),
		"restored", restored.Load(),
		"failed", failed.Load())
	return nil
}

// StatusView is the read-only projection of a bot's connection state.
type StatusView struct {
	BotID                 string                 `json:"bot_id"`
	Name                  string                 `json:"name"`
	Status                database.BotStatus     `json:"status"`
	QRCode                string                 `json:"qr_code,omitempty"`
	Connected             bool                   `json:"connected"`
	LastConnectionAttempt *time.Time             `json:"last_connection_attempt,omitempty"`
	Groups                []database.GroupRecord `json:"groups"`
}

// GetBotStatus returns the status projection of a bot, or nil if it does not exist.
func (m *Manager) GetBotStatus(ctx context.Context, botID string) (*StatusView, error) {
	bot, err := m.store.GetBotWithGroups(ctx, botID)
	if err != nil || bot == nil {
		return nil, err
	}

	view := &StatusView{
		BotID:     bot.ID,
		Name:      bot.Name,
		Status:    bot.Status,
		QRCode:    bot.QRCode.String,
		Connected: m.registry.Get(botID) != nil,
		Groups:    bot.Groups,
	}
	if bot.LastConnectionAttempt.Valid {
		t := bot.LastConnectionAttempt.Time
		view.LastConnectionAttempt = &t
	}
	if view.Groups == nil {
		view.Groups = []database.GroupRecord{}
	}

	return view, nil
}

// IsConnected reports whether botID has a live session.
func (m *Manager) IsConnected(botID string) bool {
	return m.registry.Get(botID) != nil
}

// ActiveSessions returns the number of live sessions.
func (m *Manager) ActiveSessions() int {
	return m.registry.Len()
}

// Shutdown cancels pending reconnects and closes every connection without
// logging out, so the bots are restored on the next start.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	for botID, cancel := range m.pending {
		cancel()
		delete(m.pending, botID)
	}
	m.mu.Unlock()

	m.cancel()

	sessions := m.registry.Drain()
	for _, s := range sessions {
		s.retire()
	}

	m.logger.InfoContext(ctx, "Session manager stopped", "closed_sessions", len(sessions))
}

// begin starts a new epoch for botID and cancels its pending reconnect.
func (m *Manager) begin(botID string) uint64 {
	m.mu.Lock()
	m.epochs[botID]++
	epoch := m.epochs[botID]
	cancel := m.pending[botID]
	delete(m.pending, botID)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return epoch
}

func (m *Manager) current(botID string, epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epochs[botID] == epoch
}

// connect runs one connection attempt under epoch.
func (m *Manager) connect(ctx context.Context, botID, phoneNumber string, epoch uint64) (*Session, error) {
	bot, err := m.store.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	if bot == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("bot %s not found", botID))
	}

	state, err := m.vault.LoadState(ctx, botID)
	if err != nil {
		return nil, err
	}

	sess := newSession(botID, phoneNumber, epoch, state)
	conn, err := m.dialer.Dial(ctx, transport.Options{
		BotID:          botID,
		Auth:           state.Auth(),
		ConnectTimeout: m.cfg.Connect.ConnectTimeout,
		QueryTimeout:   m.cfg.Connect.QueryTimeout,
		QRTimeout:      m.cfg.Connect.QRTimeout,
		KeepAlive:      m.cfg.Connect.KeepAlive,
		Browser:        m.cfg.Connect.Browser,
		Handlers:       m.handlers(sess, bot.Name),
	})
	if err != nil {
		sess.retire()
		sess.markReady()
		return nil, err
	}
	sess.Conn = conn

	if err := m.register(sess); err != nil {
		return nil, err
	}

	if phoneNumber != "" && !state.Registered() {
		code, err := conn.RequestPairingCode(ctx, phoneNumber)
		if err != nil {
			m.drop(sess)
			return nil, apperrors.NewTransportError("failed to request pairing code", err)
		}

		m.logger.InfoContext(ctx, "Pairing code issued", "bot_id", botID)
		m.publisher.PairingCode(ctx, botID, code)

		unlock := m.locks.Lock(botID)
		if m.live(sess) {
			m.persistStatus(ctx, botID, database.StatusUpdate{Status: database.StatusAwaitingQRScan})
		}
		unlock()
	}

	return sess, nil
}

// register makes sess the live session of its bot unless a newer request
// came in while it was dialling.
func (m *Manager) register(sess *Session) error {
	unlock := m.locks.Lock(sess.BotID)
	defer unlock()
	defer sess.markReady()

	if !m.current(sess.BotID, sess.epoch) {
		sess.retire()
		return apperrors.NewConflictError(fmt.Sprintf("connection attempt for bot %s was superseded", sess.BotID))
	}

	if prev := m.registry.Put(sess); prev != nil {
		prev.retire()
	}
	return nil
}

// drop retires sess and removes it from the registry if it is still there.
func (m *Manager) drop(sess *Session) {
	unlock := m.locks.Lock(sess.BotID)
	defer unlock()

	m.registry.CompareAndRemove(sess)
	sess.retire()
}

// live reports whether sess is still the session of the latest epoch. The bot
// lock must be held.
func (m *Manager) live(sess *Session) bool {
	return !sess.Retired() && m.current(sess.BotID, sess.epoch) && m.registry.Get(sess.BotID) == sess
}

// fail marks a bot ERROR after a caller-initiated attempt failed, unless a
// newer request has taken over.
func (m *Manager) fail(ctx context.Context, botID string, epoch uint64, cause error) {
	m.logger.ErrorContext(ctx, "Failed to start bot session", "bot_id", botID, "error", cause)

	unlock := m.locks.Lock(botID)
	defer unlock()

	if !m.current(botID, epoch) {
		return
	}
	m.persistStatus(context.WithoutCancel(ctx), botID, database.StatusUpdate{
		Status:       database.StatusError,
		TouchAttempt: true,
	})
}

// persistStatus stores and publishes a status change. Failures are logged.
// The bot lock must be held.
func (m *Manager) persistStatus(ctx context.Context, botID string, update database.StatusUpdate) bool {
	if err := m.store.UpdateBotStatus(ctx, botID, update); err != nil {
		m.logger.WarnContext(ctx, "Failed to persist bot status",
			"bot_id", botID,
			"status", update.Status,
			"error", err)
		return false
	}

	m.publisher.Status(ctx, botID, update.Status)
	return true
}

type nopPublisher struct{}

func (nopPublisher) PairingCode(context.Context, string, string)        {}
func (nopPublisher) QRCode(context.Context, string, string)             {}
func (nopPublisher) Status(context.Context, string, database.BotStatus) {}
func (nopPublisher) BotCreated(context.Context, *database.BotRecord)    {}
