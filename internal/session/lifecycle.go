package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/edgard/hyperbot/internal/database"
	apperrors "github.com/edgard/hyperbot/internal/errors"
	"github.com/edgard/hyperbot/internal/transport"
)

const defaultGreetingTimeout = 30 * time.Second

// handlers builds the callbacks of one connection. They are bound to sess and
// never re-registered; a reconnect dials a new connection with new handlers.
func (m *Manager) handlers(sess *Session, botName string) transport.Handlers {
	return transport.Handlers{
		OnConnectionUpdate: func(u transport.ConnectionUpdate) { m.onConnectionUpdate(sess, botName, u) },
		OnCredsUpdate:      func(c *transport.Creds) { m.onCredsUpdate(sess, c) },
		OnMessages:         func(b transport.MessagesUpsert) { m.onMessages(sess, b) },
	}
}

// await blocks until sess is registered and reports whether its events
// still matter.
func (m *Manager) await(sess *Session) bool {
	select {
	case <-sess.ready:
	case <-m.ctx.Done():
		return false
	}
	return !sess.Retired()
}

func (m *Manager) onConnectionUpdate(sess *Session, botName string, u transport.ConnectionUpdate) {
	if !m.await(sess) {
		return
	}
	ctx := m.ctx
	botID := sess.BotID

	unlock := m.locks.Lock(botID)
	if !m.live(sess) {
		unlock()
		return
	}

	if u.QR != "" && sess.phone == "" {
		m.publisher.QRCode(ctx, botID, u.QR)
		m.persistStatus(ctx, botID, database.StatusUpdate{
			Status: database.StatusAwaitingQRScan,
			QRCode: sql.NullString{String: u.QR, Valid: true},
		})
	}

	opened := false
	switch u.State {
	case transport.StateConnecting:
		m.publisher.Status(ctx, botID, database.StatusConnecting)
	case transport.StateOpen:
		m.counters.Reset(botID)
		opened = m.persistStatus(ctx, botID, database.StatusUpdate{Status: database.StatusConnected})
		m.logger.InfoContext(ctx, "Bot connected", "bot_id", botID, "new_login", u.IsNewLogin)
	case transport.StateClose:
		m.registry.CompareAndRemove(sess)
		sess.retire()
		m.decide(ctx, botID, sess.phone, sess.epoch, u.Reason, u.Err)
	}
	unlock()

	if opened {
		m.greet(sess, botName)
	}
}

// decide applies the reconnect policy to a closed connection. The bot lock
// must be held.
func (m *Manager) decide(ctx context.Context, botID, phoneNumber string, epoch uint64, reason transport.DisconnectReason, cause error) {
	if !m.current(botID, epoch) {
		return
	}

	count := m.counters.Get(botID)
	if !m.cfg.Policy.ShouldRetry(reason, count) {
		m.logger.WarnContext(ctx, "Bot connection closed for good",
			"bot_id", botID,
			"reason", reason.String(),
			"attempts", count,
			"error", cause)
		m.persistStatus(ctx, botID, database.StatusUpdate{Status: database.StatusError, TouchAttempt: true})
		return
	}

	count = m.counters.Increment(botID)
	delay := m.cfg.Policy.NextDelay(count)
	m.logger.WarnContext(ctx, "Bot disconnected, reconnecting",
		"bot_id", botID,
		"reason", reason.String(),
		"delay", delay,
		"attempt", count,
		"max_retries", m.cfg.Policy.MaxRetries)

	cancel, err := m.scheduler.After("reconnect:"+botID, delay, func(jobCtx context.Context) {
		m.retry(jobCtx, botID, phoneNumber, epoch)
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to schedule reconnect", "bot_id", botID, "error", err)
		m.persistStatus(ctx, botID, database.StatusUpdate{Status: database.StatusError, TouchAttempt: true})
		return
	}

	m.mu.Lock()
	m.pending[botID] = cancel
	m.mu.Unlock()

	m.persistStatus(ctx, botID, database.StatusUpdate{Status: database.StatusReconnecting, TouchAttempt: true})
}

// retry is the scheduled re-entry into the connection flow. A failed dial
// counts as another recoverable close.
func (m *Manager) retry(ctx context.Context, botID, phoneNumber string, epoch uint64) {
	m.mu.Lock()
	if m.epochs[botID] != epoch {
		m.mu.Unlock()
		return
	}
	delete(m.pending, botID)
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "Reconnecting bot", "bot_id", botID, "attempt", m.counters.Get(botID))

	_, err := m.connect(ctx, botID, phoneNumber, epoch)
	switch {
	case err == nil:
		return
	case apperrors.IsNotFound(err), apperrors.IsConflict(err):
		m.logger.InfoContext(ctx, "Reconnect abandoned", "bot_id", botID, "error", err)
		return
	case apperrors.IsPersistence(err):
		m.fail(ctx, botID, epoch, err)
		return
	}

	unlock := m.locks.Lock(botID)
	defer unlock()
	m.decide(m.ctx, botID, phoneNumber, epoch, transport.ReasonConnectionLost, err)
}

// greet sends the connected message to the bot's own chat. Failures are logged.
func (m *Manager) greet(sess *Session, botName string) {
	self := sess.Conn.Self()
	if self.ID == "" || m.cfg.ConnectedMessage == "" {
		return
	}

	text := m.cfg.ConnectedMessage
	if strings.Contains(text, "%s") {
		text = fmt.Sprintf(text, botName)
	}

	timeout := m.cfg.Connect.QueryTimeout
	if timeout <= 0 {
		timeout = defaultGreetingTimeout
	}
	ctx, cancel := context.WithTimeout(m.ctx, timeout)
	defer cancel()

	jid := transport.UserJID(transport.UserPart(self.ID))
	if _, err := sess.Conn.SendMessage(ctx, jid, transport.OutgoingMessage{Text: text, Mentions: []string{jid}}); err != nil {
		m.logger.WarnContext(ctx, "Failed to send connected message", "bot_id", sess.BotID, "error", err)
	}
}

func (m *Manager) onCredsUpdate(sess *Session, creds *transport.Creds) {
	if !m.await(sess) {
		return
	}
	if err := sess.state.UpdateCreds(m.ctx, creds); err != nil {
		m.logger.ErrorContext(m.ctx, "Failed to save credentials", "bot_id", sess.BotID, "error", err)
	}
}

func (m *Manager) onMessages(sess *Session, batch transport.MessagesUpsert) {
	if m.handler == nil || !m.await(sess) {
		return
	}

	bot, err := m.store.GetBotWithGroups(m.ctx, sess.BotID)
	if err != nil {
		m.logger.ErrorContext(m.ctx, "Failed to load bot for messages", "bot_id", sess.BotID, "error", err)
		return
	}
	if bot == nil {
		return
	}

	m.handler.HandleMessages(m.ctx, sess.Conn, batch, bot)
}
