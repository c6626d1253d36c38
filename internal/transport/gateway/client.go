package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apperrors "github.com/edgard/hyperbot/internal/errors"
	"github.com/edgard/hyperbot/internal/transport"
)

const (
	defaultQueryTimeout = 60 * time.Second
	writeTimeout        = 10 * time.Second

	// Gateways close the socket with 4000 + the disconnect reason.
	closeCodeReasonBase = 4000
)

// Dialer opens gateway sessions.
type Dialer struct {
	baseURL string
	ws      *websocket.Dialer
	logger  *slog.Logger
}

// NewDialer creates a Dialer for the gateway at baseURL (ws:// or wss://).
func NewDialer(baseURL string, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dialer{
		baseURL: baseURL,
		ws:      &websocket.Dialer{Proxy: websocket.DefaultDialer.Proxy},
		logger:  logger.With("component", "gateway"),
	}
}

// Dial opens the bot's session socket and sends the hello frame carrying its credentials.
func (d *Dialer) Dial(ctx context.Context, opts transport.Options) (transport.Conn, error) {
	if opts.BotID == "" {
		return nil, apperrors.NewValidationError("bot id is required to dial", nil)
	}

	target, err := url.JoinPath(d.baseURL, "sessions", opts.BotID)
	if err != nil {
		return nil, apperrors.NewConfigError("invalid gateway url", err)
	}

	dialCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	ws, _, err := d.ws.DialContext(dialCtx, target, nil)
	if err != nil {
		d.logger.WarnContext(ctx, "Failed to dial gateway", "bot_id", opts.BotID, "error", err)
		return nil, apperrors.NewTransportError("failed to connect to gateway", err)
	}

	c := newConn(ws, opts, d.logger.With("bot_id", opts.BotID))

	hello, err := json.Marshal(helloPayload{
		Creds:            opts.Auth.Creds,
		Browser:          opts.Browser,
		ConnectTimeoutMs: opts.ConnectTimeout.Milliseconds(),
		QRTimeoutMs:      opts.QRTimeout.Milliseconds(),
		KeepAliveMs:      opts.KeepAlive.Milliseconds(),
	})
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("failed to encode hello: %w", err)
	}
	if err := c.writeFrame(Frame{Type: FrameHello, Payload: hello}); err != nil {
		_ = ws.Close()
		return nil, apperrors.NewTransportError("failed to send hello", err)
	}

	go c.events.run()
	go c.keys.run()
	go c.readLoop()
	if opts.KeepAlive > 0 {
		go c.pingLoop(opts.KeepAlive)
	}

	d.logger.DebugContext(ctx, "Gateway session opened", "bot_id", opts.BotID)
	return c, nil
}

// conn is a single gateway session.
type conn struct {
	ws     *websocket.Conn
	opts   transport.Options
	logger *slog.Logger
	events *eventQueue
	// keys serves key store frames apart from events, so a callback waiting
	// on a send never holds up the key lookups that send depends on.
	keys *eventQueue

	writeMu sync.Mutex

	mu           sync.Mutex
	pending      map[string]chan Frame
	self         transport.Contact
	localClose   bool
	remoteClosed bool

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, opts transport.Options, logger *slog.Logger) *conn {
	c := &conn{
		ws:      ws,
		opts:    opts,
		logger:  logger,
		events:  newEventQueue(logger),
		keys:    newEventQueue(logger),
		pending: make(map[string]chan Frame),
		done:    make(chan struct{}),
	}
	if opts.Auth.Creds != nil && opts.Auth.Creds.Me != nil {
		c.self = *opts.Auth.Creds.Me
	}
	return c
}

func (c *conn) writeFrame(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(f)
}

func (c *conn) readLoop() {
	defer c.events.close()
	defer c.keys.close()
	defer c.shutdown()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			quiet := c.localClose || c.remoteClosed
			c.mu.Unlock()

			if !quiet {
				reason := transport.ReasonConnectionLost
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) && closeErr.Code >= closeCodeReasonBase {
					reason = transport.DisconnectReason(closeErr.Code - closeCodeReasonBase)
				}
				c.logger.Warn("Gateway connection lost", "reason", reason, "error", err)
				update := transport.ConnectionUpdate{
					State:  transport.StateClose,
					Reason: reason,
					Err:    apperrors.NewTransportError("gateway connection lost", err),
				}
				c.events.push(func() { c.emitConnection(update) })
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("Discarding malformed gateway frame", "error", err)
			continue
		}
		c.handleFrame(f)
	}
}

func (c *conn) handleFrame(f Frame) {
	switch f.Type {
	case FrameResult:
		c.mu.Lock()
		ch := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if ch != nil {
			ch <- f
		}

	case FrameConnectionUpdate:
		var p connectionPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.logger.Warn("Invalid connection update", "error", err)
			return
		}
		update := transport.ConnectionUpdate{
			State:      transport.ConnectionState(p.State),
			QR:         p.QR,
			Reason:     transport.DisconnectReason(p.Reason),
			IsNewLogin: p.IsNewLogin,
		}
		if p.Error != "" {
			update.Err = apperrors.NewTransportError(p.Error, nil)
		}
		if update.State == transport.StateClose {
			c.mu.Lock()
			c.remoteClosed = true
			c.mu.Unlock()
		}
		c.events.push(func() { c.emitConnection(update) })

	case FrameCredsUpdate:
		var creds transport.Creds
		if err := json.Unmarshal(f.Payload, &creds); err != nil {
			c.logger.Warn("Invalid creds update", "error", err)
			return
		}
		if creds.Me != nil {
			c.mu.Lock()
			c.self = *creds.Me
			c.mu.Unlock()
		}
		if fn := c.opts.Handlers.OnCredsUpdate; fn != nil {
			c.events.push(func() { fn(&creds) })
		}

	case FrameMessagesUpsert:
		var upsert transport.MessagesUpsert
		if err := json.Unmarshal(f.Payload, &upsert); err != nil {
			c.logger.Warn("Invalid messages upsert", "error", err)
			return
		}
		if fn := c.opts.Handlers.OnMessages; fn != nil {
			c.events.push(func() { fn(upsert) })
		}

	case FrameKeysGet, FrameKeysSet:
		if c.opts.Auth.Keys == nil {
			c.reply(f.ID, nil, errors.New("no key store configured"))
			return
		}
		c.handleKeys(f)

	default:
		c.logger.Debug("Ignoring unknown gateway frame", "type", f.Type)
	}
}

func (c *conn) handleKeys(f Frame) {
	switch f.Type {
	case FrameKeysGet:
		var p keysGetPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.reply(f.ID, nil, err)
			return
		}
		c.keys.push(func() {
			data, err := c.opts.Auth.Keys.Get(context.Background(), p.Category, p.IDs)
			c.reply(f.ID, keysGetResult{Data: data}, err)
		})

	case FrameKeysSet:
		var p keysSetPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.reply(f.ID, nil, err)
			return
		}
		c.keys.push(func() {
			c.reply(f.ID, nil, c.opts.Auth.Keys.Set(context.Background(), p.Data))
		})
	}
}

func (c *conn) emitConnection(update transport.ConnectionUpdate) {
	if fn := c.opts.Handlers.OnConnectionUpdate; fn != nil {
		fn(update)
	}
}

func (c *conn) reply(id string, payload any, err error) {
	f := Frame{Type: FrameResult, ID: id}
	if err != nil {
		f.Error = err.Error()
	} else if payload != nil {
		body, mErr := json.Marshal(payload)
		if mErr != nil {
			f.Error = mErr.Error()
		} else {
			f.Payload = body
		}
	}
	if wErr := c.writeFrame(f); wErr != nil {
		c.logger.Warn("Failed to answer gateway request", "id", id, "error", wErr)
	}
}

// request sends a frame and waits for the matching result.
func (c *conn) request(ctx context.Context, typ string, payload, out any) error {
	var body json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", typ, err)
		}
		body = b
	}

	id := uuid.NewString()
	ch := make(chan Frame, 1)

	select {
	case <-c.done:
		return apperrors.NewTransportError("connection closed", nil)
	default:
	}

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.writeFrame(Frame{Type: typ, ID: id, Payload: body}); err != nil {
		return apperrors.NewTransportError(fmt.Sprintf("failed to send %s request", typ), err)
	}

	timeout := c.opts.QueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-ch:
		if f.Error != "" {
			return apperrors.NewTransportError(fmt.Sprintf("%s failed", typ), errors.New(f.Error))
		}
		if out != nil && len(f.Payload) > 0 {
			if err := json.Unmarshal(f.Payload, out); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", typ, err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return apperrors.NewTransportError("connection closed", nil)
	case <-timer.C:
		return apperrors.NewTransportError(fmt.Sprintf("%s timed out", typ), nil)
	}
}

func (c *conn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.logger.Debug("Keep-alive ping failed", "error", err)
				return
			}
		}
	}
}

func (c *conn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *conn) Self() transport.Contact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *conn) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	var res pairingCodeResult
	if err := c.request(ctx, FramePairingCode, pairingCodeRequest{PhoneNumber: phoneNumber}, &res); err != nil {
		return "", err
	}
	return res.Code, nil
}

func (c *conn) SendMessage(ctx context.Context, jid string, msg transport.OutgoingMessage) (transport.MessageKey, error) {
	var res sendResult
	if err := c.request(ctx, FrameSend, sendRequest{JID: jid, Message: msg}, &res); err != nil {
		return transport.MessageKey{}, err
	}
	return res.Key, nil
}

func (c *conn) DeleteMessage(ctx context.Context, jid string, key transport.MessageKey) error {
	return c.request(ctx, FrameDelete, deleteRequest{JID: jid, Key: key}, nil)
}

func (c *conn) GroupMetadata(ctx context.Context, jid string) (*transport.GroupMetadata, error) {
	var meta transport.GroupMetadata
	if err := c.request(ctx, FrameGroupMetadata, groupRequest{JID: jid}, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *conn) UpdateParticipants(ctx context.Context, jid string, participants []string, action transport.ParticipantAction) error {
	return c.request(ctx, FrameGroupParticipants, groupRequest{JID: jid, Participants: participants, Action: action}, nil)
}

func (c *conn) UpdateGroupSetting(ctx context.Context, jid string, setting transport.GroupSetting) error {
	return c.request(ctx, FrameGroupSetting, groupRequest{JID: jid, Setting: setting}, nil)
}

// Logout unlinks the account and closes the socket. The socket is closed even
// if the gateway rejects the logout.
func (c *conn) Logout(ctx context.Context) error {
	err := c.request(ctx, FrameLogout, nil, nil)
	if closeErr := c.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close closes the socket without reporting a close update to the handlers.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.localClose {
		c.mu.Unlock()
		return nil
	}
	c.localClose = true
	c.mu.Unlock()

	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
	err := c.ws.Close()
	c.shutdown()
	return err
}
