package session

import (
	"context"
	"testing"
	"time"

	"github.com/edgard/hyperbot/internal/database"
	apperrors "github.com/edgard/hyperbot/internal/errors"
	"github.com/edgard/hyperbot/internal/transport"
)

func TestPolicy_NextDelay(t *testing.T) {
	t.Parallel()

	p := Policy{MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second}
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 10 * time.Second},
		{10, 10 * time.Second},
		{200, 10 * time.Second},
		{-1, 2 * time.Second},
	}
	for _, tt := range tests {
		if got := p.NextDelay(tt.retryCount); got != tt.want {
			t.Errorf("NextDelay(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}

	prev := time.Duration(0)
	for i := 0; i < 64; i++ {
		d := p.NextDelay(i)
		if d < prev {
			t.Fatalf("NextDelay(%d) = %v decreased from %v", i, d, prev)
		}
		if d > p.MaxDelay {
			t.Fatalf("NextDelay(%d) = %v exceeds max %v", i, d, p.MaxDelay)
		}
		prev = d
	}
}

func TestPolicy_ShouldRetry(t *testing.T) {
	t.Parallel()

	p := Policy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Second}
	tests := []struct {
		name   string
		reason transport.DisconnectReason
		count  int
		want   bool
	}{
		{"connection lost, first failure", transport.ReasonConnectionLost, 0, true},
		{"restart required below max", transport.ReasonRestartRequired, 2, true},
		{"exhausted", transport.ReasonConnectionLost, 3, false},
		{"beyond max", transport.ReasonUnknown, 7, false},
		{"logout on first failure", transport.ReasonLoggedOut, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := p.ShouldRetry(tt.reason, tt.count); got != tt.want {
				t.Errorf("ShouldRetry(%v, %d) = %v, want %v", tt.reason, tt.count, got, tt.want)
			}
		})
	}
}

func TestCounters(t *testing.T) {
	t.Parallel()

	c := NewCounters()
	if got := c.Increment("a"); got != 1 {
		t.Errorf("Increment() = %d, want 1", got)
	}
	c.Increment("a")
	c.Increment("b")
	if got := c.Get("a"); got != 2 {
		t.Errorf("Get(a) = %d, want 2", got)
	}
	c.Reset("a")
	if got := c.Get("a"); got != 0 {
		t.Errorf("Get(a) after Reset = %d, want 0", got)
	}
	if got := c.Get("b"); got != 1 {
		t.Errorf("Get(b) = %d, want 1", got)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	first := newSession("bot-1", "", 1, nil)
	second := newSession("bot-1", "", 2, nil)

	if prev := r.Put(first); prev != nil {
		t.Errorf("Put(first) replaced %v, want nil", prev)
	}
	if prev := r.Put(second); prev != first {
		t.Errorf("Put(second) replaced %v, want first", prev)
	}
	if got := r.Get("bot-1"); got != second {
		t.Errorf("Get() = %v, want second", got)
	}
	if r.CompareAndRemove(first) {
		t.Error("CompareAndRemove(first) removed the newer session")
	}
	if !r.CompareAndRemove(second) {
		t.Error("CompareAndRemove(second) = false, want true")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
	if r.Remove("bot-1") != nil {
		t.Error("Remove() on empty registry returned a session")
	}
}

func TestNewManager_RequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := NewManager(Config{}, Deps{})
	if !apperrors.IsConfig(err) {
		t.Errorf("NewManager() error = %v, want config error", err)
	}
}

func TestCreateBotInstance_QRFlow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testPolicy)
	ctx := context.Background()
	env.createBot(t, "bot-1")

	conn, err := env.manager.CreateBotInstance(ctx, "bot-1", "")
	if err != nil {
		t.Fatalf("CreateBotInstance() error = %v", err)
	}
	d := env.dialer.last(t)
	if d.conn != conn {
		t.Fatal("CreateBotInstance() returned a different connection than the one dialled")
	}
	if d.opts.BotID != "bot-1" || d.opts.Auth.Creds == nil || d.opts.Auth.Keys == nil {
		t.Fatalf("Dial options = %+v, want bot id and auth state", d.opts)
	}
	if !env.manager.IsConnected("bot-1") {
		t.Error("IsConnected() = false after CreateBotInstance")
	}

	h := d.opts.Handlers
	h.OnConnectionUpdate(transport.ConnectionUpdate{State: transport.StateConnecting})
	h.OnConnectionUpdate(transport.ConnectionUpdate{QR: "qr-payload"})

	bot := env.status(t, "bot-1")
	if bot.Status != database.StatusAwaitingQRScan || bot.QRCode.String != "qr-payload" {
		t.Errorf("after QR: status = %s, qr = %v", bot.Status, bot.QRCode)
	}
	if !env.publisher.has("qr", "qr-payload") {
		t.Error("QR code was not published")
	}
	if !env.publisher.has("status", "connecting") {
		t.Error("connecting status was not published")
	}

	h.OnConnectionUpdate(transport.ConnectionUpdate{State: transport.StateOpen})

	bot = env.status(t, "bot-1")
	if bot.Status != database.StatusConnected {
		t.Errorf("after open: status = %s, want CONNECTED", bot.Status)
	}
	if bot.QRCode.Valid {
		t.Errorf("after open: qr = %v, want cleared", bot.QRCode)
	}
	if !env.publisher.has("status", "connected") {
		t.Error("connected status was not published")
	}

	sent := d.conn.messages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want the connected greeting", len(sent))
	}
	if sent[0].JID != "15550001111@s.whatsapp.net" || sent[0].Msg.Text != "Bot bot-1 is connected!" {
		t.Errorf("greeting = %+v", sent[0])
	}
}

func TestCreateBotInstance_PairingCode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testPolicy)
	env.dialer.newConn = func() *fakeConn { return &fakeConn{pairingCode: "ABCD-1234"} }
	ctx := context.Background()
	env.createBot(t, "bot-1")

	if _, err := env.manager.CreateBotInstance(ctx, "bot-1", "+15550001111"); err != nil {
		t.Fatalf("CreateBotInstance() error = %v", err)
	}

	if !env.publisher.has("pairing_code", "ABCD-1234") {
		t.Error("pairing code was not published")
	}
	if got := env.status(t, "bot-1").Status; got != database.StatusAwaitingQRScan {
		t.Errorf("status = %s, want AWAITING_QR_SCAN", got)
	}

	// A QR payload is ignored while pairing by phone number.
	env.dialer.last(t).opts.Handlers.OnConnectionUpdate(transport.ConnectionUpdate{QR: "qr"})
	if env.publisher.has("qr", "qr") {
		t.Error("QR code published for a phone pairing session")
	}
}

func TestCreateBotInstance_Failures(t *testing.T) {
	t.Parallel()

	t.Run("unknown bot", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, testPolicy)

		_, err := env.manager.CreateBotInstance(context.Background(), "missing", "")
		if !apperrors.IsNotFound(err) {
			t.Errorf("error = %v, want not found", err)
		}
		if env.dialer.count() != 0 {
			t.Error("dialled a connection for an unknown bot")
		}
	})

	t.Run("dial failure marks error", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, testPolicy)
		env.createBot(t, "bot-1")
		env.dialer.setFailure("bot-1", apperrors.NewTransportError("dial", errDial))

		_, err := env.manager.CreateBotInstance(context.Background(), "bot-1", "")
		if !apperrors.IsTransport(err) {
			t.Errorf("error = %v, want transport error", err)
		}
		if got := env.status(t, "bot-1").Status; got != database.StatusError {
			t.Errorf("status = %s, want ERROR", got)
		}
		if len(env.scheduler.all()) != 0 {
			t.Error("a failed caller-initiated attempt scheduled a reconnect")
		}
	})

	t.Run("pairing failure marks error", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, testPolicy)
		env.dialer.newConn = func() *fakeConn { return &fakeConn{pairingErr: errDial} }
		env.createBot(t, "bot-1")

		_, err := env.manager.CreateBotInstance(context.Background(), "bot-1", "15550001111")
		if err == nil {
			t.Fatal("CreateBotInstance() error = nil, want pairing failure")
		}
		if got := env.status(t, "bot-1").Status; got != database.StatusError {
			t.Errorf("status = %s, want ERROR", got)
		}
		if env.manager.IsConnected("bot-1") {
			t.Error("session kept after pairing failure")
		}
		if !env.dialer.last(t).conn.isClosed() {
			t.Error("connection left open after pairing failure")
		}
	})
}

func TestCreateBotInstance_LeavesTerminalStatus(t *testing.T) {
	t.Parallel()

	for _, start := range []database.BotStatus{database.StatusDisconnected, database.StatusError} {
		t.Run(start.String(), func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, testPolicy)
			ctx := context.Background()
			env.createBot(t, "bot-1")
			if err := env.store.UpdateBotStatus(ctx, "bot-1", database.StatusUpdate{Status: start}); err != nil {
				t.Fatalf("UpdateBotStatus() error = %v", err)
			}

			if _, err := env.manager.CreateBotInstance(ctx, "bot-1", ""); err != nil {
				t.Fatalf("CreateBotInstance() error = %v", err)
			}
			if got := env.status(t, "bot-1").Status; got != database.StatusConnecting {
				t.Errorf("status after caller connect = %s, want CONNECTING", got)
			}

			env.dialer.last(t).opts.Handlers.OnConnectionUpdate(transport.ConnectionUpdate{
				State:  transport.StateClose,
				Reason: transport.ReasonConnectionLost,
			})
			if got := env.status(t, "bot-1").Status; got != database.StatusReconnecting {
				t.Errorf("status after drop = %s, want RECONNECTING", got)
			}
			if n := len(env.scheduler.all()); n != 1 {
				t.Errorf("%d reconnects scheduled, want 1", n)
			}
		})
	}
}

func TestReconnect_BackoffUntilExhausted(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testPolicy)
	ctx := context.Background()
	env.createBot(t, "bot-1")

	if _, err := env.manager.CreateBotInstance(ctx, "bot-1", ""); err != nil {
		t.Fatalf("CreateBotInstance() error = %v", err)
	}

	wantDelays := []time.Duration{4 * time.Second, 8 * time.Second, 10 * time.Second}
	for i, want := range wantDelays {
		d := env.dialer.last(t)
		d.opts.Handlers.OnConnectionUpdate(transport.ConnectionUpdate{
			State:  transport.StateClose,
			Reason: transport.ReasonConnectionLost,
		})
		if !d.conn.isClosed() {
			t.Errorf("attempt %d: closed connection not released", i+1)
		}
		if got := env.status(t, "bot-1").Status; got != database.StatusReconnecting {
			t.Fatalf("attempt %d: status = %s, want RECONNECTING", i+1, got)
		}

		jobs := env.scheduler.all()
		if len(jobs) != i+1 {
			t.Fatalf("attempt %d: %d jobs scheduled, want %d", i+1, len(jobs), i+1)
		}
		j := jobs[i]
		if j.delay != want {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, j.delay, want)
		}
		j.fn(ctx)
		if env.dialer.count() != i+2 {
			t.Fatalf("attempt %d: dial count = %d, want %d", i+1, env.dialer.count(), i+2)
		}
	}

	env.dialer.last(t).opts.Handlers.OnConnectionUpdate(transport.ConnectionUpdate{
		State:  transport.StateClose,
		Reason: transport.ReasonConnectionLost,
	})
	if got := env.status(t, "bot-1").Status; got != database.StatusError {
		t.Errorf("status after exhaustion = %s, want ERROR", got)
	}
	if n := len(env.scheduler.all()); n != len(wantDelays) {
		t.Errorf("%d jobs after exhaustion, want %d", n, len(wantDelays))
	}
}

func TestReconnect_OpenResetsCounter(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testPolicy)
	ctx := context.Background()
	env.createBot(t, "bot-1")

	if _, err := env.manager.CreateBotInstance(ctx, "bot-1", ""); err != nil {
		t.Fatalf("CreateBotInstance() error = %v", err)
	}
	closeUpdate := transport.ConnectionUpdate{State: transport.StateClose, Reason: transport.ReasonConnectionLost}

	env.dialer.last(t).opts.Handlers.OnConnectionUpdate(closeUpdate)
	env.scheduler.all()[0].fn(ctx)
	env.dialer.last(t).opts.Handlers.OnConnectionUpdate(transport.ConnectionUpdate{State: transport.StateOpen})
	env.dialer.last(t).opts.Handlers.OnConnectionUpdate(closeUpdate)

	jobs := env.scheduler.all()
	if len(jobs) != 2 {
		t.Fatalf("%d jobs scheduled, want 2", len(jobs))
	}
	if jobs[1].delay != 4*time.Second {
		t.Errorf("delay after a successful open = %v, want %v", jobs[1].delay, 4*time.Second)
	}
}

func TestReconnect_DialFailureCountsAsAttempt(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testPolicy)
	ctx := context.Background()
	env.createBot(t, "bot-1")

	if _, err := env.manager.CreateBotInstance(ctx, "bot-1", ""); err != nil {
		t.Fatalf("CreateBotInstance() error = %v", err)
	}
	env.dialer.last(t).opts.Handlers.OnConnectionUpdate(transport.ConnectionUpdate{
		State:  transport.StateClose,
		Reason: transport.ReasonConnectionLost,
	})

	env.dialer.setFailure("bot-1", apperrors.NewTransportError("dial", errDial))
	env.scheduler.all()[0].fn(ctx)

	jobs := env.scheduler.all()
	if len(jobs) != 2 {
		t.Fatalf("%d jobs scheduled, want 2", len(jobs))
	}
	if jobs[1].delay != 8*time.Second {
		t.Errorf("delay = %v, want %v", jobs[1].delay, 8*time.Second)
	}
	if got := env.status(t, "bot-1").Status; got != database.StatusReconnecting {
		t.Errorf("status = %s, want RECONNECTING", got)
	}
}

func TestReconnect_LogoutIsTerminal(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testPolicy)
	env.createBot(t, "bot-1")

	if _, err := env.manager.CreateBotInstance(context.Background(), "bot-1", ""); err != nil {
		t.Fatalf("CreateBotInstance() error = %v", err)
	}
	env.dialer.last(t).opts.Handlers.OnConnectionUpdate(transport.ConnectionUpdate{
		State:  transport.StateClose,
		Reason: transport.ReasonLoggedOut,
	})

	if got := env.status(t, "bot-1").Status; got != database.StatusError {
		t.Errorf("status = %s, want ERROR", got)
	}
	if len(env.scheduler.all()) != 0 {
		t.Error("logout scheduled a reconnect")
	}
	if env.manager.IsConnected("bot-1") {
		t.Error("session kept after logout")
	}
}

func TestDisconnectBot_SupersedesPendingReconnect(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testPolicy)
	ctx := context.Background()
	env.createBot(t, "bot-1")

	if _, err := env.manager.CreateBotInstance(ctx, "bot-1", ""); err != nil {
		t.Fatalf("CreateBotInstance() error = %v", err)
	}
	env.dialer.last(t).opts.Handlers.OnConnectionUpdate(transport.ConnectionUpdate{
		State:  transport.StateClose,
		Reason: transport.ReasonConnectionLost,
	})
	j := env.scheduler.all()[0]

	if err := env.manager.DisconnectBot(ctx, "bot-1"); err != nil {
		t.Fatalf("DisconnectBot() error = %v", err)
	}
	if !env.scheduler.isCancelled(j) {
		t.Error("pending reconnect was not cancelled")
	}

	// The job fires anyway, as if it was already running.
	j.fn(ctx)
	if env.dialer.count() != 1 {
		t.Errorf("dial count = %d, want 1", env.dialer.count())
	}
	if got := env.status(t, "bot-1").Status; got != database.StatusDisconnected {
		t.Errorf("status = %s, want DISCONNECTED", got)
	}
}

func TestDisconnectBot_LogsOutAndForgetsCredentials(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testPolicy)
	ctx := context.Background()
	env.createBot(t, "bot-1")

	if _, err := env.manager.CreateBotInstance(ctx, "bot-1", ""); err != nil {
		t.Fatalf("CreateBotInstance() error = %v", err)
	}
	d := env.dialer.last(t)
	d.opts.Handlers.OnConnectionUpdate(transport.ConnectionUpdate{QR: "qr"})

	creds := d.opts.Auth.Creds.Clone()
	creds.Registered = true
	creds.Me = &transport.Contact{ID: "15550001111@s.whatsapp.net"}
	d.opts.Handlers.OnCredsUpdate(creds)

	rec, err := env.store.GetCredentials(ctx, "bot-1")
	if err != nil || rec == nil {
		t.Fatalf("GetCredentials() = %v, %v; want stored record", rec, err)
	}

	if err := env.manager.DisconnectBot(ctx, "bot-1"); err != nil {
		t.Fatalf("DisconnectBot() error = %v", err)
	}

	if !d.conn.loggedOut {
		t.Error("connection was not logged out")
	}
	bot := env.status(t, "bot-1")
	if bot.Status != database.StatusDisconnected || bot.QRCode.Valid {
		t.Errorf("status = %s, qr = %v; want DISCONNECTED without qr", bot.Status, bot.QRCode)
	}
	if env.manager.IsConnected("bot-1") {
		t.Error("session kept after disconnect")
	}

	// Late events of the old connection change nothing.
	d.opts.Handlers.OnCredsUpdate(creds)
	d.opts.Handlers.OnConnectionUpdate(transport.ConnectionUpdate{State: transport.StateOpen})

	rec, err = env.store.GetCredentials(ctx, "bot-1")
	if err != nil || rec != nil {
		t.Errorf("GetCredentials() after disconnect = %v, %v; want nil", rec, err)
	}
	if got := env.status(t, "bot-1").Status; got != database.StatusDisconnected {
		t.Errorf("status after late open = %s, want DISCONNECTED", got)
	}
}

func TestDisconnectBot_UnknownBot(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testPolicy)

	err := env.manager.DisconnectBot(context.Background(), "missing")
	if !apperrors.IsNotFound(err) {
		t.Errorf("DisconnectBot() error = %v, want not found", err)
	}
}

func TestCreateBotInstance_ReplacesLiveSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testPolicy)
	ctx := context.Background()
	env.createBot(t, "bot-1")

	if _, err := env.manager.CreateBotInstance(ctx, "bot-1", ""); err != nil {
		t.Fatalf("first CreateBotInstance() error = %v", err)
	}
	first := env.dialer.last(t)

	if _, err := env.manager.CreateBotInstance(ctx, "bot-1", ""); err != nil {
		t.Fatalf("second CreateBotInstance() error = %v", err)
	}
	second := env.dialer.last(t)

	if !first.conn.isClosed() {
		t.Error("replaced connection left open")
	}
	if second.conn.isClosed() {
		t.Error("new connection closed")
	}

	first.opts.Handlers.OnConnectionUpdate(transport.ConnectionUpdate{
		State:  transport.StateClose,
		Reason: transport.ReasonConnectionLost,
	})
	if len(env.scheduler.all()) != 0 {
		t.Error("close of a replaced connection scheduled a reconnect")
	}
	if !env.manager.IsConnected("bot-1") {
		t.Error("close of a replaced connection removed the live session")
	}
}

func TestRestoreActiveBots(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testPolicy)
	ctx := context.Background()

	for _, id := range []string{"connected", "initializing", "disconnected", "broken"} {
		env.createBot(t, id)
	}
	for id, status := range map[string]database.BotStatus{
		"connected":    database.StatusConnected,
		"disconnected": database.StatusDisconnected,
		"broken":       database.StatusConnected,
	} {
		if err := env.store.UpdateBotStatus(ctx, id, database.StatusUpdate{Status: status}); err != nil {
			t.Fatalf("UpdateBotStatus(%s) error = %v", id, err)
		}
	}
	env.dialer.setFailure("broken", apperrors.NewTransportError("dial", errDial))

	if err := env.manager.RestoreActiveBots(ctx); err != nil {
		t.Fatalf("RestoreActiveBots() error = %v", err)
	}

	if got := env.manager.ActiveSessions(); got != 2 {
		t.Errorf("ActiveSessions() = %d, want 2", got)
	}
	for _, id := range []string{"connected", "initializing"} {
		if !env.manager.IsConnected(id) {
			t.Errorf("%s was not restored", id)
		}
	}
	if env.manager.IsConnected("disconnected") {
		t.Error("disconnected bot was restored")
	}
	if got := env.status(t, "broken").Status; got != database.StatusError {
		t.Errorf("broken bot status = %s, want ERROR", got)
	}
}

func TestGetBotStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testPolicy)
	ctx := context.Background()

	view, err := env.manager.GetBotStatus(ctx, "missing")
	if err != nil || view != nil {
		t.Fatalf("GetBotStatus(missing) = %v, %v; want nil, nil", view, err)
	}

	env.createBot(t, "bot-1")
	if _, err := env.store.EnsureGroup(ctx, &database.GroupRecord{BotID: "bot-1", GroupID: "1203@g.us", Name: "Team"}); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}
	if _, err := env.manager.CreateBotInstance(ctx, "bot-1", ""); err != nil {
		t.Fatalf("CreateBotInstance() error = %v", err)
	}
	env.dialer.last(t).opts.Handlers.OnConnectionUpdate(transport.ConnectionUpdate{QR: "qr-1"})

	view, err = env.manager.GetBotStatus(ctx, "bot-1")
	if err != nil {
		t.Fatalf("GetBotStatus() error = %v", err)
	}
	if view.Status != database.StatusAwaitingQRScan || view.QRCode != "qr-1" || !view.Connected {
		t.Errorf("view = %+v", view)
	}
	if len(view.Groups) != 1 || view.Groups[0].GroupID != "1203@g.us" {
		t.Errorf("groups = %+v", view.Groups)
	}
}

func TestMessagesReachHandler(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testPolicy)
	ctx := context.Background()
	env.createBot(t, "bot-1")

	if _, err := env.manager.CreateBotInstance(ctx, "bot-1", ""); err != nil {
		t.Fatalf("CreateBotInstance() error = %v", err)
	}
	batch := transport.MessagesUpsert{Type: "notify", Messages: []transport.Message{{Conversation: ".help"}}}
	env.dialer.last(t).opts.Handlers.OnMessages(batch)

	env.handler.mu.Lock()
	defer env.handler.mu.Unlock()
	if len(env.handler.batches) != 1 {
		t.Fatalf("handler got %d batches, want 1", len(env.handler.batches))
	}
	if env.handler.bots[0].ID != "bot-1" {
		t.Errorf("handler got bot %s, want bot-1", env.handler.bots[0].ID)
	}
}

func TestCreateBot(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testPolicy)
	ctx := context.Background()

	bot, err := env.manager.CreateBot(ctx, "tenant-a", "Support", database.JSONMap{"lang": "en"}, "")
	if err != nil {
		t.Fatalf("CreateBot() error = %v", err)
	}
	if bot.ID == "" || bot.TenantID != "tenant-a" {
		t.Errorf("bot = %+v", bot)
	}
	if !env.publisher.has("bot_created", "tenant-a") {
		t.Error("bot creation was not broadcast")
	}
	if !env.manager.IsConnected(bot.ID) {
		t.Error("CreateBot() did not start a session")
	}
}
