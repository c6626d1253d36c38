package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/edgard/hyperbot/internal/database"
	"github.com/edgard/hyperbot/internal/transport"
	"github.com/edgard/hyperbot/internal/vault"
)

type fakeConn struct {
	mu          sync.Mutex
	self        transport.Contact
	pairingCode string
	pairingErr  error
	sent        []sentMessage
	closed      bool
	loggedOut   bool
}

type sentMessage struct {
	JID string
	Msg transport.OutgoingMessage
}

func (c *fakeConn) Self() transport.Contact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *fakeConn) RequestPairingCode(context.Context, string) (string, error) {
	return c.pairingCode, c.pairingErr
}

func (c *fakeConn) SendMessage(_ context.Context, jid string, msg transport.OutgoingMessage) (transport.MessageKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMessage{JID: jid, Msg: msg})
	return transport.MessageKey{RemoteJID: jid, FromMe: true, ID: "sent"}, nil
}

func (c *fakeConn) DeleteMessage(context.Context, string, transport.MessageKey) error { return nil }

func (c *fakeConn) GroupMetadata(context.Context, string) (*transport.GroupMetadata, error) {
	return &transport.GroupMetadata{}, nil
}

func (c *fakeConn) UpdateParticipants(context.Context, string, []string, transport.ParticipantAction) error {
	return nil
}

func (c *fakeConn) UpdateGroupSetting(context.Context, string, transport.GroupSetting) error {
	return nil
}

func (c *fakeConn) Logout(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	c.closed = true
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) messages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

type dialed struct {
	opts transport.Options
	conn *fakeConn
}

type fakeDialer struct {
	mu      sync.Mutex
	dials   []dialed
	failFor map[string]error
	newConn func() *fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, opts transport.Options) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failFor[opts.BotID]; err != nil {
		return nil, err
	}
	conn := &fakeConn{self: transport.Contact{ID: "15550001111:3@s.whatsapp.net"}}
	if d.newConn != nil {
		conn = d.newConn()
	}
	d.dials = append(d.dials, dialed{opts: opts, conn: conn})
	return conn, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) last(t *testing.T) dialed {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.dials) == 0 {
		t.Fatal("no connection was dialled")
	}
	return d.dials[len(d.dials)-1]
}

func (d *fakeDialer) setFailure(botID string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failFor == nil {
		d.failFor = make(map[string]error)
	}
	d.failFor[botID] = err
}

type job struct {
	name      string
	delay     time.Duration
	fn        func(ctx context.Context)
	cancelled bool
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs []*job
}

func (s *fakeScheduler) After(name string, delay time.Duration, fn func(ctx context.Context)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &job{name: name, delay: delay, fn: fn}
	s.jobs = append(s.jobs, j)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		j.cancelled = true
	}, nil
}

func (s *fakeScheduler) all() []*job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*job(nil), s.jobs...)
}

func (s *fakeScheduler) isCancelled(j *job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return j.cancelled
}

type published struct {
	kind  string
	botID string
	value string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) add(kind, botID, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{kind: kind, botID: botID, value: value})
}

func (p *recordingPublisher) PairingCode(_ context.Context, botID, code string) {
	p.add("pairing_code", botID, code)
}

func (p *recordingPublisher) QRCode(_ context.Context, botID, qr string) {
	p.add("qr", botID, qr)
}

func (p *recordingPublisher) Status(_ context.Context, botID string, status database.BotStatus) {
	p.add("status", botID, status.Event())
}

func (p *recordingPublisher) BotCreated(_ context.Context, bot *database.BotRecord) {
	p.add("bot_created", bot.ID, bot.TenantID)
}

func (p *recordingPublisher) has(kind, value string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.kind == kind && e.value == value {
			return true
		}
	}
	return false
}

type recordingHandler struct {
	mu      sync.Mutex
	batches []transport.MessagesUpsert
	bots    []*database.BotWithGroups
}

func (h *recordingHandler) HandleMessages(_ context.Context, _ transport.Conn, batch transport.MessagesUpsert, bot *database.BotWithGroups) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, batch)
	h.bots = append(h.bots, bot)
}

type testEnv struct {
	store     database.Store
	vault     *vault.Vault
	dialer    *fakeDialer
	scheduler *fakeScheduler
	publisher *recordingPublisher
	handler   *recordingHandler
	manager   *Manager
}

func newTestEnv(t *testing.T, policy Policy) *testEnv {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })
	store := database.NewStore(db, nil)

	v, err := vault.New("session-test-master-secret", "salt", store, nil)
	if err != nil {
		t.Fatalf("vault.New() error = %v", err)
	}

	env := &testEnv{
		store:     store,
		vault:     v,
		dialer:    &fakeDialer{},
		scheduler: &fakeScheduler{},
		publisher: &recordingPublisher{},
		handler:   &recordingHandler{},
	}

	m, err := NewManager(Config{
		Policy:           policy,
		Connect:          ConnectOptions{QueryTimeout: time.Second, Browser: []string{"Hyper Bot", "Chrome", "1.0.0"}},
		ConnectedMessage: "%s is connected!",
	}, Deps{
		Store:     store,
		Vault:     v,
		Dialer:    env.dialer,
		Scheduler: env.scheduler,
		Publisher: env.publisher,
		Handler:   env.handler,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	env.manager = m

	return env
}

func (e *testEnv) createBot(t *testing.T, id string) {
	t.Helper()
	bot := &database.BotRecord{ID: id, TenantID: "tenant-a", Name: "Bot " + id}
	if err := e.store.CreateBot(context.Background(), bot); err != nil {
		t.Fatalf("CreateBot() error = %v", err)
	}
}

func (e *testEnv) status(t *testing.T, id string) *database.BotRecord {
	t.Helper()
	bot, err := e.store.GetBot(context.Background(), id)
	if err != nil || bot == nil {
		t.Fatalf("GetBot(%s) = %v, %v", id, bot, err)
	}
	return bot
}

var errDial = errors.New("gateway unreachable")

var testPolicy = Policy{MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second}
