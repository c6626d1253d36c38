package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/edgard/hyperbot/internal/transport"
	"github.com/edgard/hyperbot/internal/vault"
)

// Session is one live connection for a bot. A session is retired exactly once,
// either when it is replaced, when its connection closes, or on disconnect;
// events its connection emits afterwards are ignored.
type Session struct {
	BotID string
	Conn  transport.Conn

	phone   string
	epoch   uint64
	state   *vault.State
	ready     chan struct{}
	readyOnce sync.Once
	retired   atomic.Bool
}

func newSession(botID, phone string, epoch uint64, state *vault.State) *Session {
	return &Session{
		BotID: botID,
		phone: phone,
		epoch: epoch,
		state: state,
		ready: make(chan struct{}),
	}
}

// markReady releases the connection's event handlers.
func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// retire marks the session dead, stops credential persistence and closes the
// connection. It reports false when the session was already retired.
func (s *Session) retire() bool {
	if !s.retired.CompareAndSwap(false, true) {
		return false
	}

	if s.state != nil {
		s.state.Close()
	}
	if s.Conn != nil {
		_ = s.Conn.Close()
	}

	return true
}

// logout retires the session and unlinks the account from the network.
func (s *Session) logout(ctx context.Context) error {
	if !s.retired.CompareAndSwap(false, true) {
		return nil
	}

	if s.state != nil {
		s.state.Close()
	}
	if s.Conn == nil {
		return nil
	}
	if err := s.Conn.Logout(ctx); err != nil {
		_ = s.Conn.Close()
		return err
	}
	return nil
}

// Retired reports whether the session has been retired.
func (s *Session) Retired() bool {
	return s.retired.Load()
}

// Registry maps bot IDs to their live session. It holds at most one session
// per bot.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Put stores s as the live session for its bot and returns the session it
// replaced, if any.
func (r *Registry) Put(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.sessions[s.BotID]
	r.sessions[s.BotID] = s
	if prev == s {
		return nil
	}

	return prev
}

// Get returns the live session for botID or nil.
func (r *Registry) Get(botID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[botID]
}

// Remove deletes and returns the live session for botID.
func (r *Registry) Remove(botID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[botID]
	delete(r.sessions, botID)
	return s
}

// CompareAndRemove deletes the entry for s.BotID only if it still is s.
func (r *Registry) CompareAndRemove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[s.BotID] != s {
		return false
	}
	delete(r.sessions, s.BotID)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Drain removes and returns every live session.
func (r *Registry) Drain() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, s)
		delete(r.sessions, id)
	}
	return out
}
