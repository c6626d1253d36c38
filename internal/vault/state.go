package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/edgard/hyperbot/internal/transport"
)

// Keys is the signal key store content: category -> key id -> key bytes.
type Keys map[string]map[string][]byte

// State is the decrypted credential material of one bot. It implements
// transport.KeyStore; every key write and credential update is persisted.
type State struct {
	botID string
	vault *Vault

	mu     sync.Mutex
	creds  *transport.Creds
	keys   Keys
	closed bool
}

// LoadState decrypts the stored credentials of a bot. Missing or undecryptable
// records yield fresh, unregistered credentials.
func (v *Vault) LoadState(ctx context.Context, botID string) (*State, error) {
	record, err := v.store.GetCredentials(ctx, botID)
	if err != nil {
		return nil, err
	}

	state := &State{botID: botID, vault: v}

	if record != nil {
		var creds transport.Creds
		var keys Keys
		if v.Decrypt(record.Creds, &creds) && v.Decrypt(record.Keys, &keys) {
			state.creds = &creds
			state.keys = keys
		} else {
			v.logger.WarnContext(ctx, "Stored credentials unreadable, starting fresh", "bot_id", botID)
		}
	}

	if state.creds == nil {
		creds, err := transport.NewCreds()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize credentials: %w", err)
		}
		state.creds = creds
	}
	if state.keys == nil {
		state.keys = Keys{}
	}

	return state, nil
}

// Auth returns the state as transport credentials.
func (s *State) Auth() transport.AuthState {
	return transport.AuthState{Creds: s.Creds(), Keys: s}
}

// Creds returns a copy of the current credentials.
func (s *State) Creds() *transport.Creds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds.Clone()
}

// Registered reports whether the credentials belong to a paired account.
func (s *State) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds.Registered
}

// Get implements transport.KeyStore.
func (s *State) Get(_ context.Context, category string, ids []string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]byte, len(ids))
	for _, id := range ids {
		if v, ok := s.keys[category][id]; ok {
			out[id] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

// Set implements transport.KeyStore and persists the result.
func (s *State) Set(ctx context.Context, data map[string]map[string][]byte) error {
	s.mu.Lock()
	for category, values := range data {
		if s.keys[category] == nil {
			s.keys[category] = make(map[string][]byte, len(values))
		}
		for id, v := range values {
			if v == nil {
				delete(s.keys[category], id)
				continue
			}
			s.keys[category][id] = append([]byte(nil), v...)
		}
	}
	s.mu.Unlock()

	return s.Save(ctx)
}

// UpdateCreds replaces the credentials and persists them.
func (s *State) UpdateCreds(ctx context.Context, creds *transport.Creds) error {
	if creds == nil {
		return nil
	}
	s.mu.Lock()
	s.creds = creds.Clone()
	s.mu.Unlock()

	return s.Save(ctx)
}

// Save persists the current credentials and keys. The snapshot is taken after
// the bot's lock is acquired, so the last save to finish always stores the newest state.
func (s *State) Save(ctx context.Context) error {
	unlock := s.vault.locks.Lock(s.botID)
	defer unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	creds := s.creds.Clone()
	keys := s.keys.clone()
	s.mu.Unlock()

	return s.vault.persist(ctx, s.botID, creds, keys)
}

// Close stops the state from persisting anything further. It waits for an
// in-flight save of the same bot to finish.
func (s *State) Close() {
	unlock := s.vault.locks.Lock(s.botID)
	defer unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (k Keys) clone() Keys {
	out := make(Keys, len(k))
	for category, values := range k {
		m := make(map[string][]byte, len(values))
		for id, v := range values {
			m[id] = append([]byte(nil), v...)
		}
		out[category] = m
	}
	return out
}
