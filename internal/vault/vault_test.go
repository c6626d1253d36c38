package vault

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edgard/hyperbot/internal/database"
	apperrors "github.com/edgard/hyperbot/internal/errors"
	"github.com/edgard/hyperbot/internal/transport"
)

const testSecret = "correct horse battery staple"

type memStore struct {
	mu      sync.Mutex
	records map[string]*database.CredentialRecord
	onSave  func(botID string)
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*database.CredentialRecord{}}
}

func (m *memStore) GetCredentials(_ context.Context, botID string) (*database.CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[botID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) UpsertCredentials(_ context.Context, record *database.CredentialRecord) error {
	if m.onSave != nil {
		m.onSave(record.BotID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *record
	m.records[record.BotID] = &cp
	return nil
}

func (m *memStore) DeleteCredentials(_ context.Context, botID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, botID)
	return nil
}

func newTestVault(t *testing.T, secret string, store CredentialStore) *Vault {
	t.Helper()
	v, err := New(secret, "test-salt", store, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return v
}

func sampleCreds(t *testing.T) *transport.Creds {
	t.Helper()
	creds, err := transport.NewCreds()
	if err != nil {
		t.Fatalf("NewCreds() error = %v", err)
	}
	creds.Me = &transport.Contact{ID: "1234:2@s.whatsapp.net", Name: "Bot"}
	creds.Registered = true
	creds.Extra = map[string][]byte{"account": {1, 2, 3}}
	return creds
}

func TestNew_RequiresMasterSecret(t *testing.T) {
	t.Parallel()
	_, err := New("", "salt", newMemStore(), nil)
	if !apperrors.IsConfig(err) {
		t.Errorf("New(\"\") error = %v, want configuration error", err)
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	t.Parallel()
	v := newTestVault(t, testSecret, newMemStore())

	creds := sampleCreds(t)
	blob, err := v.Encrypt(creds)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	var got transport.Creds
	if !v.Decrypt(blob, &got) {
		t.Fatal("Decrypt() = false, want true")
	}
	if !reflect.DeepEqual(&got, creds) {
		t.Errorf("Decrypt() = %+v, want %+v", got, creds)
	}

	keys := Keys{"pre-key": {"1": {9, 9}}, "session": {"a.0": {7}}}
	blob, err = v.Encrypt(keys)
	if err != nil {
		t.Fatalf("Encrypt(keys) error = %v", err)
	}
	var gotKeys Keys
	if !v.Decrypt(blob, &gotKeys) || !reflect.DeepEqual(gotKeys, keys) {
		t.Errorf("Decrypt(keys) = %v, want %v", gotKeys, keys)
	}
}

func TestEncrypt_FreshNonce(t *testing.T) {
	t.Parallel()
	v := newTestVault(t, testSecret, newMemStore())

	a, _ := v.Encrypt("same")
	b, _ := v.Encrypt("same")
	if reflect.DeepEqual(a, b) {
		t.Error("two encryptions of the same value produced identical blobs")
	}
}

func TestDecrypt_TamperedBlobIsAbsent(t *testing.T) {
	t.Parallel()
	v := newTestVault(t, testSecret, newMemStore())

	blob, err := v.Encrypt(sampleCreds(t))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	for i := range blob {
		tampered := append([]byte(nil), blob...)
		tampered[i] ^= 0x01

		var out transport.Creds
		if v.Decrypt(tampered, &out) {
			t.Fatalf("Decrypt() accepted blob with bit flipped at byte %d", i)
		}
	}

	var out transport.Creds
	if v.Decrypt(blob[:10], &out) {
		t.Error("Decrypt() accepted a truncated blob")
	}
}

func TestDecrypt_ForeignKeyIsAbsent(t *testing.T) {
	t.Parallel()
	a := newTestVault(t, testSecret, newMemStore())
	b := newTestVault(t, "a different master secret", newMemStore())

	blob, _ := a.Encrypt(sampleCreds(t))
	var out transport.Creds
	if b.Decrypt(blob, &out) {
		t.Error("Decrypt() with another key = true, want false")
	}
}

func TestLoadState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	v := newTestVault(t, testSecret, store)

	fresh, err := v.LoadState(ctx, "bot-1")
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if fresh.Registered() {
		t.Error("fresh state is registered")
	}
	if rec, _ := store.GetCredentials(ctx, "bot-1"); rec != nil {
		t.Error("LoadState() persisted state on its own")
	}

	creds := sampleCreds(t)
	if err := fresh.UpdateCreds(ctx, creds); err != nil {
		t.Fatalf("UpdateCreds() error = %v", err)
	}
	if err := fresh.Set(ctx, map[string]map[string][]byte{"pre-key": {"1": {1}, "2": {2}}}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := fresh.Set(ctx, map[string]map[string][]byte{"pre-key": {"2": nil}}); err != nil {
		t.Fatalf("Set(delete) error = %v", err)
	}

	rec, _ := store.GetCredentials(ctx, "bot-1")
	if rec == nil || len(rec.Creds) == 0 {
		t.Fatal("credentials were not persisted")
	}

	loaded, err := newTestVault(t, testSecret, store).LoadState(ctx, "bot-1")
	if err != nil {
		t.Fatalf("LoadState(reload) error = %v", err)
	}
	if !reflect.DeepEqual(loaded.Creds(), creds) {
		t.Errorf("reloaded creds = %+v, want %+v", loaded.Creds(), creds)
	}
	got, _ := loaded.Get(ctx, "pre-key", []string{"1", "2"})
	if len(got) != 1 || got["1"][0] != 1 {
		t.Errorf("reloaded keys = %v, want only key 1", got)
	}
}

func TestLoadState_UndecryptableRecordStartsFresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	store.records["bot-1"] = &database.CredentialRecord{BotID: "bot-1", Creds: []byte("garbage-garbage-garbage-garbage"), Keys: []byte("x")}

	state, err := newTestVault(t, testSecret, store).LoadState(ctx, "bot-1")
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if state.Registered() || state.Creds().Me != nil {
		t.Error("undecryptable record produced usable credentials")
	}
}

func TestState_CloseStopsPersistence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	v := newTestVault(t, testSecret, store)

	state, _ := v.LoadState(ctx, "bot-1")
	state.Close()
	if err := state.UpdateCreds(ctx, sampleCreds(t)); err != nil {
		t.Fatalf("UpdateCreds() after Close error = %v", err)
	}
	if rec, _ := store.GetCredentials(ctx, "bot-1"); rec != nil {
		t.Error("closed state persisted credentials")
	}
}

func TestSaveState_SerializedPerBot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()

	var active, maxActive int32
	store.onSave = func(string) {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
	}

	v := newTestVault(t, testSecret, store)
	state, _ := v.LoadState(ctx, "bot-1")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := state.Set(ctx, map[string]map[string][]byte{"pre-key": {string(rune('a' + i)): {byte(i)}}}); err != nil {
				t.Errorf("Set() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent saves for one bot = %d, want 1", maxActive)
	}

	reloaded, _ := v.LoadState(ctx, "bot-1")
	got, _ := reloaded.Get(ctx, "pre-key", []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"})
	if len(got) != 10 {
		t.Errorf("persisted %d keys, want all 10 (lost update)", len(got))
	}
}

func TestSaveState_DifferentBotsDoNotBlock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()

	entered := make(chan string, 2)
	release := make(chan struct{})
	store.onSave = func(botID string) {
		entered <- botID
		if botID == "bot-a" {
			<-release
		}
	}
	v := newTestVault(t, testSecret, store)
	credsA, credsB := sampleCreds(t), sampleCreds(t)

	done := make(chan error, 1)
	go func() { done <- v.SaveState(ctx, "bot-a", credsA, Keys{}) }()
	if got := <-entered; got != "bot-a" {
		t.Fatalf("first save = %s, want bot-a", got)
	}

	// bot-a is still holding its lock; bot-b must get through regardless.
	errB := make(chan error, 1)
	go func() { errB <- v.SaveState(ctx, "bot-b", credsB, Keys{}) }()
	select {
	case got := <-entered:
		if got != "bot-b" {
			t.Errorf("second save = %s, want bot-b", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("save for bot-b blocked behind bot-a")
	}
	if err := <-errB; err != nil {
		t.Errorf("SaveState(bot-b) error = %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("SaveState(bot-a) error = %v", err)
	}
}
