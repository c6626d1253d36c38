// Package vault encrypts bot session credentials at rest and serializes
// their persistence per bot.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/scrypt"

	"github.com/edgard/hyperbot/internal/database"
	apperrors "github.com/edgard/hyperbot/internal/errors"
	"github.com/edgard/hyperbot/internal/syncutil"
)

// scrypt parameters for deriving the vault key from the master secret.
const (
	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
	keySize = 32
)

// CredentialStore persists encrypted credential records.
type CredentialStore interface {
	GetCredentials(ctx context.Context, botID string) (*database.CredentialRecord, error)
	UpsertCredentials(ctx context.Context, record *database.CredentialRecord) error
	DeleteCredentials(ctx context.Context, botID string) error
}

// Vault seals values with AES-256-GCM under a key derived once from the master
// secret. Sealed blobs are laid out as nonce ‖ tag ‖ ciphertext.
type Vault struct {
	aead   cipher.AEAD
	enc    cbor.EncMode
	dec    cbor.DecMode
	store  CredentialStore
	locks  *syncutil.KeyedMutex
	logger *slog.Logger
}

// New derives the vault key and returns a Vault backed by store.
func New(masterSecret, salt string, store CredentialStore, logger *slog.Logger) (*Vault, error) {
	if masterSecret == "" {
		return nil, apperrors.NewConfigError("master secret is not set", nil)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	key, err := scrypt.Key([]byte(masterSecret), []byte(salt), scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, apperrors.NewConfigError("failed to derive vault key", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	// Core deterministic encoding: the same value always serializes to the same bytes.
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR decoder: %w", err)
	}

	return &Vault{
		aead:   aead,
		enc:    enc,
		dec:    dec,
		store:  store,
		locks:  syncutil.NewKeyedMutex(),
		logger: logger.With("component", "vault"),
	}, nil
}

// Encrypt serializes v and seals it under a fresh random nonce.
func (v *Vault) Encrypt(value any) ([]byte, error) {
	plaintext, err := v.enc.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize value: %w", err)
	}

	nonceSize, tagSize := v.aead.NonceSize(), v.aead.Overhead()
	out := make([]byte, nonceSize+tagSize, nonceSize+tagSize+len(plaintext))
	if _, err := rand.Read(out[:nonceSize]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal returns ciphertext ‖ tag; move the tag in front of the ciphertext.
	sealed := v.aead.Seal(nil, out[:nonceSize], plaintext, nil)
	ctLen := len(sealed) - tagSize
	copy(out[nonceSize:], sealed[ctLen:])
	out = append(out, sealed[:ctLen]...)
	return out, nil
}

// Decrypt opens blob into out. It reports false, and logs why, when the blob
// is truncated, fails authentication or does not decode; callers treat that
// as no stored value.
func (v *Vault) Decrypt(blob []byte, out any) bool {
	if err := v.open(blob, out); err != nil {
		v.logger.Warn("Discarding undecryptable value", "error", err)
		return false
	}
	return true
}

func (v *Vault) open(blob []byte, out any) error {
	nonceSize, tagSize := v.aead.NonceSize(), v.aead.Overhead()
	if len(blob) < nonceSize+tagSize {
		return apperrors.NewDecryptionError(fmt.Sprintf("blob too short (%d bytes)", len(blob)), nil)
	}

	nonce := blob[:nonceSize]
	tag := blob[nonceSize : nonceSize+tagSize]
	ciphertext := blob[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return apperrors.NewDecryptionError("authentication failed", err)
	}
	if err := v.dec.Unmarshal(plaintext, out); err != nil {
		return apperrors.NewDecryptionError("failed to decode value", err)
	}
	return nil
}

// SaveState encrypts and persists a bot's credentials and keys. Calls for the
// same bot run one at a time; calls for different bots do not wait on each other.
func (v *Vault) SaveState(ctx context.Context, botID string, creds any, keys any) error {
	unlock := v.locks.Lock(botID)
	defer unlock()
	return v.persist(ctx, botID, creds, keys)
}

// DeleteState removes a bot's stored credentials.
func (v *Vault) DeleteState(ctx context.Context, botID string) error {
	unlock := v.locks.Lock(botID)
	defer unlock()

	if err := v.store.DeleteCredentials(ctx, botID); err != nil {
		return err
	}
	v.logger.InfoContext(ctx, "Credentials deleted", "bot_id", botID)
	return nil
}

// persist must be called with the bot's lock held.
func (v *Vault) persist(ctx context.Context, botID string, creds any, keys any) error {
	encCreds, err := v.Encrypt(creds)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	encKeys, err := v.Encrypt(keys)
	if err != nil {
		return fmt.Errorf("failed to encrypt keys: %w", err)
	}

	if err := v.store.UpsertCredentials(ctx, &database.CredentialRecord{
		BotID: botID,
		Creds: encCreds,
		Keys:  encKeys,
	}); err != nil {
		v.logger.ErrorContext(ctx, "Failed to save credentials", "bot_id", botID, "error", err)
		return err
	}

	v.logger.DebugContext(ctx, "Credentials saved", "bot_id", botID)
	return nil
}
