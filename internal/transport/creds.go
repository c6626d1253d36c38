package transport

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// Creds is the long-term identity of a bot on the chat network. The gateway
// owns its meaning; the engine only stores it and hands it back on dial.
type Creds struct {
	Me             *Contact `json:"me,omitempty"             cbor:"me,omitempty"`
	Registered     bool     `json:"registered"               cbor:"registered"`
	RegistrationID uint32   `json:"registrationId"           cbor:"registrationId"`
	AdvSecretKey   []byte   `json:"advSecretKey"             cbor:"advSecretKey"`
	NoiseKey       KeyPair  `json:"noiseKey"                 cbor:"noiseKey"`
	IdentityKey    KeyPair  `json:"signedIdentityKey"        cbor:"signedIdentityKey"`
	PairingCode    string   `json:"pairingCode,omitempty"    cbor:"pairingCode,omitempty"`
	Platform       string   `json:"platform,omitempty"       cbor:"platform,omitempty"`

	// Extra holds gateway fields the engine does not interpret.
	Extra map[string][]byte `json:"extra,omitempty" cbor:"extra,omitempty"`
}

// KeyPair is a Curve25519 key pair.
type KeyPair struct {
	Public  []byte `json:"public"  cbor:"public"`
	Private []byte `json:"private" cbor:"private"`
}

// NewCreds creates fresh, unregistered credentials for a bot that has never paired.
func NewCreds() (*Creds, error) {
	noise, err := newKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate noise key: %w", err)
	}
	identity, err := newKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}

	adv := make([]byte, 32)
	if _, err := rand.Read(adv); err != nil {
		return nil, fmt.Errorf("generate adv secret: %w", err)
	}

	var reg [2]byte
	if _, err := rand.Read(reg[:]); err != nil {
		return nil, fmt.Errorf("generate registration id: %w", err)
	}

	return &Creds{
		RegistrationID: uint32(binary.BigEndian.Uint16(reg[:]) & 0x3fff),
		AdvSecretKey:   adv,
		NoiseKey:       noise,
		IdentityKey:    identity,
	}, nil
}

func newKeyPair() (KeyPair, error) {
	private := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(private); err != nil {
		return KeyPair{}, err
	}
	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: public, Private: private}, nil
}

// Clone returns a deep copy of c.
func (c *Creds) Clone() *Creds {
	if c == nil {
		return nil
	}
	out := *c
	if c.Me != nil {
		me := *c.Me
		out.Me = &me
	}
	out.AdvSecretKey = cloneBytes(c.AdvSecretKey)
	out.NoiseKey = KeyPair{Public: cloneBytes(c.NoiseKey.Public), Private: cloneBytes(c.NoiseKey.Private)}
	out.IdentityKey = KeyPair{Public: cloneBytes(c.IdentityKey.Public), Private: cloneBytes(c.IdentityKey.Private)}
	if c.Extra != nil {
		out.Extra = make(map[string][]byte, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = cloneBytes(v)
		}
	}
	return &out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
