package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/dmitrijs2005/circle/internal/common"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length in bytes of every symmetric key handled here.
const KeySize = 32

const conversationKeyInfo = "circle_conversation_key"

// Key is raw symmetric key material.
type Key []byte

// String keeps key bytes out of logs and fmt output.
func (k Key) String() string {
	return "[redacted]"
}

// KeyManager generates master and file keys, derives per-conversation keys
// and produces storage identifiers and operational tokens.
//
// A KeyManager holds no key material. The zero value is not usable; use
// NewKeyManager.
type KeyManager struct {
	rand io.Reader
}

// NewKeyManager returns a KeyManager backed by crypto/rand.
func NewKeyManager() *KeyManager {
	return &KeyManager{rand: rand.Reader}
}

// GenerateKey returns KeySize cryptographically random bytes.
func (m *KeyManager) GenerateKey() (Key, error) {
	k := make(Key, KeySize)
	if _, err := io.ReadFull(m.rand, k); err != nil {
		return nil, fmt.Errorf("%w: reading entropy: %v", common.ErrEncryption, err)
	}
	return k, nil
}

// DeriveConversationKey deterministically derives the key for a conversation
// from the shared master secret using HKDF-SHA256. The conversation id is the
// HKDF salt, so different conversations yield independent keys under the
// same master.
//
// Every participant holding the same master derives the same key; the derived
// key never has to be transmitted.
func (m *KeyManager) DeriveConversationKey(master Key, conversationID string) (Key, error) {
	if len(master) != KeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d", common.ErrEncryption, KeySize, len(master))
	}
	if conversationID == "" {
		return nil, fmt.Errorf("%w: empty conversation id", common.ErrEncryption)
	}

	r := hkdf.New(sha256.New, master, []byte(conversationID), []byte(conversationKeyInfo))
	k := make(Key, KeySize)
	if _, err := io.ReadFull(r, k); err != nil {
		return nil, fmt.Errorf("%w: hkdf: %v", common.ErrEncryption, err)
	}
	return k, nil
}

// HashKey returns a one-way identifier for key suitable for lookups.
func (m *KeyManager) HashKey(key Key) string {
	return HashKey(key)
}

// GenerateSecureToken returns a URL-safe random token for short-lived
// operations such as upload intents. It is independent of any key.
func (m *KeyManager) GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(m.rand, b); err != nil {
		return "", fmt.Errorf("%w: reading entropy: %v", common.ErrEncryption, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashKey is base64(SHA-256(key)).
func HashKey(key Key) string {
	sum := sha256.Sum256(key)
	return base64.StdEncoding.EncodeToString(sum[:])
}
