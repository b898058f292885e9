package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dmitrijs2005/circle/internal/common"
	"golang.org/x/crypto/hkdf"
)

const envelopeKeyInfo = "circle_envelope_key"

// Codec encrypts and decrypts payloads into self-describing envelopes.
//
// Every envelope gets a fresh random salt and nonce. The data key is derived
// from the caller's key and the salt with HKDF-SHA256, then used with
// AES-256-GCM; the salt and key id are bound as associated data. Decryption
// therefore fails closed on a wrong key, a tampered field or a truncated
// payload.
//
// Codec keeps no key material between calls and is safe for concurrent use.
type Codec struct {
	rand io.Reader
}

// NewCodec returns a Codec backed by crypto/rand.
func NewCodec() *Codec {
	return &Codec{rand: rand.Reader}
}

// Encrypt seals plaintext under key. It fails only on an invalid key length
// or when the entropy source is exhausted.
func (c *Codec) Encrypt(plaintext []byte, key Key) (*Envelope, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", common.ErrEncryption, KeySize, len(key))
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(c.rand, salt); err != nil {
		return nil, fmt.Errorf("%w: reading entropy: %v", common.ErrEncryption, err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return nil, fmt.Errorf("%w: reading entropy: %v", common.ErrEncryption, err)
	}

	keyID := HashKey(key)
	aead, err := envelopeAEAD(key, salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	return &Envelope{
		Ciphertext: aead.Seal(nil, nonce, plaintext, additionalData(salt, keyID)),
		Nonce:      nonce,
		Salt:       salt,
		KeyID:      keyID,
	}, nil
}

// Decrypt opens env with key. Any mismatch or malformation yields
// common.ErrDecryption; partial plaintext is never returned.
func (c *Codec) Decrypt(env *Envelope, key Key) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", common.ErrDecryption)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", common.ErrDecryption, KeySize, len(key))
	}
	if len(env.Nonce) != NonceSize || len(env.Salt) != SaltSize {
		return nil, fmt.Errorf("%w: malformed envelope", common.ErrDecryption)
	}
	if env.KeyID != HashKey(key) {
		return nil, fmt.Errorf("%w: envelope was sealed with a different key", common.ErrDecryption)
	}

	aead, err := envelopeAEAD(key, env.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	if len(env.Ciphertext) < aead.Overhead() {
		return nil, fmt.Errorf("%w: truncated ciphertext", common.ErrDecryption)
	}

	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, additionalData(env.Salt, env.KeyID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return plaintext, nil
}

// EncryptBytes seals a raw buffer and returns it in blob form (see
// Envelope.MarshalBinary). Used for vault payloads.
func (c *Codec) EncryptBytes(data []byte, key Key) ([]byte, error) {
	env, err := c.Encrypt(data, key)
	if err != nil {
		return nil, err
	}
	return env.MarshalBinary()
}

// DecryptBytes opens a blob produced by EncryptBytes.
func (c *Codec) DecryptBytes(blob []byte, key Key) ([]byte, error) {
	env, err := ParseBlob(blob)
	if err != nil {
		return nil, err
	}
	return c.Decrypt(env, key)
}

// EncryptForTransport seals plaintext and encodes the envelope as
// base64(JSON) so it can travel inside JSON or text message fields.
func (c *Codec) EncryptForTransport(plaintext string, key Key) (string, error) {
	env, err := c.Encrypt([]byte(plaintext), key)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecryptFromTransport reverses EncryptForTransport. It never returns an
// error; failures are reported through the result's Status so UI-facing
// callers can render an explicit marker.
func (c *Codec) DecryptFromTransport(encoded string, key Key) TransportResult {
	env, err := ParseTransport(encoded)
	if err != nil {
		return TransportResult{Status: Undecryptable, Err: err}
	}
	plaintext, err := c.Decrypt(env, key)
	if err != nil {
		return TransportResult{Status: Undecryptable, Err: err}
	}
	return TransportResult{Status: Decrypted, Text: string(plaintext)}
}

// ParseTransport decodes the text form of an envelope without decrypting it.
func ParseTransport(encoded string) (*Envelope, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: transport encoding: %v", common.ErrDecryption, err)
	}
	env := &Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("%w: envelope json: %v", common.ErrDecryption, err)
	}
	return env, nil
}

func envelopeAEAD(key Key, salt []byte) (cipher.AEAD, error) {
	sub := make([]byte, KeySize)
	defer common.WipeByteArray(sub)

	if _, err := io.ReadFull(hkdf.New(sha256.New, key, salt, []byte(envelopeKeyInfo)), sub); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(sub)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func additionalData(salt []byte, keyID string) []byte {
	ad := make([]byte, 0, len(salt)+len(keyID))
	ad = append(ad, salt...)
	return append(ad, keyID...)
}
