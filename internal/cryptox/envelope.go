package cryptox

import (
	"bytes"
	"fmt"

	"github.com/dmitrijs2005/circle/internal/common"
)

const (
	// NonceSize is the AES-GCM nonce length. Nonces are drawn at random for
	// every envelope.
	NonceSize = 12
	// SaltSize is the length of the per-envelope salt that feeds the
	// envelope subkey derivation.
	SaltSize = 32
)

var blobMagic = []byte("CVB1")

// Envelope is ciphertext plus everything except the key needed to decrypt
// it. []byte fields are base64 encoded by encoding/json.
type Envelope struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	Salt       []byte `json:"salt"`
	KeyID      string `json:"keyId"`
}

// EnvelopeMetadata is an Envelope without its ciphertext.
type EnvelopeMetadata struct {
	Nonce []byte `json:"nonce"`
	Salt  []byte `json:"salt"`
	KeyID string `json:"keyId"`
}

// Metadata returns a copy of the envelope's decryption parameters.
func (e *Envelope) Metadata() EnvelopeMetadata {
	return EnvelopeMetadata{
		Nonce: bytes.Clone(e.Nonce),
		Salt:  bytes.Clone(e.Salt),
		KeyID: e.KeyID,
	}
}

// MarshalBinary encodes the envelope as a compact blob:
//
//	"CVB1" | nonce | salt | len(keyId) | keyId | ciphertext
//
// This is the form stored in the vault.
func (e *Envelope) MarshalBinary() ([]byte, error) {
	if len(e.Nonce) != NonceSize || len(e.Salt) != SaltSize {
		return nil, fmt.Errorf("%w: envelope has invalid nonce or salt length", common.ErrEncryption)
	}
	if len(e.KeyID) > 255 {
		return nil, fmt.Errorf("%w: key id too long", common.ErrEncryption)
	}

	out := make([]byte, 0, len(blobMagic)+NonceSize+SaltSize+1+len(e.KeyID)+len(e.Ciphertext))
	out = append(out, blobMagic...)
	out = append(out, e.Nonce...)
	out = append(out, e.Salt...)
	out = append(out, byte(len(e.KeyID)))
	out = append(out, e.KeyID...)
	out = append(out, e.Ciphertext...)
	return out, nil
}

// UnmarshalBinary parses a blob produced by MarshalBinary. The resulting
// Ciphertext shares memory with data.
func (e *Envelope) UnmarshalBinary(data []byte) error {
	header := len(blobMagic) + NonceSize + SaltSize + 1
	if len(data) < header || !bytes.Equal(data[:len(blobMagic)], blobMagic) {
		return fmt.Errorf("%w: malformed blob", common.ErrDecryption)
	}

	pos := len(blobMagic)
	nonce := data[pos : pos+NonceSize]
	pos += NonceSize
	salt := data[pos : pos+SaltSize]
	pos += SaltSize
	idLen := int(data[pos])
	pos++
	if len(data) < pos+idLen {
		return fmt.Errorf("%w: truncated blob", common.ErrDecryption)
	}

	e.Nonce = bytes.Clone(nonce)
	e.Salt = bytes.Clone(salt)
	e.KeyID = string(data[pos : pos+idLen])
	e.Ciphertext = data[pos+idLen:]
	return nil
}

// ParseBlob is a convenience wrapper around UnmarshalBinary.
func ParseBlob(data []byte) (*Envelope, error) {
	e := &Envelope{}
	if err := e.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return e, nil
}
