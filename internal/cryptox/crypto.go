// Package cryptox holds the cryptographic building blocks shared by the
// messaging and vault paths: key generation and derivation (KeyManager), the
// self-describing Envelope format and the AEAD Codec that produces it, plus
// the password-based helpers used during login.
package cryptox

import (
	"crypto/sha256"

	"golang.org/x/crypto/argon2"
)

// MakeVerifier returns the value the server stores to check a login without
// ever learning the derived master key.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

// DeriveMasterKey stretches a password with Argon2id. The result unlocks the
// local secure store; it is unrelated to the shared messaging master secret.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, KeySize)
}
