package cryptox

import (
	"crypto/sha256"
	"encoding/hex"
)

// Checksum is the hex SHA-256 of data. Vault checksums are always taken over
// the encrypted blob.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
