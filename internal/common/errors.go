// Package common defines shared constants and sentinel errors used across
// client and server layers of Circle. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid request")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Access control.
	ErrAccessDenied   = errors.New("access denied")
	ErrNotParticipant = errors.New("user is not in this conversation")

	// Vault limits.
	ErrFileTooLarge  = errors.New("file too large")
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// Account errors.
	ErrLoginIsTaken = errors.New("login already exists")
	ErrUnknownUser  = errors.New("unknown user")
)

// Messaging and vault engine errors. These are reported distinctly so a
// caller can tell a cryptographic or integrity failure apart from a
// message that simply has not arrived yet.
var (
	ErrAuthentication   = errors.New("authentication failed")
	ErrConnection       = errors.New("connection error")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrEncryption       = errors.New("encryption failed")
	ErrDecryption       = errors.New("decryption failed")
	ErrMissingKey       = errors.New("file key is not available on this device")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrUpload           = errors.New("upload failed")
	ErrDownload         = errors.New("download failed")
	ErrUnavailable      = errors.New("server unavailable")

	ErrLocalDataNotAvailable = errors.New("no local account data, log in online first")
)
