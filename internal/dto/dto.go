// Package dto holds the JSON bodies of the HTTP API shared by the server
// handlers and the client.
package dto

import (
	"time"

	"github.com/dmitrijs2005/circle/internal/cryptox"
)

// Conversation types.
const (
	ConversationDirect = "direct"
	ConversationGroup  = "group"
)

// Vault access levels.
const (
	AccessPrivate      = "private"
	AccessConversation = "conversation"
	AccessPublic       = "public"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Salt     []byte `json:"salt"`
	Verifier []byte `json:"verifier"`
}

type RegisterResponse struct {
	UserID string `json:"userId"`
}

type SaltRequest struct {
	Username string `json:"username"`
}

type SaltResponse struct {
	Salt []byte `json:"salt"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Verifier []byte `json:"verifier"`
}

type LoginResponse struct {
	AccessToken string    `json:"accessToken"`
	UserID      string    `json:"userId"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type CreateConversationRequest struct {
	Name string `json:"name,omitempty"`
	// ParticipantIdentifiers are user ids or usernames. The caller is
	// always added.
	ParticipantIdentifiers []string `json:"participantIdentifiers"`
	Type                   string   `json:"type"`
}

type Participant struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type Conversation struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"`
	Type         string        `json:"type"`
	CreatedBy    string        `json:"createdBy"`
	CreatedAt    time.Time     `json:"createdAt"`
	Participants []Participant `json:"participants"`
}

type UploadTokenRequest struct {
	Filename           string                   `json:"filename"`
	ContentType        string                   `json:"contentType"`
	Size               int64                    `json:"size"`
	ConversationID     string                   `json:"conversationId,omitempty"`
	AccessLevel        string                   `json:"accessLevel"`
	EncryptionMetadata cryptox.EnvelopeMetadata `json:"encryptionMetadata"`
	ExpiresInHours     int                      `json:"expiresInHours,omitempty"`
}

type UploadTokenResponse struct {
	Token        string    `json:"token"`
	UploadTarget string    `json:"uploadTarget"`
	FileID       string    `json:"fileId"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type DownloadURLResponse struct {
	URL       string    `json:"url"`
	Checksum  string    `json:"checksum"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type VaultFile struct {
	ID                 string                   `json:"id"`
	OwnerID            string                   `json:"ownerId"`
	ConversationID     string                   `json:"conversationId,omitempty"`
	Filename           string                   `json:"filename"`
	Size               int64                    `json:"size"`
	ContentType        string                   `json:"contentType"`
	AccessLevel        string                   `json:"accessLevel"`
	Checksum           string                   `json:"checksum"`
	EncryptionMetadata cryptox.EnvelopeMetadata `json:"encryptionMetadata"`
	ExpiresAt          *time.Time               `json:"expiresAt,omitempty"`
	DownloadCount      int64                    `json:"downloadCount"`
	CreatedAt          time.Time                `json:"createdAt"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// ValidAccessLevel reports whether s is a known access level.
func ValidAccessLevel(s string) bool {
	switch s {
	case AccessPrivate, AccessConversation, AccessPublic:
		return true
	}
	return false
}
