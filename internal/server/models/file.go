// Package models defines server-side data models persisted in the database.
package models

import "time"

// Upload states of a vault file.
const (
	UploadPending   = "pending"
	UploadCompleted = "completed"
)

// VaultFile describes server-side metadata for an encrypted blob. The blob
// itself lives in object storage under StorageKey.
type VaultFile struct {
	ID             string
	OwnerID        string
	ConversationID string
	Filename       string
	Size           int64
	ContentType    string
	AccessLevel    string
	// Checksum is the hex SHA-256 of the encrypted blob, set on upload.
	Checksum string
	// EncryptionMetadata is the JSON envelope header supplied by the client.
	EncryptionMetadata []byte
	StorageKey         string
	UploadStatus       string
	ExpiresAt          *time.Time
	DownloadCount      int64
	CreatedAt          time.Time
	DeletedAt          *time.Time
}

// UploadToken authorises exactly one PUT of a pending file.
type UploadToken struct {
	Token     string
	FileID    string
	UserID    string
	Size      int64
	ExpiresAt time.Time
	UsedAt    *time.Time
}
