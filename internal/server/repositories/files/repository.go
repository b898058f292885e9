package files

import (
	"context"
	"time"

	"github.com/dmitrijs2005/circle/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, f *models.VaultFile) error
	GetByID(ctx context.Context, id string) (*models.VaultFile, error)
	MarkCompleted(ctx context.Context, id, checksum, storageKey string) error
	IncrementDownloadCount(ctx context.Context, id string) error
	SoftDelete(ctx context.Context, id, ownerID string) error
	List(ctx context.Context, filter ListFilter) ([]*models.VaultFile, error)
	UsedBytes(ctx context.Context, userID string, now time.Time) (int64, error)
	DeleteAbandoned(ctx context.Context, now time.Time) (int64, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.VaultFile, error)
	Purge(ctx context.Context, id string) error
}

// ListFilter selects files owned by OwnerID or, when ConversationID is set,
// files shared into that conversation.
type ListFilter struct {
	OwnerID        string
	ConversationID string
	Limit          int
	Offset         int
}
