package uploadtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/circle/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, token *models.UploadToken) error
	Get(ctx context.Context, token string) (*models.UploadToken, error)
	// MarkUsed consumes an unused token. A token can be used only once.
	MarkUsed(ctx context.Context, token string) error
	// DeleteExpired removes tokens that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
