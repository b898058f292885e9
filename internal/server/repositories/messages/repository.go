package messages

import (
	"context"
	"time"

	"github.com/dmitrijs2005/circle/internal/server/models"
)

type Repository interface {
	// Create inserts msg and fills in its id and creation time.
	Create(ctx context.Context, msg *models.Message) error
	// MarkRead records that userID has read messageID. Repeated calls are
	// no-ops.
	MarkRead(ctx context.Context, messageID, userID string) error
	// ConversationOf returns the conversation a message belongs to.
	ConversationOf(ctx context.Context, messageID string) (string, error)
	// History returns up to limit visible messages older than the message
	// before (when set), newest first.
	History(ctx context.Context, conversationID string, limit int, before string) ([]*models.Message, error)
	// DeleteExpired removes messages that expired before now together with
	// their read receipts.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
