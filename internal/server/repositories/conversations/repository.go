package conversations

import (
	"context"

	"github.com/dmitrijs2005/circle/internal/server/models"
)

type Repository interface {
	// Create inserts conv and fills in its id and creation time.
	Create(ctx context.Context, conv *models.Conversation) error
	AddParticipant(ctx context.Context, conversationID, userID, role string) error
	// Get returns the conversation with its participants.
	Get(ctx context.Context, id string) (*models.Conversation, error)
	// ListForUser returns every conversation userID takes part in, newest
	// first, with participants.
	ListForUser(ctx context.Context, userID string) ([]*models.Conversation, error)
	// ParticipantIDs returns the user ids of a conversation.
	ParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}
