package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/dbx"
	"github.com/dmitrijs2005/circle/internal/dto"
	"github.com/dmitrijs2005/circle/internal/server/models"
	"github.com/dmitrijs2005/circle/internal/server/repositories/repomanager"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
	maxMessageSize      = 48 << 10

	resolveParallelism = 4
)

// MessagingService owns conversations and the stored, still encrypted,
// message history. The real-time relay calls into it for every frame it
// accepts.
type MessagingService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	now         func() time.Time
}

func NewMessagingService(db *sql.DB, m repomanager.RepositoryManager) *MessagingService {
	return &MessagingService{db: db, repomanager: m, now: time.Now}
}

// CreateConversation creates a conversation owned by creatorID. Identifiers
// may be user ids or usernames; the creator is added as admin and does not
// need to be listed.
func (s *MessagingService) CreateConversation(ctx context.Context, creatorID, name, kind string, identifiers []string) (*models.Conversation, error) {
	if kind == "" {
		kind = dto.ConversationGroup
	}
	if kind != dto.ConversationDirect && kind != dto.ConversationGroup {
		return nil, fmt.Errorf("%w: unknown conversation type %q", common.ErrInvalidRequest, kind)
	}

	members, err := s.resolve(ctx, identifiers)
	if err != nil {
		return nil, err
	}
	members = slices.DeleteFunc(members, func(id string) bool { return id == creatorID })

	if kind == dto.ConversationDirect && len(members) != 1 {
		return nil, fmt.Errorf("%w: a direct conversation needs exactly one other participant", common.ErrInvalidRequest)
	}

	return dbx.WithTxValue(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (*models.Conversation, error) {
		repo := s.repomanager.Conversations(tx)

		conv := &models.Conversation{Name: strings.TrimSpace(name), Type: kind, CreatedBy: creatorID}
		if err := repo.Create(ctx, conv); err != nil {
			return nil, err
		}
		if err := repo.AddParticipant(ctx, conv.ID, creatorID, models.RoleAdmin); err != nil {
			return nil, err
		}
		for _, id := range members {
			if err := repo.AddParticipant(ctx, conv.ID, id, models.RoleMember); err != nil {
				return nil, err
			}
		}
		return repo.Get(ctx, conv.ID)
	})
}

// resolve maps identifiers to distinct user ids, keeping their order.
func (s *MessagingService) resolve(ctx context.Context, identifiers []string) ([]string, error) {
	ids := make([]string, len(identifiers))
	repo := s.repomanager.Users(s.db)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveParallelism)
	for i, ident := range identifiers {
		ident = strings.TrimSpace(ident)
		if ident == "" {
			continue
		}
		g.Go(func() error {
			u, err := repo.Resolve(gctx, ident)
			if errors.Is(err, common.ErrorNotFound) {
				return fmt.Errorf("%w: %s", common.ErrUnknownUser, ident)
			}
			if err != nil {
				return err
			}
			ids[i] = u.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *MessagingService) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	return s.repomanager.Conversations(s.db).ListForUser(ctx, userID)
}

// History returns stored messages of a conversation, newest first. Only
// participants may read it.
func (s *MessagingService) History(ctx context.Context, userID, conversationID string, limit int, before string) ([]*models.Message, error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	return s.repomanager.Messages(s.db).History(ctx, conversationID, limit, before)
}

// SendMessage stores an encrypted message and returns it together with the
// ids of everyone who should receive it.
func (s *MessagingService) SendMessage(ctx context.Context, senderID, conversationID, content, messageType string, expiresInMinutes int) (*models.Message, []string, error) {
	if conversationID == "" || content == "" || len(content) > maxMessageSize || expiresInMinutes < 0 {
		return nil, nil, common.ErrInvalidRequest
	}
	if messageType == "" {
		messageType = "text"
	}

	participants, err := s.participantsOf(ctx, conversationID, senderID)
	if err != nil {
		return nil, nil, err
	}

	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		MessageType:    messageType,
		ReadBy:         []string{},
	}
	if expiresInMinutes > 0 {
		exp := s.now().Add(time.Duration(expiresInMinutes) * time.Minute)
		msg.ExpiresAt = &exp
	}
	if err := s.repomanager.Messages(s.db).Create(ctx, msg); err != nil {
		return nil, nil, err
	}
	return msg, participants, nil
}

// MarkRead records a read receipt and returns the conversation and its
// participants for the broadcast.
func (s *MessagingService) MarkRead(ctx context.Context, userID, messageID string) (string, []string, error) {
	repo := s.repomanager.Messages(s.db)

	conversationID, err := repo.ConversationOf(ctx, messageID)
	if err != nil {
		return "", nil, err
	}
	participants, err := s.participantsOf(ctx, conversationID, userID)
	if err != nil {
		return "", nil, err
	}
	if err := repo.MarkRead(ctx, messageID, userID); err != nil {
		return "", nil, err
	}
	return conversationID, participants, nil
}

// Participants returns the members of a conversation userID belongs to.
func (s *MessagingService) Participants(ctx context.Context, userID, conversationID string) ([]string, error) {
	return s.participantsOf(ctx, conversationID, userID)
}

func (s *MessagingService) participantsOf(ctx context.Context, conversationID, userID string) ([]string, error) {
	ids, err := s.repomanager.Conversations(s.db).ParticipantIDs(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(ids, userID) {
		return nil, common.ErrNotParticipant
	}
	return ids, nil
}

func (s *MessagingService) requireParticipant(ctx context.Context, conversationID, userID string) error {
	ok, err := s.repomanager.Conversations(s.db).IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrNotParticipant
	}
	return nil
}
