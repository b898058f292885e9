// Package conversations stores conversations and their participants.
package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/dbx"
	"github.com/dmitrijs2005/circle/internal/server/models"
	"github.com/dmitrijs2005/circle/internal/server/repositories/pgutil"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, conv *models.Conversation) error {
	query := `INSERT INTO conversations (name, type, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query, conv.Name, conv.Type, conv.CreatedBy).Scan(&conv.ID, &conv.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AddParticipant(ctx context.Context, conversationID, userID, role string) error {
	query := `INSERT INTO conversation_participants (conversation_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, user_id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, conversationID, userID, role); err != nil {
		if pgutil.IsForeignKeyViolation(err) {
			return common.ErrUnknownUser
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Conversation, error) {
	query := `SELECT id, name, type, created_by, created_at FROM conversations WHERE id = $1`

	c := &models.Conversation{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.Type, &c.CreatedBy, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || pgutil.IsInvalidID(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	ps, err := r.participants(ctx, `WHERE p.conversation_id = $1`, id)
	if err != nil {
		return nil, err
	}
	c.Participants = ps
	return c, nil
}

func (r *PostgresRepository) ListForUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	query := `SELECT c.id, c.name, c.type, c.created_by, c.created_at
		FROM conversations c
		JOIN conversation_participants me ON me.conversation_id = c.id
		WHERE me.user_id = $1
		ORDER BY c.created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select conversations: %w", err)
	}
	defer rows.Close()

	var result []*models.Conversation
	byID := map[string]*models.Conversation{}
	for rows.Next() {
		c := &models.Conversation{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.CreatedBy, &c.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return result, nil
	}

	ps, err := r.participants(ctx, `JOIN conversation_participants me ON me.conversation_id = p.conversation_id
		WHERE me.user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	for _, p := range ps {
		if c := byID[p.ConversationID]; c != nil {
			c.Participants = append(c.Participants, p)
		}
	}
	return result, nil
}

func (r *PostgresRepository) participants(ctx context.Context, where string, arg string) ([]models.Participant, error) {
	query := `SELECT p.conversation_id, p.user_id, u.username, p.role, p.joined_at
		FROM conversation_participants p
		JOIN users u ON u.id = p.user_id
		` + where + `
		ORDER BY p.joined_at, u.username`

	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to select participants: %w", err)
	}
	defer rows.Close()

	var result []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.UserName, &p.Role, &p.JoinedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *PostgresRepository) ParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	query := `SELECT user_id FROM conversation_participants WHERE conversation_id = $1`

	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		if pgutil.IsInvalidID(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select participants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepository) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2
	)`

	var ok bool
	if err := r.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&ok); err != nil {
		if pgutil.IsInvalidID(err) {
			return false, nil
		}
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}
