// Package messages stores encrypted messages and their read receipts.
package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

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

func (r *PostgresRepository) Create(ctx context.Context, msg *models.Message) error {
	query := `INSERT INTO messages (conversation_id, sender_id, content, message_type, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		msg.ConversationID, msg.SenderID, msg.Content, msg.MessageType, msg.ExpiresAt).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkRead(ctx context.Context, messageID, userID string) error {
	query := `INSERT INTO message_reads (message_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (message_id, user_id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, messageID, userID); err != nil {
		if pgutil.IsForeignKeyViolation(err) || pgutil.IsInvalidID(err) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ConversationOf(ctx context.Context, messageID string) (string, error) {
	query := `SELECT conversation_id FROM messages WHERE id = $1 AND deleted_at IS NULL`

	var id string
	if err := r.db.QueryRowContext(ctx, query, messageID).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) || pgutil.IsInvalidID(err) {
			return "", common.ErrorNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) History(ctx context.Context, conversationID string, limit int, before string) ([]*models.Message, error) {
	args := []any{conversationID, limit}
	cursor := ""
	if before != "" {
		args = append(args, before)
		cursor = `AND m.created_at < (SELECT created_at FROM messages WHERE id = $3)`
	}

	query := `SELECT m.id, m.conversation_id, m.sender_id, m.content, m.message_type,
			m.created_at, m.edited_at, m.expires_at, m.deleted_at,
			COALESCE((SELECT string_agg(r.user_id::text, ',' ORDER BY r.read_at)
				FROM message_reads r WHERE r.message_id = m.id), '')
		FROM messages m
		WHERE m.conversation_id = $1
			AND m.deleted_at IS NULL
			AND (m.expires_at IS NULL OR m.expires_at > now())
			` + cursor + `
		ORDER BY m.created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		if pgutil.IsInvalidID(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select messages: %w", err)
	}
	defer rows.Close()

	var result []*models.Message
	for rows.Next() {
		m := &models.Message{}
		var edited, expires, deleted sql.NullTime
		var readers string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.MessageType,
			&m.CreatedAt, &edited, &expires, &deleted, &readers); err != nil {
			return nil, err
		}
		m.EditedAt = timePtr(edited)
		m.ExpiresAt = timePtr(expires)
		m.DeletedAt = timePtr(deleted)
		m.ReadBy = []string{}
		if readers != "" {
			m.ReadBy = strings.Split(readers, ",")
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM messages WHERE expires_at < $1`

	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return ra, nil
}
