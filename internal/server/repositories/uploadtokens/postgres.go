// Package uploadtokens persists single-use vault upload tokens.
package uploadtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/dbx"
	"github.com/dmitrijs2005/circle/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, t *models.UploadToken) error {
	query := `INSERT INTO upload_tokens (token, file_id, user_id, size, expires_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.db.ExecContext(ctx, query, t.Token, t.FileID, t.UserID, t.Size, t.ExpiresAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, token string) (*models.UploadToken, error) {
	query := `SELECT token, file_id, user_id, size, expires_at, used_at FROM upload_tokens WHERE token = $1`

	t := &models.UploadToken{}
	var used sql.NullTime
	err := r.db.QueryRowContext(ctx, query, token).Scan(&t.Token, &t.FileID, &t.UserID, &t.Size, &t.ExpiresAt, &used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if used.Valid {
		u := used.Time
		t.UsedAt = &u
	}
	return t, nil
}

func (r *PostgresRepository) MarkUsed(ctx context.Context, token string) error {
	query := `UPDATE upload_tokens SET used_at = now() WHERE token = $1 AND used_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, token)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return common.ErrInvalidToken
	}
	return nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM upload_tokens WHERE expires_at < $1`

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
