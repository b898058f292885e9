package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/dbx"
	"github.com/dmitrijs2005/circle/internal/server/models"
	"github.com/dmitrijs2005/circle/internal/server/repositories/pgutil"
)

// PostgresRepository implements file metadata storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const fileColumns = `id, owner_id, COALESCE(conversation_id::text, ''), filename, size, content_type,
	access_level, checksum, encryption_metadata, storage_key, upload_status, expires_at,
	download_count, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.VaultFile, error) {
	f := &models.VaultFile{}
	var expires sql.NullTime
	if err := s.Scan(&f.ID, &f.OwnerID, &f.ConversationID, &f.Filename, &f.Size, &f.ContentType,
		&f.AccessLevel, &f.Checksum, &f.EncryptionMetadata, &f.StorageKey, &f.UploadStatus, &expires,
		&f.DownloadCount, &f.CreatedAt); err != nil {
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		f.ExpiresAt = &t
	}
	return f, nil
}

// Create inserts a pending file record and fills in its id and creation time.
func (r *PostgresRepository) Create(ctx context.Context, f *models.VaultFile) error {
	query := `INSERT INTO vault_files (owner_id, conversation_id, filename, size, content_type,
			access_level, encryption_metadata, upload_status, expires_at)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	if f.UploadStatus == "" {
		f.UploadStatus = models.UploadPending
	}
	err := r.db.QueryRowContext(ctx, query,
		f.OwnerID, f.ConversationID, f.Filename, f.Size, f.ContentType,
		f.AccessLevel, f.EncryptionMetadata, f.UploadStatus, f.ExpiresAt).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		if pgutil.IsForeignKeyViolation(err) || pgutil.IsInvalidID(err) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByID returns a file that has not been deleted.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.VaultFile, error) {
	query := `SELECT ` + fileColumns + ` FROM vault_files WHERE id = $1 AND deleted_at IS NULL`

	f, err := scanFile(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || pgutil.IsInvalidID(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select file: %w", err)
	}
	return f, nil
}

// MarkCompleted records the checksum and storage key of an uploaded blob.
// Exactly one pending row must be affected.
func (r *PostgresRepository) MarkCompleted(ctx context.Context, id, checksum, storageKey string) error {
	query := `UPDATE vault_files SET upload_status = 'completed', checksum = $2, storage_key = $3
		WHERE id = $1 AND upload_status = 'pending' AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id, checksum, storageKey)
	if err != nil {
		return fmt.Errorf("failed to mark uploaded: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) IncrementDownloadCount(ctx context.Context, id string) error {
	query := `UPDATE vault_files SET download_count = download_count + 1 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// SoftDelete marks the file as deleted. Deleting an already deleted file of
// the same owner succeeds; anything else not owned by ownerID is not found.
func (r *PostgresRepository) SoftDelete(ctx context.Context, id, ownerID string) error {
	query := `UPDATE vault_files SET deleted_at = COALESCE(deleted_at, now())
		WHERE id = $1 AND owner_id = $2`

	result, err := r.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		if pgutil.IsInvalidID(err) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// List returns completed, non-deleted files newest first.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*models.VaultFile, error) {
	where, arg := `owner_id = $1`, filter.OwnerID
	if filter.ConversationID != "" {
		where, arg = `conversation_id = $1`, filter.ConversationID
	}

	query := `SELECT ` + fileColumns + ` FROM vault_files
		WHERE ` + where + ` AND upload_status = 'completed' AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, arg, filter.Limit, filter.Offset)
	if err != nil {
		if pgutil.IsInvalidID(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.VaultFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// liveFile matches rows that count towards the owner's quota: completed
// uploads, and pending ones that still hold an unused, unexpired token.
const liveFile = `deleted_at IS NULL AND (upload_status = 'completed' OR EXISTS (
		SELECT 1 FROM upload_tokens t
		WHERE t.file_id = vault_files.id AND t.used_at IS NULL AND t.expires_at > $2))`

// UsedBytes sums the sizes of the user's files that occupy quota at now.
func (r *PostgresRepository) UsedBytes(ctx context.Context, userID string, now time.Time) (int64, error) {
	query := `SELECT COALESCE(SUM(size), 0) FROM vault_files WHERE owner_id = $1 AND ` + liveFile

	var n int64
	if err := r.db.QueryRowContext(ctx, query, userID, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// DeleteAbandoned removes pending records whose upload can no longer
// complete. Pending records never have a stored object.
func (r *PostgresRepository) DeleteAbandoned(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM vault_files f
		WHERE f.upload_status = 'pending' AND NOT EXISTS (
			SELECT 1 FROM upload_tokens t
			WHERE t.file_id = f.id AND t.used_at IS NULL AND t.expires_at > $1)`

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

// ListExpired returns up to limit completed files whose expiry is before now,
// soft-deleted ones included, oldest expiry first.
func (r *PostgresRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.VaultFile, error) {
	query := `SELECT ` + fileColumns + ` FROM vault_files
		WHERE upload_status = 'completed' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.VaultFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Purge removes the file record for good.
func (r *PostgresRepository) Purge(ctx context.Context, id string) error {
	query := `DELETE FROM vault_files WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
