package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/cryptox"
	"github.com/dmitrijs2005/circle/internal/dbx"
	"github.com/dmitrijs2005/circle/internal/dto"
	"github.com/dmitrijs2005/circle/internal/logging"
	sc "github.com/dmitrijs2005/circle/internal/server/config"
	"github.com/dmitrijs2005/circle/internal/server/models"
	"github.com/dmitrijs2005/circle/internal/server/repositories/files"
	"github.com/dmitrijs2005/circle/internal/server/repositories/repomanager"
)

const (
	DefaultFileListLimit = 50
	MaxFileListLimit     = 100
	uploadTokenSize      = 32
)

// UploadGrant lets the holder PUT exactly one blob to UploadTarget.
type UploadGrant struct {
	Token        string
	FileID       string
	UploadTarget string
	ExpiresAt    time.Time
}

type DownloadGrant struct {
	URL       string
	Checksum  string
	ExpiresAt time.Time
}

// VaultService keeps metadata of encrypted files and moves their blobs in
// and out of object storage. It never sees keys or plaintext.
type VaultService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	store       *objectStore
	log         logging.Logger
	now         func() time.Time
}

func NewVaultService(db *sql.DB, m repomanager.RepositoryManager, cfg *sc.Config, log logging.Logger) *VaultService {
	return &VaultService{
		db:          db,
		repomanager: m,
		config:      cfg,
		store:       &objectStore{config: cfg},
		log:         log,
		now:         time.Now,
	}
}

// RequestUploadToken registers a pending file and issues a single use
// upload token for it.
func (s *VaultService) RequestUploadToken(ctx context.Context, userID string, req dto.UploadTokenRequest) (*UploadGrant, error) {
	if strings.TrimSpace(req.Filename) == "" || req.Size <= 0 || req.ExpiresInHours < 0 {
		return nil, common.ErrInvalidRequest
	}
	if req.Size > s.config.MaxFileSize {
		return nil, common.ErrFileTooLarge
	}

	level := req.AccessLevel
	if level == "" {
		level = dto.AccessPrivate
	}
	if !dto.ValidAccessLevel(level) {
		return nil, fmt.Errorf("%w: unknown access level %q", common.ErrInvalidRequest, level)
	}
	if level == dto.AccessConversation && req.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversation access needs a conversation", common.ErrInvalidRequest)
	}
	if req.ConversationID != "" {
		if err := s.requireParticipant(ctx, req.ConversationID, userID); err != nil {
			return nil, err
		}
	}

	used, err := s.repomanager.Files(s.db).UsedBytes(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}
	if used+req.Size > s.config.UserQuota {
		return nil, common.ErrQuotaExceeded
	}

	meta, err := json.Marshal(req.EncryptionMetadata)
	if err != nil {
		return nil, common.ErrInvalidRequest
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	token, err := common.MakeRandHexString(uploadTokenSize)
	if err != nil {
		return nil, common.ErrorInternal
	}

	now := s.now()
	f := &models.VaultFile{
		OwnerID:            userID,
		ConversationID:     req.ConversationID,
		Filename:           req.Filename,
		Size:               req.Size,
		ContentType:        contentType,
		AccessLevel:        level,
		EncryptionMetadata: meta,
		UploadStatus:       models.UploadPending,
	}
	if req.ExpiresInHours > 0 {
		exp := now.Add(time.Duration(req.ExpiresInHours) * time.Hour)
		f.ExpiresAt = &exp
	}
	ut := &models.UploadToken{
		Token:     token,
		UserID:    userID,
		Size:      req.Size,
		ExpiresAt: now.Add(s.config.UploadTokenValidityDuration),
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Files(tx).Create(ctx, f); err != nil {
			return err
		}
		ut.FileID = f.ID
		return s.repomanager.UploadTokens(tx).Create(ctx, ut)
	})
	if err != nil {
		return nil, fmt.Errorf("error creating upload: %w", err)
	}

	return &UploadGrant{
		Token:        token,
		FileID:       f.ID,
		UploadTarget: strings.TrimRight(s.config.PublicBaseURL, "/") + "/vault/upload/" + f.ID,
		ExpiresAt:    ut.ExpiresAt,
	}, nil
}

// CompleteUpload accepts the encrypted blob of a pending file. The body must
// match the declared size and the client's checksum.
func (s *VaultService) CompleteUpload(ctx context.Context, fileID, token, checksum string, body []byte) (*models.VaultFile, error) {
	if token == "" {
		return nil, common.ErrInvalidToken
	}
	ut, err := s.repomanager.UploadTokens(s.db).Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if ut.FileID != fileID || ut.UsedAt != nil {
		return nil, common.ErrInvalidToken
	}
	if s.now().After(ut.ExpiresAt) {
		return nil, common.ErrTokenExpired
	}
	if int64(len(body)) != ut.Size {
		return nil, fmt.Errorf("%w: got %d bytes, declared %d", common.ErrInvalidRequest, len(body), ut.Size)
	}

	sum := cryptox.Checksum(body)
	if !strings.EqualFold(sum, strings.TrimSpace(checksum)) {
		return nil, common.ErrChecksumMismatch
	}

	f, err := s.repomanager.Files(s.db).GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}

	key := GetRandomStorageKey(f.OwnerID)
	if err := s.store.put(ctx, key, body); err != nil {
		return nil, fmt.Errorf("error storing object: %w", err)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.UploadTokens(tx).MarkUsed(ctx, token); err != nil {
			return err
		}
		return s.repomanager.Files(tx).MarkCompleted(ctx, fileID, sum, key)
	})
	if err != nil {
		if delErr := s.store.delete(ctx, key); delErr != nil {
			s.log.Warn(ctx, "orphaned vault object", "file_id", fileID, "key", key, "error", delErr)
		}
		return nil, err
	}

	f.Checksum, f.StorageKey, f.UploadStatus = sum, key, models.UploadCompleted
	s.log.Info(ctx, "vault upload completed", "file_id", fileID, "size", len(body))
	return f, nil
}

// DownloadURL returns a short lived presigned URL for a file the user may
// read, and counts the download.
func (s *VaultService) DownloadURL(ctx context.Context, userID, fileID string) (*DownloadGrant, error) {
	repo := s.repomanager.Files(s.db)

	f, err := repo.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f.UploadStatus != models.UploadCompleted || s.expired(f) {
		return nil, common.ErrorNotFound
	}
	if err := s.canRead(ctx, f, userID); err != nil {
		return nil, err
	}

	validity := s.config.DownloadURLValidityDuration
	url, err := s.store.presignGet(ctx, f.StorageKey, validity)
	if err != nil {
		return nil, fmt.Errorf("error presigning download: %w", err)
	}
	if err := repo.IncrementDownloadCount(ctx, fileID); err != nil {
		return nil, err
	}

	return &DownloadGrant{URL: url, Checksum: f.Checksum, ExpiresAt: s.now().Add(validity)}, nil
}

// ListFiles lists the user's own files or, with a conversation id, the files
// visible to the user in that conversation.
func (s *VaultService) ListFiles(ctx context.Context, userID, conversationID string, limit, offset int) ([]*models.VaultFile, error) {
	switch {
	case limit <= 0:
		limit = DefaultFileListLimit
	case limit > MaxFileListLimit:
		limit = MaxFileListLimit
	}
	if offset < 0 {
		offset = 0
	}

	filter := files.ListFilter{OwnerID: userID, Limit: limit, Offset: offset}
	if conversationID != "" {
		if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
			return nil, err
		}
		filter.ConversationID = conversationID
	}

	list, err := s.repomanager.Files(s.db).List(ctx, filter)
	if err != nil {
		return nil, err
	}

	out := make([]*models.VaultFile, 0, len(list))
	for _, f := range list {
		if s.expired(f) {
			continue
		}
		if f.OwnerID != userID && f.AccessLevel == dto.AccessPrivate {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// DeleteFile soft deletes a file owned by userID and drops its blob.
// Deleting a file twice succeeds.
func (s *VaultService) DeleteFile(ctx context.Context, userID, fileID string) error {
	repo := s.repomanager.Files(s.db)

	f, err := repo.GetByID(ctx, fileID)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		// Already deleted by its owner, or never existed.
		return repo.SoftDelete(ctx, fileID, userID)
	case err != nil:
		return err
	case f.OwnerID != userID:
		return common.ErrAccessDenied
	}

	if err := repo.SoftDelete(ctx, fileID, userID); err != nil {
		return err
	}
	if f.StorageKey != "" {
		if err := s.store.delete(ctx, f.StorageKey); err != nil {
			s.log.Warn(ctx, "failed to delete vault object", "file_id", fileID, "error", err)
		}
	}
	return nil
}

func (s *VaultService) canRead(ctx context.Context, f *models.VaultFile, userID string) error {
	if f.OwnerID == userID || f.AccessLevel == dto.AccessPublic {
		return nil
	}
	if f.AccessLevel == dto.AccessConversation && f.ConversationID != "" {
		ok, err := s.repomanager.Conversations(s.db).IsParticipant(ctx, f.ConversationID, userID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return common.ErrAccessDenied
}

func (s *VaultService) expired(f *models.VaultFile) bool {
	return f.ExpiresAt != nil && !s.now().Before(*f.ExpiresAt)
}

func (s *VaultService) requireParticipant(ctx context.Context, conversationID, userID string) error {
	ok, err := s.repomanager.Conversations(s.db).IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrNotParticipant
	}
	return nil
}
