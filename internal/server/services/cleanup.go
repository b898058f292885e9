package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/circle/internal/logging"
	sc "github.com/dmitrijs2005/circle/internal/server/config"
	"github.com/dmitrijs2005/circle/internal/server/repositories/repomanager"
)

const expiredFileBatch = 100

// CleanupReport counts the rows removed by one cleanup cycle.
type CleanupReport struct {
	Messages       int64
	Tokens         int64
	AbandonedFiles int64
	ExpiredFiles   int64
}

// CleanupService periodically removes expired messages, upload tokens and
// vault files together with their stored objects.
type CleanupService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       *objectStore
	log         logging.Logger
	now         func() time.Time
}

func NewCleanupService(db *sql.DB, m repomanager.RepositoryManager, cfg *sc.Config, log logging.Logger) *CleanupService {
	return &CleanupService{
		db:          db,
		repomanager: m,
		store:       &objectStore{config: cfg},
		log:         log,
		now:         time.Now,
	}
}

// Run performs a cleanup cycle every interval until ctx is cancelled.
func (s *CleanupService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error(ctx, "cleanup failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single cleanup cycle.
func (s *CleanupService) RunOnce(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport
	now := s.now()

	n, err := s.repomanager.Messages(s.db).DeleteExpired(ctx, now)
	if err != nil {
		return report, err
	}
	report.Messages = n

	n, err = s.repomanager.Files(s.db).DeleteAbandoned(ctx, now)
	if err != nil {
		return report, err
	}
	report.AbandonedFiles = n

	n, err = s.repomanager.UploadTokens(s.db).DeleteExpired(ctx, now)
	if err != nil {
		return report, err
	}
	report.Tokens = n

	n, err = s.purgeExpiredFiles(ctx, now)
	report.ExpiredFiles = n
	if err != nil {
		return report, err
	}

	if report != (CleanupReport{}) {
		s.log.Info(ctx, "cleanup done",
			"messages", report.Messages,
			"tokens", report.Tokens,
			"abandoned_files", report.AbandonedFiles,
			"expired_files", report.ExpiredFiles)
	}
	return report, nil
}

// purgeExpiredFiles removes the object of every expired file before its
// record. A file whose object cannot be deleted is kept for the next cycle.
func (s *CleanupService) purgeExpiredFiles(ctx context.Context, now time.Time) (int64, error) {
	repo := s.repomanager.Files(s.db)
	expired, err := repo.ListExpired(ctx, now, expiredFileBatch)
	if err != nil {
		return 0, err
	}

	var purged int64
	for _, f := range expired {
		if f.StorageKey != "" {
			if err := s.store.delete(ctx, f.StorageKey); err != nil {
				s.log.Warn(ctx, "failed to delete expired vault object", "file_id", f.ID, "error", err)
				continue
			}
		}
		if err := repo.Purge(ctx, f.ID); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}
