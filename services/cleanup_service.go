package services

import (
	"context"
	"log"
	"time"

	"github.com/AbdelrhmanX7/memorly-server/config"
	"github.com/AbdelrhmanX7/memorly-server/models"
	"github.com/AbdelrhmanX7/memorly-server/repositories"
	"github.com/AbdelrhmanX7/memorly-server/storage"
)

// CleanupService is the expiry reaper: it unwinds upload sessions whose
// deadline passed without the client completing or aborting them.
type CleanupService interface {
	Run(ctx context.Context)
	CleanExpiredSessions(ctx context.Context) (int, error)
}

type cleanupService struct {
	sessions repositories.UploadSessionRepository
	parts    repositories.UploadPartRepository
	progress repositories.PartProgressRepository
	store    storage.ObjectStore
}

func NewCleanupService(
	sessions repositories.UploadSessionRepository,
	parts repositories.UploadPartRepository,
	progress repositories.PartProgressRepository,
	store storage.ObjectStore,
) CleanupService {
	return &cleanupService{sessions: sessions, parts: parts, progress: progress, store: store}
}

func (s *cleanupService) Run(ctx context.Context) {
	interval := time.Duration(config.AppConfig.Cleanup.IntervalHours) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleaned, err := s.CleanExpiredSessions(ctx)
			if err != nil {
				log.Printf("expired session sweep failed: %v", err)
				continue
			}
			if cleaned > 0 {
				log.Printf("cleaned %d expired upload sessions", cleaned)
			}
		}
	}
}

// CleanExpiredSessions aborts every expired non-terminal session. Sessions
// are processed independently: one failure is logged and the sweep moves on.
func (s *cleanupService) CleanExpiredSessions(ctx context.Context) (int, error) {
	expired, err := s.sessions.ListExpiredPending(ctx, nil, time.Now())
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, session := range expired {
		if err := s.reapSession(ctx, session); err != nil {
			log.Printf("clean expired session %s: %v", session.UploadID, err)
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

func (s *cleanupService) reapSession(ctx context.Context, session models.UploadSession) error {
	if err := s.store.AbortSession(ctx, session.StorageKey, session.UploadID); err != nil {
		return err
	}
	if _, err := s.sessions.UpdateStatusIf(ctx, nil, session.UploadID,
		[]string{models.UploadStatusInitiated, models.UploadStatusUploading}, models.UploadStatusAborted); err != nil {
		return err
	}
	if err := s.progress.Clear(ctx, session.UploadID); err != nil {
		log.Printf("clear part progress %s: %v", session.UploadID, err)
	}

	if config.AppConfig.Cleanup.RetainAborted {
		return nil
	}
	if err := s.parts.DeleteBySession(ctx, nil, session.UploadID); err != nil {
		return err
	}
	return s.sessions.DeleteByUploadID(ctx, nil, session.UploadID)
}
