package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AbdelrhmanX7/memorly-server/config"
	"github.com/AbdelrhmanX7/memorly-server/logger"
	"github.com/AbdelrhmanX7/memorly-server/models"
	"github.com/AbdelrhmanX7/memorly-server/repositories"
	"github.com/AbdelrhmanX7/memorly-server/storage"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

type InitiateUploadInput struct {
	OriginalName string
	MimeType     string
	TotalSize    int64
	TotalChunks  int
}

type InitiateUploadOutput struct {
	UploadID   string `json:"uploadId"`
	StorageKey string `json:"storageKey"`
	ChunkSize  int64  `json:"chunkSize"`
}

type UploadPartOutput struct {
	PartNumber     int    `json:"partNumber"`
	Checksum       string `json:"checksum"`
	UploadedChunks int    `json:"uploadedChunks"`
	TotalChunks    int    `json:"totalChunks"`
}

type CompleteUploadOutput struct {
	FinalURL   string `json:"finalUrl"`
	FinalSize  int64  `json:"finalSize"`
	StorageKey string `json:"storageKey"`
}

type PartSnapshot struct {
	PartNumber int   `json:"partNumber"`
	Size       int64 `json:"size"`
}

type UploadStatusOutput struct {
	UploadID       string         `json:"uploadId"`
	StorageKey     string         `json:"storageKey"`
	TotalSize      int64          `json:"totalSize"`
	TotalChunks    int            `json:"totalChunks"`
	UploadedChunks int            `json:"uploadedChunks"`
	Status         string         `json:"status"`
	Parts          []PartSnapshot `json:"parts"`
	ExpiresAt      time.Time      `json:"expiresAt"`
}

type UploadService interface {
	InitiateUpload(ctx context.Context, userID uint, in InitiateUploadInput) (InitiateUploadOutput, error)
	UploadPart(ctx context.Context, userID uint, uploadID string, partNumber int, body io.Reader, size int64) (UploadPartOutput, error)
	CompleteUpload(ctx context.Context, userID uint, uploadID string) (CompleteUploadOutput, error)
	AbortUpload(ctx context.Context, userID uint, uploadID string) error
	GetUploadStatus(ctx context.Context, userID uint, uploadID string) (UploadStatusOutput, error)
}

type uploadService struct {
	txManager TxManager
	users     repositories.UserRepository
	sessions  repositories.UploadSessionRepository
	parts     repositories.UploadPartRepository
	media     repositories.MediaFileRepository
	progress  repositories.PartProgressRepository
	store     storage.ObjectStore

	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex
	partFlights  singleflight.Group
}

func NewUploadService(
	txManager TxManager,
	users repositories.UserRepository,
	sessions repositories.UploadSessionRepository,
	parts repositories.UploadPartRepository,
	media repositories.MediaFileRepository,
	progress repositories.PartProgressRepository,
	store storage.ObjectStore,
) UploadService {
	return &uploadService{
		txManager:    txManager,
		users:        users,
		sessions:     sessions,
		parts:        parts,
		media:        media,
		progress:     progress,
		store:        store,
		sessionLocks: make(map[string]*sync.Mutex),
	}
}

// sessionLock serializes session mutation per upload id. Uploads to
// different sessions proceed fully in parallel.
func (s *uploadService) sessionLock(uploadID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.sessionLocks[uploadID]
	if !ok {
		lock = &sync.Mutex{}
		s.sessionLocks[uploadID] = lock
	}
	return lock
}

func (s *uploadService) releaseSessionLock(uploadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessionLocks, uploadID)
}

func isMediaTypeAllowed(mimeType string) bool {
	for _, allowed := range config.AppConfig.Upload.AllowedMediaTypes {
		if strings.EqualFold(allowed, mimeType) {
			return true
		}
	}
	return false
}

func newStorageKey(userID uint, originalName string) string {
	now := time.Now()
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	if strings.ContainsAny(ext, "/\\") || len(ext) > 10 {
		ext = ""
	}
	return fmt.Sprintf("uploads/%d/%s/%s%s", userID, now.Format("2006/01"), uuid.New().String(), ext)
}

func expectedChunks(totalSize int64, chunkSize int64) int {
	return int((totalSize + chunkSize - 1) / chunkSize)
}

func (s *uploadService) InitiateUpload(ctx context.Context, userID uint, in InitiateUploadInput) (InitiateUploadOutput, error) {
	cfg := config.AppConfig.Upload

	if in.OriginalName == "" || in.TotalSize <= 0 || in.TotalChunks <= 0 {
		return InitiateUploadOutput{}, newAppError(http.StatusBadRequest, CodeInvalidRequest, "invalid upload parameters", nil)
	}
	if !isMediaTypeAllowed(in.MimeType) {
		return InitiateUploadOutput{}, newAppError(http.StatusBadRequest, CodeInvalidMediaType, "media type not allowed: "+in.MimeType, nil)
	}
	if in.TotalSize > cfg.MaxObjectSize {
		return InitiateUploadOutput{}, newAppError(http.StatusBadRequest, CodeSizeExceeded,
			fmt.Sprintf("object size %d exceeds maximum %d", in.TotalSize, cfg.MaxObjectSize), nil)
	}
	if in.TotalSize <= cfg.ChunkSize && in.TotalChunks > 1 {
		return InitiateUploadOutput{}, newAppError(http.StatusBadRequest, CodeInvalidRequest,
			"object fits in a single chunk, chunked upload not applicable", nil)
	}
	if in.TotalChunks != expectedChunks(in.TotalSize, cfg.ChunkSize) {
		return InitiateUploadOutput{}, newAppError(http.StatusBadRequest, CodeInvalidRequest,
			fmt.Sprintf("declared chunk count %d does not match size %d at chunk size %d", in.TotalChunks, in.TotalSize, cfg.ChunkSize), nil)
	}

	user, err := s.users.GetByID(ctx, nil, userID)
	if err != nil {
		return InitiateUploadOutput{}, newAppError(http.StatusInternalServerError, CodeInternalError, "load user", err)
	}
	if user.StorageUsed+in.TotalSize > user.StorageQuota {
		return InitiateUploadOutput{}, newAppErrorWithData(http.StatusBadRequest, CodeQuotaExceeded, "storage quota exceeded", map[string]interface{}{
			"storage_quota":   user.StorageQuota,
			"storage_used":    user.StorageUsed,
			"available_space": user.StorageQuota - user.StorageUsed,
			"required_space":  in.TotalSize,
		}, nil)
	}

	storageKey := newStorageKey(userID, in.OriginalName)
	uploadID, err := s.store.CreateSession(ctx, storageKey, in.MimeType)
	if err != nil {
		return InitiateUploadOutput{}, newAppError(http.StatusServiceUnavailable, CodeStoreUnavailable, "object store unavailable", err)
	}

	session := models.UploadSession{
		UploadID:     uploadID,
		UserID:       userID,
		StorageKey:   storageKey,
		OriginalName: filepath.Base(in.OriginalName),
		MimeType:     in.MimeType,
		DeclaredSize: in.TotalSize,
		TotalParts:   in.TotalChunks,
		Status:       models.UploadStatusInitiated,
		ExpiresAt:    time.Now().Add(time.Duration(cfg.SessionExpireHrs) * time.Hour),
	}
	if err := s.sessions.Create(ctx, nil, &session); err != nil {
		if abortErr := s.store.AbortSession(ctx, storageKey, uploadID); abortErr != nil {
			logger.Debugf("abort orphaned session %s: %v", uploadID, abortErr)
		}
		return InitiateUploadOutput{}, newAppError(http.StatusInternalServerError, CodeInternalError, "persist upload session", err)
	}

	return InitiateUploadOutput{UploadID: uploadID, StorageKey: storageKey, ChunkSize: cfg.ChunkSize}, nil
}

// loadOwnedSession resolves a session for userID, translating lookup
// failures into the error taxonomy. An expired non-terminal session is
// reported as not found so the client restarts from initiate.
func (s *uploadService) loadOwnedSession(ctx context.Context, tx *gorm.DB, userID uint, uploadID string) (models.UploadSession, *AppError) {
	session, err := s.sessions.GetByUploadID(ctx, tx, uploadID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.UploadSession{}, newAppError(http.StatusNotFound, CodeSessionNotFound, "upload session not found", nil)
		}
		return models.UploadSession{}, newAppError(http.StatusInternalServerError, CodeInternalError, "load upload session", err)
	}
	if session.UserID != userID {
		return models.UploadSession{}, newAppError(http.StatusForbidden, CodeForbidden, "upload session belongs to another user", nil)
	}
	if !session.IsTerminal() && time.Now().After(session.ExpiresAt) {
		return models.UploadSession{}, newAppError(http.StatusNotFound, CodeSessionNotFound, "upload session expired", nil)
	}
	return session, nil
}

func (s *uploadService) partOutput(ctx context.Context, session models.UploadSession, part models.UploadPart) (UploadPartOutput, error) {
	// The Redis mirror serves the count fast path; an empty or unreachable
	// mirror falls back to the authoritative rows.
	count, err := s.progress.RecordedCount(ctx, session.UploadID)
	if err != nil || count == 0 {
		count, err = s.parts.CountBySession(ctx, nil, session.UploadID)
		if err != nil {
			return UploadPartOutput{}, newAppError(http.StatusInternalServerError, CodeInternalError, "count uploaded parts", err)
		}
	}
	return UploadPartOutput{
		PartNumber:     part.PartNumber,
		Checksum:       part.ETag,
		UploadedChunks: int(count),
		TotalChunks:    session.TotalParts,
	}, nil
}

func (s *uploadService) UploadPart(ctx context.Context, userID uint, uploadID string, partNumber int, body io.Reader, size int64) (UploadPartOutput, error) {
	session, appErr := s.loadOwnedSession(ctx, nil, userID, uploadID)
	if appErr != nil {
		return UploadPartOutput{}, appErr
	}
	if session.IsTerminal() {
		return UploadPartOutput{}, newAppError(http.StatusConflict, CodeSessionTerminal, "upload session is "+session.Status, nil)
	}
	if partNumber < 1 || partNumber > session.TotalParts {
		return UploadPartOutput{}, newAppError(http.StatusBadRequest, CodePartOutOfRange,
			fmt.Sprintf("part number %d outside [1, %d]", partNumber, session.TotalParts), nil)
	}

	// Idempotency fast path: a part number the Redis mirror already knows
	// returns the recorded result without touching the object store.
	if recorded, err := s.progress.IsPartRecorded(ctx, uploadID, partNumber); err == nil && recorded {
		if part, err := s.parts.GetBySessionAndNumber(ctx, nil, uploadID, partNumber); err == nil {
			return s.partOutput(ctx, session, part)
		}
	}

	// Concurrent calls for the same part number collapse onto one physical
	// upload; losers receive the winner's recorded result. At most one
	// transfer per part number reaches the store.
	flightKey := fmt.Sprintf("%s/%d", uploadID, partNumber)
	v, err, _ := s.partFlights.Do(flightKey, func() (interface{}, error) {
		out, err := s.transferPart(ctx, userID, session, partNumber, body, size)
		if err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return UploadPartOutput{}, err
	}
	return v.(UploadPartOutput), nil
}

// transferPart runs inside the per-part flight: the authoritative duplicate
// check, the byte transfer, and the append. The transfer itself runs without
// the session lock; only the append is serialized.
func (s *uploadService) transferPart(ctx context.Context, userID uint, session models.UploadSession, partNumber int, body io.Reader, size int64) (UploadPartOutput, error) {
	uploadID := session.UploadID

	// The database rows are authoritative: a flight that started after an
	// earlier one finished finds the recorded part here and never re-uploads.
	if part, err := s.parts.GetBySessionAndNumber(ctx, nil, uploadID, partNumber); err == nil {
		return s.partOutput(ctx, session, part)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return UploadPartOutput{}, newAppError(http.StatusInternalServerError, CodeInternalError, "check recorded part", err)
	}

	etag, err := s.store.UploadPart(ctx, session.StorageKey, uploadID, partNumber, body, size)
	if err != nil {
		return UploadPartOutput{}, newAppError(http.StatusServiceUnavailable, CodeStoreUnavailable, "object store unavailable", err)
	}

	lock := s.sessionLock(uploadID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: an abort may have won the race while the
	// bytes were in flight. Its store-side release covers this part.
	session, appErr := s.loadOwnedSession(ctx, nil, userID, uploadID)
	if appErr != nil {
		return UploadPartOutput{}, appErr
	}
	if session.IsTerminal() {
		return UploadPartOutput{}, newAppError(http.StatusConflict, CodeSessionTerminal, "upload session is "+session.Status, nil)
	}

	part := models.UploadPart{
		SessionID:  uploadID,
		PartNumber: partNumber,
		ETag:       etag,
		Size:       size,
	}
	if err := s.parts.Create(ctx, nil, &part); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Another instance recorded this part number first. The store
			// keeps one object per part number and this transfer was the
			// later write, so the row is repointed at the surviving etag.
			if updErr := s.parts.UpdateRecorded(ctx, nil, uploadID, partNumber, etag, size); updErr != nil {
				return UploadPartOutput{}, newAppError(http.StatusInternalServerError, CodeInternalError, "record uploaded part", updErr)
			}
			return s.partOutput(ctx, session, part)
		}
		return UploadPartOutput{}, newAppError(http.StatusInternalServerError, CodeInternalError, "record uploaded part", err)
	}

	if _, err := s.sessions.UpdateStatusIf(ctx, nil, uploadID,
		[]string{models.UploadStatusInitiated}, models.UploadStatusUploading); err != nil {
		return UploadPartOutput{}, newAppError(http.StatusInternalServerError, CodeInternalError, "update session status", err)
	}

	if err := s.progress.AddPart(ctx, uploadID, partNumber, config.AppConfig.Redis.ProgressExpire); err != nil {
		logger.Debugf("record part progress %s/%d: %v", uploadID, partNumber, err)
	}

	return s.partOutput(ctx, session, part)
}

func missingPartNumbers(parts []models.UploadPart, totalParts int) []int {
	present := make(map[int]bool, len(parts))
	for _, p := range parts {
		present[p.PartNumber] = true
	}
	var missing []int
	for n := 1; n <= totalParts; n++ {
		if !present[n] {
			missing = append(missing, n)
		}
	}
	return missing
}

func (s *uploadService) CompleteUpload(ctx context.Context, userID uint, uploadID string) (CompleteUploadOutput, error) {
	if _, appErr := s.loadOwnedSession(ctx, nil, userID, uploadID); appErr != nil {
		return CompleteUploadOutput{}, appErr
	}

	lock := s.sessionLock(uploadID)
	lock.Lock()
	defer lock.Unlock()

	// The completeness check and the merge instruction derive from a
	// single read taken under the session lock.
	session, appErr := s.loadOwnedSession(ctx, nil, userID, uploadID)
	if appErr != nil {
		return CompleteUploadOutput{}, appErr
	}
	switch session.Status {
	case models.UploadStatusCompleted:
		return CompleteUploadOutput{}, newAppError(http.StatusConflict, CodeAlreadyCompleted, "upload already completed", nil)
	case models.UploadStatusAborted, models.UploadStatusFailed:
		return CompleteUploadOutput{}, newAppError(http.StatusConflict, CodeSessionTerminal, "upload session is "+session.Status, nil)
	}

	recorded, err := s.parts.ListBySession(ctx, nil, uploadID)
	if err != nil {
		return CompleteUploadOutput{}, newAppError(http.StatusInternalServerError, CodeInternalError, "load uploaded parts", err)
	}
	if missing := missingPartNumbers(recorded, session.TotalParts); len(missing) > 0 {
		return CompleteUploadOutput{}, newAppErrorWithData(http.StatusBadRequest, CodeIncompleteUpload,
			fmt.Sprintf("upload incomplete: %d of %d parts received", len(recorded), session.TotalParts),
			map[string]interface{}{"missing_parts": missing}, nil)
	}

	sort.Slice(recorded, func(i, j int) bool { return recorded[i].PartNumber < recorded[j].PartNumber })
	completed := make([]storage.CompletedPart, 0, len(recorded))
	var finalSize int64
	for _, p := range recorded {
		completed = append(completed, storage.CompletedPart{PartNumber: p.PartNumber, ETag: p.ETag})
		finalSize += p.Size
	}

	info, err := s.completeWithRetry(ctx, session, completed)
	if err != nil {
		if storage.IsUnrecoverable(err) {
			if _, markErr := s.sessions.UpdateStatusIf(ctx, nil, uploadID,
				[]string{models.UploadStatusInitiated, models.UploadStatusUploading}, models.UploadStatusFailed); markErr != nil {
				logger.Debugf("mark session %s failed: %v", uploadID, markErr)
			}
			return CompleteUploadOutput{}, newAppError(http.StatusInternalServerError, CodeInternalError, "object store rejected completion", err)
		}
		// Transient failure: the session stays non-terminal and the client
		// may retry completion.
		return CompleteUploadOutput{}, newAppError(http.StatusServiceUnavailable, CodeStoreUnavailable, "object store unavailable", err)
	}

	record := models.MediaFile{
		UserID:       userID,
		OriginalName: session.OriginalName,
		StorageKey:   session.StorageKey,
		Size:         finalSize,
		MimeType:     session.MimeType,
		ETag:         info.ETag,
		URL:          info.URL,
	}
	err = s.txManager.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := s.media.Create(ctx, tx, &record); err != nil {
			return err
		}
		if err := s.users.AddStorageUsed(ctx, tx, userID, finalSize); err != nil {
			return err
		}
		ok, err := s.sessions.UpdateStatusIf(ctx, tx, uploadID,
			[]string{models.UploadStatusInitiated, models.UploadStatusUploading}, models.UploadStatusCompleted)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("session %s left non-terminal state during completion", uploadID)
		}
		return nil
	})
	if err != nil {
		return CompleteUploadOutput{}, newAppError(http.StatusInternalServerError, CodeInternalError, "record completed upload", err)
	}

	if err := s.progress.Clear(ctx, uploadID); err != nil {
		logger.Debugf("clear part progress %s: %v", uploadID, err)
	}
	s.releaseSessionLock(uploadID)

	return CompleteUploadOutput{FinalURL: info.URL, FinalSize: finalSize, StorageKey: session.StorageKey}, nil
}

func (s *uploadService) completeWithRetry(ctx context.Context, session models.UploadSession, parts []storage.CompletedPart) (storage.ObjectInfo, error) {
	attempts := uint64(config.AppConfig.Upload.CompleteRetryMax)
	op := func() (storage.ObjectInfo, error) {
		info, err := s.store.CompleteSession(ctx, session.StorageKey, session.UploadID, parts)
		if err != nil && storage.IsUnrecoverable(err) {
			return storage.ObjectInfo{}, backoff.Permanent(err)
		}
		return info, err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), attempts), ctx)
	return backoff.RetryWithData(op, policy)
}

func (s *uploadService) AbortUpload(ctx context.Context, userID uint, uploadID string) error {
	if _, appErr := s.loadOwnedSession(ctx, nil, userID, uploadID); appErr != nil {
		return appErr
	}

	lock := s.sessionLock(uploadID)
	lock.Lock()
	defer lock.Unlock()

	session, appErr := s.loadOwnedSession(ctx, nil, userID, uploadID)
	if appErr != nil {
		return appErr
	}
	switch session.Status {
	case models.UploadStatusCompleted:
		return newAppError(http.StatusConflict, CodeAlreadyCompleted, "completed upload cannot be aborted", nil)
	case models.UploadStatusAborted, models.UploadStatusFailed:
		// Aborting an already-terminal session is a no-op.
		return nil
	}

	if err := s.store.AbortSession(ctx, session.StorageKey, uploadID); err != nil {
		return newAppError(http.StatusServiceUnavailable, CodeStoreUnavailable, "object store unavailable", err)
	}
	if _, err := s.sessions.UpdateStatusIf(ctx, nil, uploadID,
		[]string{models.UploadStatusInitiated, models.UploadStatusUploading}, models.UploadStatusAborted); err != nil {
		return newAppError(http.StatusInternalServerError, CodeInternalError, "update session status", err)
	}
	if err := s.progress.Clear(ctx, uploadID); err != nil {
		logger.Debugf("clear part progress %s: %v", uploadID, err)
	}
	s.releaseSessionLock(uploadID)
	return nil
}

func (s *uploadService) GetUploadStatus(ctx context.Context, userID uint, uploadID string) (UploadStatusOutput, error) {
	session, appErr := s.loadOwnedSession(ctx, nil, userID, uploadID)
	if appErr != nil {
		return UploadStatusOutput{}, appErr
	}

	recorded, err := s.parts.ListBySession(ctx, nil, uploadID)
	if err != nil {
		return UploadStatusOutput{}, newAppError(http.StatusInternalServerError, CodeInternalError, "load uploaded parts", err)
	}

	parts := make([]PartSnapshot, 0, len(recorded))
	for _, p := range recorded {
		parts = append(parts, PartSnapshot{PartNumber: p.PartNumber, Size: p.Size})
	}

	return UploadStatusOutput{
		UploadID:       session.UploadID,
		StorageKey:     session.StorageKey,
		TotalSize:      session.DeclaredSize,
		TotalChunks:    session.TotalParts,
		UploadedChunks: len(parts),
		Status:         session.Status,
		Parts:          parts,
		ExpiresAt:      session.ExpiresAt,
	}, nil
}
