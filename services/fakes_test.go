package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/AbdelrhmanX7/memorly-server/config"
	"github.com/AbdelrhmanX7/memorly-server/models"
	"github.com/AbdelrhmanX7/memorly-server/storage"

	"gorm.io/gorm"
)

func setTestConfig() {
	config.AppConfig = &config.Config{
		Upload: config.UploadConfig{
			ChunkSize:         5 * 1024 * 1024,
			MaxObjectSize:     10 * 1024 * 1024 * 1024,
			SessionExpireHrs:  24,
			AllowedMediaTypes: []string{"video/mp4", "image/png", "application/octet-stream"},
			CompleteRetryMax:  1,
		},
		Redis:   config.RedisConfig{ProgressExpire: 86400},
		Cleanup: config.CleanupConfig{IntervalHours: 6},
	}
}

type fakeTxManager struct{}

func (fakeTxManager) WithTransaction(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeUserRepo struct {
	mu               sync.Mutex
	usersByID        map[uint]models.User
	addStorageDeltas []int64
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{usersByID: map[uint]models.User{}}
}

func (r *fakeUserRepo) GetByID(_ context.Context, _ *gorm.DB, userID uint) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.usersByID[userID]
	if !ok {
		return models.User{}, gorm.ErrRecordNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) AddStorageUsed(_ context.Context, _ *gorm.DB, userID uint, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.usersByID[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	user.StorageUsed += delta
	r.usersByID[userID] = user
	r.addStorageDeltas = append(r.addStorageDeltas, delta)
	return nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]models.UploadSession
	nextID   uint
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[string]models.UploadSession{}, nextID: 1}
}

func (r *fakeSessionRepo) Create(_ context.Context, _ *gorm.DB, session *models.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session.ID == 0 {
		session.ID = r.nextID
		r.nextID++
	}
	r.sessions[session.UploadID] = *session
	return nil
}

func (r *fakeSessionRepo) GetByUploadID(_ context.Context, _ *gorm.DB, uploadID string) (models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[uploadID]
	if !ok {
		return models.UploadSession{}, gorm.ErrRecordNotFound
	}
	return session, nil
}

func (r *fakeSessionRepo) UpdateStatusIf(_ context.Context, _ *gorm.DB, uploadID string, from []string, to string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[uploadID]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if session.Status == status {
			session.Status = to
			r.sessions[uploadID] = session
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeSessionRepo) ListExpiredPending(_ context.Context, _ *gorm.DB, now time.Time) ([]models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.UploadSession, 0)
	for _, session := range r.sessions {
		if session.ExpiresAt.Before(now) &&
			(session.Status == models.UploadStatusInitiated || session.Status == models.UploadStatusUploading) {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadID < out[j].UploadID })
	return out, nil
}

func (r *fakeSessionRepo) DeleteByUploadID(_ context.Context, _ *gorm.DB, uploadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, uploadID)
	return nil
}

type fakePartRepo struct {
	mu    sync.Mutex
	parts map[string]map[int]models.UploadPart
}

func newFakePartRepo() *fakePartRepo {
	return &fakePartRepo{parts: map[string]map[int]models.UploadPart{}}
}

func (r *fakePartRepo) Create(_ context.Context, _ *gorm.DB, part *models.UploadPart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.parts[part.SessionID]; !ok {
		r.parts[part.SessionID] = map[int]models.UploadPart{}
	}
	if _, ok := r.parts[part.SessionID][part.PartNumber]; ok {
		return gorm.ErrDuplicatedKey
	}
	r.parts[part.SessionID][part.PartNumber] = *part
	return nil
}

func (r *fakePartRepo) UpdateRecorded(_ context.Context, _ *gorm.DB, sessionID string, partNumber int, etag string, size int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	part, ok := r.parts[sessionID][partNumber]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	part.ETag = etag
	part.Size = size
	r.parts[sessionID][partNumber] = part
	return nil
}

func (r *fakePartRepo) GetBySessionAndNumber(_ context.Context, _ *gorm.DB, sessionID string, partNumber int) (models.UploadPart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	part, ok := r.parts[sessionID][partNumber]
	if !ok {
		return models.UploadPart{}, gorm.ErrRecordNotFound
	}
	return part, nil
}

func (r *fakePartRepo) ListBySession(_ context.Context, _ *gorm.DB, sessionID string) ([]models.UploadPart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.UploadPart, 0, len(r.parts[sessionID]))
	for _, part := range r.parts[sessionID] {
		out = append(out, part)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartNumber < out[j].PartNumber })
	return out, nil
}

func (r *fakePartRepo) CountBySession(_ context.Context, _ *gorm.DB, sessionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.parts[sessionID])), nil
}

func (r *fakePartRepo) DeleteBySession(_ context.Context, _ *gorm.DB, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.parts, sessionID)
	return nil
}

type fakeMediaRepo struct {
	mu      sync.Mutex
	created []models.MediaFile
	nextID  uint
}

func newFakeMediaRepo() *fakeMediaRepo {
	return &fakeMediaRepo{nextID: 1}
}

func (r *fakeMediaRepo) Create(_ context.Context, _ *gorm.DB, file *models.MediaFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if file.ID == 0 {
		file.ID = r.nextID
		r.nextID++
	}
	r.created = append(r.created, *file)
	return nil
}

type fakeProgressRepo struct {
	mu           sync.Mutex
	parts        map[string]map[int]struct{}
	isPartErr    error
	addPartErr   error
	countErr     error
	clearedCount int
}

func newFakeProgressRepo() *fakeProgressRepo {
	return &fakeProgressRepo{parts: map[string]map[int]struct{}{}}
}

func (r *fakeProgressRepo) IsPartRecorded(_ context.Context, uploadID string, partNumber int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isPartErr != nil {
		return false, r.isPartErr
	}
	_, ok := r.parts[uploadID][partNumber]
	return ok, nil
}

func (r *fakeProgressRepo) AddPart(_ context.Context, uploadID string, partNumber int, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addPartErr != nil {
		return r.addPartErr
	}
	if _, ok := r.parts[uploadID]; !ok {
		r.parts[uploadID] = map[int]struct{}{}
	}
	r.parts[uploadID][partNumber] = struct{}{}
	return nil
}

func (r *fakeProgressRepo) RecordedCount(_ context.Context, uploadID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.countErr != nil {
		return 0, r.countErr
	}
	return int64(len(r.parts[uploadID])), nil
}

func (r *fakeProgressRepo) Clear(_ context.Context, uploadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.parts, uploadID)
	r.clearedCount++
	return nil
}

type fakeObjectStore struct {
	mu          sync.Mutex
	nextUpload  int
	sessionKeys map[string]string
	uploadCalls int
	completed   map[string][]storage.CompletedPart
	aborted     []string

	createErr   error
	uploadErr   error
	completeErr error
	abortErr    error
	abortErrFor string // abortErr applies to this upload id only when set

	// When set, every physical part upload signals uploadEntered and then
	// blocks until uploadRelease is closed.
	uploadEntered chan struct{}
	uploadRelease chan struct{}
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{
		sessionKeys: map[string]string{},
		completed:   map[string][]storage.CompletedPart{},
	}
}

func (s *fakeObjectStore) CreateSession(_ context.Context, key string, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", s.createErr
	}
	s.nextUpload++
	uploadID := fmt.Sprintf("upload-%d", s.nextUpload)
	s.sessionKeys[uploadID] = key
	return uploadID, nil
}

func (s *fakeObjectStore) UploadPart(_ context.Context, _ string, uploadID string, partNumber int, body io.Reader, _ int64) (string, error) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	if s.uploadEntered != nil {
		s.uploadEntered <- struct{}{}
		<-s.uploadRelease
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	if _, ok := s.sessionKeys[uploadID]; !ok {
		return "", errors.New("unknown upload session")
	}
	s.uploadCalls++
	return fmt.Sprintf("etag-%s-%d-%d", uploadID, partNumber, s.uploadCalls), nil
}

func (s *fakeObjectStore) CompleteSession(_ context.Context, key string, uploadID string, parts []storage.CompletedPart) (storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return storage.ObjectInfo{}, s.completeErr
	}
	for i := 1; i < len(parts); i++ {
		if parts[i].PartNumber <= parts[i-1].PartNumber {
			return storage.ObjectInfo{}, errors.New("parts not in ascending order")
		}
	}
	s.completed[uploadID] = parts
	return storage.ObjectInfo{StorageKey: key, ETag: "final-" + uploadID, URL: "https://cdn.test/" + key}, nil
}

func (s *fakeObjectStore) AbortSession(_ context.Context, _ string, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abortErr != nil && (s.abortErrFor == "" || s.abortErrFor == uploadID) {
		return s.abortErr
	}
	s.aborted = append(s.aborted, uploadID)
	return nil
}

type uploadFixture struct {
	users    *fakeUserRepo
	sessions *fakeSessionRepo
	parts    *fakePartRepo
	media    *fakeMediaRepo
	progress *fakeProgressRepo
	store    *fakeObjectStore
	svc      UploadService
}

func newUploadFixture() *uploadFixture {
	setTestConfig()
	f := &uploadFixture{
		users:    newFakeUserRepo(),
		sessions: newFakeSessionRepo(),
		parts:    newFakePartRepo(),
		media:    newFakeMediaRepo(),
		progress: newFakeProgressRepo(),
		store:    newFakeObjectStore(),
	}
	f.users.usersByID[1] = models.User{ID: 1, Username: "alice", StorageQuota: 1 << 40}
	f.svc = NewUploadService(fakeTxManager{}, f.users, f.sessions, f.parts, f.media, f.progress, f.store)
	return f
}
