package repositories

import (
	"context"
	"time"

	"github.com/AbdelrhmanX7/memorly-server/models"

	"gorm.io/gorm"
)

type TxManager interface {
	WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type UserRepository interface {
	GetByID(ctx context.Context, tx *gorm.DB, userID uint) (models.User, error)
	AddStorageUsed(ctx context.Context, tx *gorm.DB, userID uint, delta int64) error
}

type UploadSessionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, session *models.UploadSession) error
	GetByUploadID(ctx context.Context, tx *gorm.DB, uploadID string) (models.UploadSession, error)
	// UpdateStatusIf transitions the session to status only when its current
	// status is one of from. Returns false when no row matched.
	UpdateStatusIf(ctx context.Context, tx *gorm.DB, uploadID string, from []string, to string) (bool, error)
	ListExpiredPending(ctx context.Context, tx *gorm.DB, now time.Time) ([]models.UploadSession, error)
	DeleteByUploadID(ctx context.Context, tx *gorm.DB, uploadID string) error
}

type UploadPartRepository interface {
	Create(ctx context.Context, tx *gorm.DB, part *models.UploadPart) error
	// UpdateRecorded repoints an existing part row at a newer physical
	// upload of the same part number.
	UpdateRecorded(ctx context.Context, tx *gorm.DB, sessionID string, partNumber int, etag string, size int64) error
	GetBySessionAndNumber(ctx context.Context, tx *gorm.DB, sessionID string, partNumber int) (models.UploadPart, error)
	ListBySession(ctx context.Context, tx *gorm.DB, sessionID string) ([]models.UploadPart, error)
	CountBySession(ctx context.Context, tx *gorm.DB, sessionID string) (int64, error)
	DeleteBySession(ctx context.Context, tx *gorm.DB, sessionID string) error
}

type MediaFileRepository interface {
	Create(ctx context.Context, tx *gorm.DB, file *models.MediaFile) error
}

// PartProgressRepository is the Redis fast-path mirror of recorded parts.
// The database rows stay authoritative; callers fall back to them on a miss.
type PartProgressRepository interface {
	IsPartRecorded(ctx context.Context, uploadID string, partNumber int) (bool, error)
	AddPart(ctx context.Context, uploadID string, partNumber int, expireSeconds int) error
	RecordedCount(ctx context.Context, uploadID string) (int64, error)
	Clear(ctx context.Context, uploadID string) error
}

type Container struct {
	TxManager    TxManager
	Users        UserRepository
	Sessions     UploadSessionRepository
	Parts        UploadPartRepository
	MediaFiles   MediaFileRepository
	PartProgress PartProgressRepository
}
