package repositories

import (
	"context"
	"time"

	"github.com/AbdelrhmanX7/memorly-server/models"

	"gorm.io/gorm"
)

type GormUploadSessionRepository struct {
	db *gorm.DB
}

func NewGormUploadSessionRepository(db *gorm.DB) *GormUploadSessionRepository {
	return &GormUploadSessionRepository{db: db}
}

func (r *GormUploadSessionRepository) Create(_ context.Context, tx *gorm.DB, session *models.UploadSession) error {
	return useTx(r.db, tx).Create(session).Error
}

func (r *GormUploadSessionRepository) GetByUploadID(_ context.Context, tx *gorm.DB, uploadID string) (models.UploadSession, error) {
	var session models.UploadSession
	err := useTx(r.db, tx).Where("upload_id = ?", uploadID).First(&session).Error
	return session, err
}

func (r *GormUploadSessionRepository) UpdateStatusIf(_ context.Context, tx *gorm.DB, uploadID string, from []string, to string) (bool, error) {
	res := useTx(r.db, tx).Model(&models.UploadSession{}).
		Where("upload_id = ? AND status IN ?", uploadID, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormUploadSessionRepository) ListExpiredPending(_ context.Context, tx *gorm.DB, now time.Time) ([]models.UploadSession, error) {
	var sessions []models.UploadSession
	err := useTx(r.db, tx).
		Where("expires_at < ? AND status IN ?", now, []string{models.UploadStatusInitiated, models.UploadStatusUploading}).
		Find(&sessions).Error
	return sessions, err
}

func (r *GormUploadSessionRepository) DeleteByUploadID(_ context.Context, tx *gorm.DB, uploadID string) error {
	return useTx(r.db, tx).Where("upload_id = ?", uploadID).Delete(&models.UploadSession{}).Error
}
