package repositories

import (
	"context"

	"github.com/AbdelrhmanX7/memorly-server/models"

	"gorm.io/gorm"
)

type GormUploadPartRepository struct {
	db *gorm.DB
}

func NewGormUploadPartRepository(db *gorm.DB) *GormUploadPartRepository {
	return &GormUploadPartRepository{db: db}
}

func (r *GormUploadPartRepository) Create(_ context.Context, tx *gorm.DB, part *models.UploadPart) error {
	return useTx(r.db, tx).Create(part).Error
}

func (r *GormUploadPartRepository) UpdateRecorded(_ context.Context, tx *gorm.DB, sessionID string, partNumber int, etag string, size int64) error {
	return useTx(r.db, tx).Model(&models.UploadPart{}).
		Where("session_id = ? AND part_number = ?", sessionID, partNumber).
		Updates(models.UploadPart{ETag: etag, Size: size}).Error
}

func (r *GormUploadPartRepository) GetBySessionAndNumber(_ context.Context, tx *gorm.DB, sessionID string, partNumber int) (models.UploadPart, error) {
	var part models.UploadPart
	err := useTx(r.db, tx).
		Where("session_id = ? AND part_number = ?", sessionID, partNumber).
		First(&part).Error
	return part, err
}

func (r *GormUploadPartRepository) ListBySession(_ context.Context, tx *gorm.DB, sessionID string) ([]models.UploadPart, error) {
	var parts []models.UploadPart
	err := useTx(r.db, tx).
		Where("session_id = ?", sessionID).
		Order("part_number ASC").
		Find(&parts).Error
	return parts, err
}

func (r *GormUploadPartRepository) CountBySession(_ context.Context, tx *gorm.DB, sessionID string) (int64, error) {
	var count int64
	err := useTx(r.db, tx).Model(&models.UploadPart{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	return count, err
}

func (r *GormUploadPartRepository) DeleteBySession(_ context.Context, tx *gorm.DB, sessionID string) error {
	return useTx(r.db, tx).Where("session_id = ?", sessionID).Delete(&models.UploadPart{}).Error
}
