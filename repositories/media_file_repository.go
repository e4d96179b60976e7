package repositories

import (
	"context"

	"github.com/AbdelrhmanX7/memorly-server/models"

	"gorm.io/gorm"
)

type GormMediaFileRepository struct {
	db *gorm.DB
}

func NewGormMediaFileRepository(db *gorm.DB) *GormMediaFileRepository {
	return &GormMediaFileRepository{db: db}
}

func (r *GormMediaFileRepository) Create(_ context.Context, tx *gorm.DB, file *models.MediaFile) error {
	return useTx(r.db, tx).Create(file).Error
}
