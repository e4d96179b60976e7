package models

import "time"

// Upload session statuses. Completed, aborted and failed are terminal.
const (
	UploadStatusInitiated = "initiated"
	UploadStatusUploading = "uploading"
	UploadStatusCompleted = "completed"
	UploadStatusAborted   = "aborted"
	UploadStatusFailed    = "failed"
)

type UploadSession struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UploadID     string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"upload_id"`
	UserID       uint      `gorm:"not null;index" json:"user_id"`
	StorageKey   string    `gorm:"type:varchar(500);uniqueIndex;not null" json:"storage_key"`
	OriginalName string    `gorm:"type:varchar(255);not null" json:"original_name"`
	MimeType     string    `gorm:"type:varchar(100);not null" json:"mime_type"`
	DeclaredSize int64     `gorm:"not null" json:"declared_size"`
	TotalParts   int       `gorm:"not null" json:"total_parts"`
	Status       string    `gorm:"type:varchar(20);default:initiated;index" json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ExpiresAt    time.Time `gorm:"not null;index" json:"expires_at"`
}

func (s *UploadSession) IsTerminal() bool {
	switch s.Status {
	case UploadStatusCompleted, UploadStatusAborted, UploadStatusFailed:
		return true
	}
	return false
}
