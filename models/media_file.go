package models

import "time"

// MediaFile is the completed-object record written once a chunked upload
// finishes. The rest of the application reads these, never the sessions.
type MediaFile struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       uint      `gorm:"not null;index" json:"user_id"`
	OriginalName string    `gorm:"type:varchar(255);not null" json:"original_name"`
	StorageKey   string    `gorm:"type:varchar(500);uniqueIndex;not null" json:"storage_key"`
	Size         int64     `gorm:"not null" json:"size"`
	MimeType     string    `gorm:"type:varchar(100)" json:"mime_type"`
	ETag         string    `gorm:"type:varchar(128)" json:"etag"`
	URL          string    `gorm:"type:varchar(1000)" json:"url"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}
