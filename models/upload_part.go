package models

import "time"

// UploadPart is the durable record of one received part. The composite
// unique index makes a duplicate append for the same part number a
// constraint violation rather than a second row.
type UploadPart struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_session_part,priority:1" json:"session_id"`
	PartNumber int       `gorm:"not null;uniqueIndex:idx_session_part,priority:2" json:"part_number"`
	ETag       string    `gorm:"type:varchar(128);not null" json:"etag"`
	Size       int64     `gorm:"not null" json:"size"`
	CreatedAt  time.Time `json:"created_at"`
}
