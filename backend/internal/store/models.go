package store

import "time"

// Document is the read model of a workspace document: only what the
// collaboration core needs to seed localVersion.
type Document struct {
	ID          string `gorm:"primaryKey;type:varchar(64)"`
	WorkspaceID string `gorm:"index;type:varchar(64)"`
	Version     int64  `gorm:"not null;default:1"`
	UpdatedBy   string `gorm:"type:varchar(64)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DocumentChange 是归档的一次 document_change；(document_id, user_id, version) 唯一，重复投递直接忽略。
type DocumentChange struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	EventID     string    `gorm:"type:varchar(64)"`
	DocumentID  string    `gorm:"uniqueIndex:uk_doc_user_version;type:varchar(64)"`
	UserID      string    `gorm:"uniqueIndex:uk_doc_user_version;type:varchar(64)"`
	Version     int64     `gorm:"uniqueIndex:uk_doc_user_version"`
	WorkspaceID string    `gorm:"type:varchar(64)"`
	SessionID   string    `gorm:"type:varchar(64)"`
	Changes     []byte    `gorm:"type:json"`
	RelayedAt   time.Time `gorm:"index"`
	CreatedAt   time.Time
}
