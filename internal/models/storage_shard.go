package models

import (
	"time"
)

// StorageShard is one bounded directory of the blob store.
// At most one row has IsCurrent set; the partial unique index enforces it.
type StorageShard struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	DirectoryName string    `gorm:"uniqueIndex;not null;size:64" json:"directory_name"`
	FileCount     int       `gorm:"not null;default:0" json:"file_count"`
	IsCurrent     bool      `gorm:"not null;default:false;index:idx_storage_shards_current,unique,where:is_current = true" json:"is_current"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for StorageShard
func (StorageShard) TableName() string {
	return "storage_shards"
}
