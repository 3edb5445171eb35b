package models

import "time"

// CacheEntry backs the database cache store used when Redis is not configured.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;type:varchar(255)"`
	Value     []byte    `gorm:"type:blob"`
	ExpiresAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}
