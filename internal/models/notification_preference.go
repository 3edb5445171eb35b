package models

import "gorm.io/datatypes"

// NotificationPreference stores one user's per-channel delivery opt-ins as a
// JSON document keyed by channel. The typed view with defaults lives in the
// preference service; this row is the single source of truth.
type NotificationPreference struct {
	BaseModel

	UserID   string            `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Settings datatypes.JSONMap `json:"settings"`
}
