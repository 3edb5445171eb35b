package models

import (
	"time"

	"gorm.io/datatypes"
)

// Job states observable through queue stats. A job is admitted as waiting (or
// delayed when scheduled for the future), claimed by a worker as active, and
// finishes as completed, failed (awaiting retry), or dead after exhausting its
// retry budget.
const (
	JobStatusWaiting   = "waiting"
	JobStatusDelayed   = "delayed"
	JobStatusActive    = "active"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusDead      = "dead"
)

// NotificationJob is one unit of per-channel dispatch work.
type NotificationJob struct {
	BaseModel

	UserID      string            `gorm:"type:uuid;not null;index" json:"user_id"`
	Type        string            `gorm:"type:varchar(64);not null" json:"type"`
	Channel     string            `gorm:"type:varchar(16);not null" json:"channel"`
	Recipient   string            `gorm:"type:text;not null" json:"recipient"`
	Data        datatypes.JSONMap `json:"data"`
	Priority    string            `gorm:"type:varchar(16);not null;default:'normal'" json:"priority"`
	Weight      int               `gorm:"not null;index:idx_jobs_pull,priority:2" json:"-"`
	Status      string            `gorm:"type:varchar(16);not null;default:'waiting';index:idx_jobs_pull,priority:1" json:"status"`
	ScheduledAt *time.Time        `gorm:"index" json:"scheduled_at,omitempty"`
	ClaimedAt   *time.Time        `gorm:"index" json:"claimed_at,omitempty"`
	Attempts    int               `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts int               `gorm:"not null;default:3" json:"max_attempts"`
	LastError   string            `gorm:"type:text" json:"last_error,omitempty"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
}
