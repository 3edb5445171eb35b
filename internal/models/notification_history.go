package models

import (
	"time"

	"gorm.io/datatypes"
)

// History statuses follow the delivery lifecycle of a single job.
const (
	HistoryStatusPending   = "pending"
	HistoryStatusSent      = "sent"
	HistoryStatusDelivered = "delivered"
	HistoryStatusRetrying  = "retrying"
	HistoryStatusFailed    = "failed"
)

// NotificationHistory is the audit record of one delivery attempt cycle. It
// snapshots the rendered message so later template edits never rewrite history.
type NotificationHistory struct {
	BaseModel

	JobID       string         `gorm:"type:uuid;index" json:"job_id"`
	UserID      string         `gorm:"type:uuid;not null;index" json:"user_id"`
	TemplateID  string         `gorm:"type:uuid" json:"template_id"`
	Type        string         `gorm:"type:varchar(64);not null;index" json:"type"`
	Channel     string         `gorm:"type:varchar(16);not null;index" json:"channel"`
	Recipient   string         `gorm:"type:text;not null" json:"recipient"`
	Subject     string         `gorm:"type:varchar(255)" json:"subject"`
	Content     string         `gorm:"type:text" json:"content"`
	Status      string         `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	FailedAt    *time.Time     `json:"failed_at,omitempty"`
	Error       string         `gorm:"type:text" json:"error,omitempty"`
	RetryCount  int            `gorm:"not null;default:0" json:"retry_count"`
	Metadata    datatypes.JSON `json:"metadata,omitempty"`
}
