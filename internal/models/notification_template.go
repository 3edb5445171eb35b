package models

import "gorm.io/datatypes"

// NotificationTemplate is a parametrised subject/body pair bound to a
// notification type and the channels it can render for. Multiple templates may
// exist per type; resolution picks the most recently updated active template
// whose channel set contains the requested channel.
type NotificationTemplate struct {
	BaseModel

	Name      string         `gorm:"type:varchar(128);not null" json:"name"`
	Type      string         `gorm:"type:varchar(64);not null;index" json:"type"`
	Channels  datatypes.JSON `gorm:"not null" json:"channels"`
	Subject   string         `gorm:"type:varchar(255);not null" json:"subject"`
	Body      string         `gorm:"type:text;not null" json:"body"`
	Variables datatypes.JSON `json:"variables"`
	Active    bool           `gorm:"default:true;index" json:"active"`
}
