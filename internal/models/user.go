package models

// User is the minimal directory record the dispatcher needs to resolve
// per-channel recipient addresses. Account lifecycle lives in the platform's
// identity service; this table mirrors only what delivery requires.
type User struct {
	BaseModel

	Email       string `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PhoneNumber string `gorm:"type:varchar(32)" json:"phone_number"`
	PushToken   string `gorm:"type:text" json:"push_token"`
	DisplayName string `gorm:"type:varchar(128)" json:"display_name"`
	Role        string `gorm:"type:varchar(32);default:'user'" json:"role"`
}
