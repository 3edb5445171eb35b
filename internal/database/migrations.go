package database

import (
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/remexa/remexa/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.NotificationPreference{},
		&models.NotificationTemplate{},
		&models.NotificationJob{},
		&models.NotificationHistory{},
		&models.CacheEntry{},
	)
}

type seedTemplate struct {
	id        string
	name      string
	typ       string
	channels  []string
	subject   string
	body      string
	variables []string
}

var starterTemplates = []seedTemplate{
	{
		id:       "tpl-transaction-confirmation",
		name:     "Transaction confirmation",
		typ:      "transaction_confirmation",
		channels: []string{"email", "push"},
		subject:  "Your transfer of {{amount}} {{currency}} is confirmed",
		body: "Hi {{firstName}},\n\nYour transfer {{reference}} of {{amount}} {{currency}} " +
			"to {{recipientName}} has been confirmed.{{#if eta}} Expected arrival: {{eta}}.{{/if}}\n\n" +
			"Thank you for sending with Remexa.",
		variables: []string{"firstName", "amount", "currency", "reference", "recipientName", "eta"},
	},
	{
		id:        "tpl-security-alert",
		name:      "Security alert",
		typ:       "security_alert",
		channels:  []string{"email", "sms"},
		subject:   "Security alert on your Remexa account",
		body:      "We noticed {{event}} on your account at {{when}}. If this wasn't you, secure your account immediately.",
		variables: []string{"event", "when"},
	},
	{
		id:        "tpl-login-alert",
		name:      "New login alert",
		typ:       "login_alert",
		channels:  []string{"email", "sms"},
		subject:   "New sign-in to your account",
		body:      "A new sign-in from {{device}} in {{location}} was detected.{{#if ip}} IP: {{ip}}.{{/if}}",
		variables: []string{"device", "location", "ip"},
	},
	{
		id:        "tpl-password-reset",
		name:      "Password reset",
		typ:       "password_reset",
		channels:  []string{"email"},
		subject:   "Reset your Remexa password",
		body:      "Hi {{firstName}},\n\nUse the following link to reset your password: {{resetLink}}\nThe link expires in {{expiresIn}}.",
		variables: []string{"firstName", "resetLink", "expiresIn"},
	},
	{
		id:        "tpl-welcome",
		name:      "Welcome",
		typ:       "welcome",
		channels:  []string{"email"},
		subject:   "Welcome to Remexa, {{firstName}}!",
		body:      "Hi {{firstName}},\n\nYour account is ready. Send your first transfer in minutes.",
		variables: []string{"firstName"},
	},
	{
		id:        "tpl-payment-received",
		name:      "Payment received",
		typ:       "payment_received",
		channels:  []string{"email", "push"},
		subject:   "You received {{amount}} {{currency}}",
		body:      "{{senderName}} sent you {{amount}} {{currency}}. Your new balance is {{balance}} {{currency}}.",
		variables: []string{"senderName", "amount", "currency", "balance"},
	},
	{
		id:        "tpl-balance-low",
		name:      "Balance low",
		typ:       "balance_low",
		channels:  []string{"email", "sms", "push"},
		subject:   "Your wallet balance is low",
		body:      "Your {{currency}} wallet balance dropped below {{threshold}}. Current balance: {{balance}}.",
		variables: []string{"currency", "threshold", "balance"},
	},
	{
		id:        "tpl-system-maintenance",
		name:      "Scheduled maintenance",
		typ:       "system_maintenance",
		channels:  []string{"email", "sms", "push"},
		subject:   "Scheduled maintenance on {{date}}",
		body:      "Remexa will be unavailable from {{start}} to {{end}} ({{timezone}}) for planned maintenance.",
		variables: []string{"date", "start", "end", "timezone"},
	},
}

// SeedData inserts the starter template catalog. Existing rows are never
// overwritten so operator edits survive restarts.
func SeedData(db *gorm.DB) error {
	for _, tpl := range starterTemplates {
		channels, err := json.Marshal(tpl.channels)
		if err != nil {
			return err
		}
		variables, err := json.Marshal(tpl.variables)
		if err != nil {
			return err
		}

		record := models.NotificationTemplate{
			BaseModel: models.BaseModel{ID: tpl.id},
			Name:      tpl.name,
			Type:      tpl.typ,
			Channels:  datatypes.JSON(channels),
			Subject:   tpl.subject,
			Body:      tpl.body,
			Variables: datatypes.JSON(variables),
			Active:    true,
		}

		err = db.Where(models.NotificationTemplate{BaseModel: models.BaseModel{ID: tpl.id}}).
			Attrs(record).
			FirstOrCreate(&models.NotificationTemplate{}).Error
		if err != nil {
			return err
		}
	}
	return nil
}
