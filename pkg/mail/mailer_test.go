package mail

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.ErrorContains(t, err, "host is required")

	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, mailer)
}

func TestSMTPMailerSendDisabled(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{
		To:      []string{"amara@example.com"},
		Subject: "Transfer sent",
		Body:    "Your transfer is on its way.",
	})
	require.ErrorIs(t, err, ErrSMTPDisabled)
}

func TestSMTPMailerDefaultTimeout(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "notifications@remexa.io",
	})
	require.NoError(t, err)

	sm, ok := mailer.(*smtpMailer)
	require.True(t, ok)
	require.Equal(t, 10*time.Second, sm.cfg.Timeout)
}

func TestSMTPMailerSendRequiresRecipients(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "notifications@remexa.io",
	})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{
		To:      []string{"   ", "\t"},
		Subject: "No recipients",
	})
	require.ErrorContains(t, err, "at least one recipient")
}

func TestSMTPMailerSendValidatesAddresses(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "notifications@remexa.io",
	})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{
		From: "not an address",
		To:   []string{"amara@example.com"},
	})
	require.ErrorContains(t, err, "invalid from address")

	err = mailer.Send(context.Background(), Message{
		To: []string{"amara@example.com", "bad-address"},
	})
	require.ErrorContains(t, err, "invalid recipient address")
}

func TestFormatMessage(t *testing.T) {
	content := formatMessage("notifications@remexa.io", []string{"amara@example.com"},
		"Security alert\r\nInjected", "A new device signed in.")
	require.Contains(t, content, "From: notifications@remexa.io")
	require.Contains(t, content, "Subject: Security alert  Injected")
	require.Contains(t, content, "Content-Type: text/plain; charset=UTF-8")
	require.True(t, len(content) > 0 && content[len(content)-1] == '.')
}

func TestUniqueAddresses(t *testing.T) {
	result := uniqueAddresses([]string{
		"amara@example.com", "chidi@example.com", " amara@example.com ", "", "chidi@example.com",
	})
	require.Equal(t, []string{"amara@example.com", "chidi@example.com"}, result)
}
