package senders

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/remexa/remexa/internal/notify"
	"github.com/remexa/remexa/pkg/logger"
	"github.com/remexa/remexa/pkg/mail"
)

// EmailSender delivers notifications over SMTP. Without a configured mailer it
// runs in logged-only mode and reports success.
type EmailSender struct {
	mailer  mail.Mailer
	timeout time.Duration
	log     *zap.Logger
}

// NewEmailSender wraps the supplied mailer; pass nil for logged-only mode.
func NewEmailSender(mailer mail.Mailer, timeout time.Duration) *EmailSender {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &EmailSender{
		mailer:  mailer,
		timeout: timeout,
		log:     logger.WithModule("sender.email"),
	}
}

// Channel identifies this sender.
func (s *EmailSender) Channel() notify.Channel {
	return notify.ChannelEmail
}

// Deliver sends the rendered message to the recipient address.
func (s *EmailSender) Deliver(ctx context.Context, msg Message) error {
	if s.mailer == nil {
		s.log.Info("email delivery skipped (no SMTP configured)",
			zap.String("recipient", msg.Recipient),
			zap.String("subject", msg.Subject),
		)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.mailer.Send(ctx, mail.Message{
		To:      []string{msg.Recipient},
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	if err != nil {
		return fmt.Errorf("email sender: %w", err)
	}
	return nil
}
