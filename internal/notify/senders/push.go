package senders

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/remexa/remexa/internal/notify"
	"github.com/remexa/remexa/pkg/logger"
)

// pushBodyLimit keeps push payloads inside typical platform display budgets.
const pushBodyLimit = 100

// PushSender delivers notifications through the platform's push gateway. The
// rendered subject becomes the notification title.
type PushSender struct {
	cfg    GatewayConfig
	client *http.Client
	log    *zap.Logger
}

// NewPushSender builds the push adapter; an unset gateway URL means logged-only mode.
func NewPushSender(cfg GatewayConfig) *PushSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &PushSender{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logger.WithModule("sender.push"),
	}
}

// Channel identifies this sender.
func (s *PushSender) Channel() notify.Channel {
	return notify.ChannelPush
}

// Deliver posts the message to the push gateway keyed by device token.
func (s *PushSender) Deliver(ctx context.Context, msg Message) error {
	body := truncate(msg.Body, pushBodyLimit)

	if !s.cfg.configured() {
		s.log.Info("push delivery skipped (no gateway configured)",
			zap.String("token", msg.Recipient),
			zap.String("title", msg.Subject),
		)
		return nil
	}

	payload := map[string]any{
		"token": msg.Recipient,
		"title": msg.Subject,
		"body":  body,
	}
	if len(msg.Metadata) > 0 {
		payload["data"] = msg.Metadata
	}
	return postGateway(ctx, s.client, s.cfg, "push", payload)
}
