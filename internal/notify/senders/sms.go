package senders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/remexa/remexa/internal/notify"
	"github.com/remexa/remexa/pkg/logger"
)

// smsBodyLimit is the single-segment SMS budget; longer bodies are truncated
// rather than split across segments.
const smsBodyLimit = 160

// GatewayConfig points a sender at an HTTP delivery gateway. An empty URL
// leaves the sender in logged-only mode.
type GatewayConfig struct {
	URL     string
	APIKey  string
	From    string
	Timeout time.Duration
}

func (c GatewayConfig) configured() bool {
	return strings.TrimSpace(c.URL) != ""
}

// SMSSender delivers notifications through the platform's SMS gateway.
type SMSSender struct {
	cfg    GatewayConfig
	client *http.Client
	log    *zap.Logger
}

// NewSMSSender builds the SMS adapter; an unset gateway URL means logged-only mode.
func NewSMSSender(cfg GatewayConfig) *SMSSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SMSSender{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logger.WithModule("sender.sms"),
	}
}

// Channel identifies this sender.
func (s *SMSSender) Channel() notify.Channel {
	return notify.ChannelSMS
}

// Deliver posts the message to the gateway, truncating to one SMS segment.
func (s *SMSSender) Deliver(ctx context.Context, msg Message) error {
	body := truncate(msg.Body, smsBodyLimit)

	if !s.cfg.configured() {
		s.log.Info("sms delivery skipped (no gateway configured)",
			zap.String("recipient", msg.Recipient),
			zap.Int("body_len", len(body)),
		)
		return nil
	}

	payload := map[string]string{
		"to":   msg.Recipient,
		"from": s.cfg.From,
		"body": body,
	}
	return postGateway(ctx, s.client, s.cfg, "sms", payload)
}

func postGateway(ctx context.Context, client *http.Client, cfg GatewayConfig, kind string, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s sender: encode payload: %w", kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("%s sender: build request: %w", kind, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s sender: gateway call: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s sender: gateway returned status %d", kind, resp.StatusCode)
	}
	return nil
}
