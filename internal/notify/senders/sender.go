// Package senders holds the channel delivery adapters. Each adapter wraps one
// outbound provider and degrades to a logged-only no-op when the provider is
// not configured, so environments without credentials still complete jobs.
package senders

import (
	"context"
	"fmt"

	"github.com/remexa/remexa/internal/notify"
)

// Message is a rendered notification ready for delivery.
type Message struct {
	Recipient string
	Subject   string
	Body      string
	Metadata  map[string]any
}

// Sender delivers a rendered message to a single recipient. Implementations
// never panic across this boundary; provider errors come back as plain errors
// for the queue's retry policy to judge.
type Sender interface {
	Channel() notify.Channel
	Deliver(ctx context.Context, msg Message) error
}

// BulkResult summarises a sequential fan-out.
type BulkResult struct {
	Delivered int
	Failed    int
}

// DeliverMany sends to each recipient in turn, counting outcomes without
// short-circuiting on individual failures.
func DeliverMany(ctx context.Context, sender Sender, recipients []string, subject, body string) BulkResult {
	var result BulkResult
	for _, recipient := range recipients {
		err := sender.Deliver(ctx, Message{Recipient: recipient, Subject: subject, Body: body})
		if err != nil {
			result.Failed++
			continue
		}
		result.Delivered++
	}
	return result
}

// Registry resolves the sender for a channel.
type Registry struct {
	byChannel map[notify.Channel]Sender
}

// NewRegistry indexes the supplied senders by channel.
func NewRegistry(all ...Sender) *Registry {
	byChannel := make(map[notify.Channel]Sender, len(all))
	for _, sender := range all {
		if sender != nil {
			byChannel[sender.Channel()] = sender
		}
	}
	return &Registry{byChannel: byChannel}
}

// For returns the sender registered for the channel.
func (r *Registry) For(channel notify.Channel) (Sender, error) {
	sender, ok := r.byChannel[channel]
	if !ok {
		return nil, fmt.Errorf("senders: no sender registered for channel %q", channel)
	}
	return sender, nil
}

func truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
