package notify

import (
	"fmt"
	"strings"
)

// Type enumerates the notification types the platform can dispatch.
type Type string

const (
	TypeTransactionConfirmation Type = "transaction_confirmation"
	TypeTransactionPending      Type = "transaction_pending"
	TypeTransactionFailed       Type = "transaction_failed"
	TypeSecurityAlert           Type = "security_alert"
	TypeLoginAlert              Type = "login_alert"
	TypePasswordReset           Type = "password_reset"
	TypeEmailVerification       Type = "email_verification"
	TypeKYCApproved             Type = "kyc_approved"
	TypeKYCRejected             Type = "kyc_rejected"
	TypeWalletConnected         Type = "wallet_connected"
	TypeBalanceLow              Type = "balance_low"
	TypeSystemMaintenance       Type = "system_maintenance"
	TypeMarketingCampaign       Type = "marketing_campaign"
	TypeWelcome                 Type = "welcome"
	TypePaymentReceived         Type = "payment_received"
	TypePaymentSent             Type = "payment_sent"
)

// Types lists every known notification type.
var Types = []Type{
	TypeTransactionConfirmation,
	TypeTransactionPending,
	TypeTransactionFailed,
	TypeSecurityAlert,
	TypeLoginAlert,
	TypePasswordReset,
	TypeEmailVerification,
	TypeKYCApproved,
	TypeKYCRejected,
	TypeWalletConnected,
	TypeBalanceLow,
	TypeSystemMaintenance,
	TypeMarketingCampaign,
	TypeWelcome,
	TypePaymentReceived,
	TypePaymentSent,
}

// ParseType validates the supplied string against the known notification types.
func ParseType(value string) (Type, error) {
	candidate := Type(strings.ToLower(strings.TrimSpace(value)))
	for _, t := range Types {
		if t == candidate {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown notification type %q", value)
}

// Channel identifies a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Channels lists every delivery channel in canonical order.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelPush}

// ParseChannel validates the supplied string against the known channels.
func ParseChannel(value string) (Channel, error) {
	candidate := Channel(strings.ToLower(strings.TrimSpace(value)))
	for _, ch := range Channels {
		if ch == candidate {
			return ch, nil
		}
	}
	return "", fmt.Errorf("unknown channel %q", value)
}

// ParseChannels validates a channel list, deduplicating while preserving order.
func ParseChannels(values []string) ([]Channel, error) {
	seen := make(map[Channel]struct{}, len(values))
	out := make([]Channel, 0, len(values))
	for _, value := range values {
		ch, err := ParseChannel(value)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out, nil
}

// Priority governs dispatch queue service order.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

var priorityWeights = map[Priority]int{
	PriorityCritical: 40,
	PriorityHigh:     30,
	PriorityNormal:   20,
	PriorityLow:      10,
}

// ParsePriority validates the supplied string, defaulting empty input to normal.
func ParsePriority(value string) (Priority, error) {
	candidate := Priority(strings.ToLower(strings.TrimSpace(value)))
	if candidate == "" {
		return PriorityNormal, nil
	}
	if _, ok := priorityWeights[candidate]; !ok {
		return "", fmt.Errorf("unknown priority %q", value)
	}
	return candidate, nil
}

// Weight returns the numeric service weight; higher weights are dequeued first.
func (p Priority) Weight() int {
	if w, ok := priorityWeights[p]; ok {
		return w
	}
	return priorityWeights[PriorityNormal]
}
