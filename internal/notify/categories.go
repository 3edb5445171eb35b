package notify

// Category names a preference toggle within a channel block. The same logical
// grouping applies to every channel; marketing and critical-alert categories use
// channel-specific names.
type Category string

const (
	CategoryTransactionUpdates  Category = "transaction_updates"
	CategorySecurityAlerts      Category = "security_alerts"
	CategoryMarketingEmails     Category = "marketing_emails"
	CategoryMarketingUpdates    Category = "marketing_updates"
	CategorySystemNotifications Category = "system_notifications"
	CategoryCriticalAlerts      Category = "critical_alerts"
)

var transactionTypes = map[Type]struct{}{
	TypeTransactionConfirmation: {},
	TypeTransactionPending:      {},
	TypeTransactionFailed:       {},
	TypePaymentReceived:         {},
	TypePaymentSent:             {},
}

var securityTypes = map[Type]struct{}{
	TypeSecurityAlert: {},
	TypeLoginAlert:    {},
}

var systemTypes = map[Type]struct{}{
	TypeSystemMaintenance: {},
	TypeWelcome:           {},
	TypeEmailVerification: {},
}

// CategoryFor maps a notification type to the preference category consulted for
// the given channel. ok=false means the type has no mapping for that channel; the
// caller applies the channel default (allowed for email/push, denied for SMS,
// which is opt-in by category only).
func CategoryFor(t Type, ch Channel) (Category, bool) {
	if _, isTx := transactionTypes[t]; isTx {
		return CategoryTransactionUpdates, true
	}
	if _, isSec := securityTypes[t]; isSec {
		return CategorySecurityAlerts, true
	}

	switch ch {
	case ChannelSMS:
		// SMS has no marketing category and folds maintenance and low-balance
		// warnings into critical alerts.
		if t == TypeSystemMaintenance || t == TypeBalanceLow {
			return CategoryCriticalAlerts, true
		}
		return "", false
	case ChannelEmail:
		if t == TypeMarketingCampaign {
			return CategoryMarketingEmails, true
		}
	case ChannelPush:
		if t == TypeMarketingCampaign {
			return CategoryMarketingUpdates, true
		}
	}

	if _, isSys := systemTypes[t]; isSys {
		return CategorySystemNotifications, true
	}
	return "", false
}

// DefaultAllowed reports whether an unmapped type is deliverable on the channel.
func DefaultAllowed(ch Channel) bool {
	return ch != ChannelSMS
}

// DefaultChannels returns the channel set used when a send request does not name
// channels explicitly.
func DefaultChannels(t Type) []Channel {
	if _, isTx := transactionTypes[t]; isTx {
		return []Channel{ChannelEmail, ChannelPush}
	}
	if _, isSec := securityTypes[t]; isSec {
		return []Channel{ChannelEmail, ChannelSMS}
	}
	switch t {
	case TypeMarketingCampaign:
		return []Channel{ChannelEmail, ChannelPush}
	case TypeSystemMaintenance:
		return []Channel{ChannelEmail, ChannelSMS, ChannelPush}
	default:
		return []Channel{ChannelEmail}
	}
}
