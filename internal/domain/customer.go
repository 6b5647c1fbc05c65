package domain

import (
	"strings"
	"unicode"
)

// Channel names a notification channel
type Channel string

// Notification channels
const (
	ChannelTelegram Channel = "telegram"
	ChannelPush     Channel = "push"
	ChannelLog      Channel = "log"
)

// ChannelTarget is where a notification is delivered
type ChannelTarget struct {
	Channel Channel
	Address string
}

// Usable reports whether the target can receive messages
func (c ChannelTarget) Usable() bool {
	return c.Channel != "" && strings.TrimSpace(c.Address) != ""
}

// Customer is read-only to the engine
type Customer struct {
	ID             string
	NationalID     string
	FirstName      string
	LastName       string
	VIP            bool
	Phone          string
	Email          string
	TelegramChatID string
	PushToken      string
}

// PreferredTarget picks the first configured channel: telegram, then push
func (c Customer) PreferredTarget() ChannelTarget {
	if strings.TrimSpace(c.TelegramChatID) != "" {
		return ChannelTarget{Channel: ChannelTelegram, Address: c.TelegramChatID}
	}
	if strings.TrimSpace(c.PushToken) != "" {
		return ChannelTarget{Channel: ChannelPush, Address: c.PushToken}
	}
	return ChannelTarget{}
}

// NormalizeNationalID strips separators and upper-cases the check digit,
// so "12.345.678-k" and "12345678K" resolve to the same customer
func NormalizeNationalID(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r == '.' || r == '-' || r == ' ':
			continue
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == 'k' || r == 'K':
			b.WriteRune('K')
		default:
			return "", NewValidationError("national_id", "contains invalid characters")
		}
	}
	id := b.String()
	if len(id) < 7 || len(id) > 10 {
		return "", NewValidationError("national_id", "must have between 7 and 10 characters")
	}
	return id, nil
}
