// Package messaging is the WhatsApp gateway edge: it receives inbound
// webhooks, deduplicates redeliveries, hands fragments to the booking
// queue, and pushes replies back through the gateway's send API.
package messaging

import "strings"

// NormalizeE164 ensures the value begins with + and only contains
// digits afterward.
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := sanitizePhone(value)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

func sanitizePhone(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ConversationKey derives the stable per-sender key used to route all
// of a patient's fragments to the same booking session.
func ConversationKey(from string) string {
	digits := sanitizePhone(from)
	if digits == "" {
		return ""
	}
	return "wa:" + digits
}
