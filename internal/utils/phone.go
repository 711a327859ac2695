package utils

import "strings"

const whatsAppPrefix = "whatsapp:"

// NormalizePhone strips the channel prefix Twilio adds to WhatsApp
// addresses ("whatsapp:+5585...") and surrounding whitespace.
func NormalizePhone(from string) string {
	from = strings.TrimSpace(from)
	if len(from) >= len(whatsAppPrefix) && strings.EqualFold(from[:len(whatsAppPrefix)], whatsAppPrefix) {
		from = from[len(whatsAppPrefix):]
	}
	return strings.TrimSpace(from)
}

// MaskPhone hides all but the last four digits, for logs.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
