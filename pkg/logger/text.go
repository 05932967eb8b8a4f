package logger

import (
	"strings"
	"unicode/utf8"
)

const messagePreviewLimit = 80

// PreviewText returns a bounded log-safe preview of message text.
func PreviewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	runes := []rune(trimmed)
	return string(runes[:messagePreviewLimit]) + "..."
}

// MaskPhone keeps the last four digits of a phone number.
func MaskPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if len(phone) <= 4 {
		return phone
	}

	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
