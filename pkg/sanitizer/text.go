package sanitizer

import (
	"strings"
	"unicode"
)

const (
	MaxReasonLength      = 500
	MaxDisplayNameLength = 200
)

// Normalize trims the string, collapses internal whitespace runs and strips
// control characters. Free-text fields are stored and echoed back to other
// users, so they never carry raw client input.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := false
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}

	return strings.TrimSpace(b.String())
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

// SanitizeReason normalizes the free-text lock rationale ("Editing", ...).
func SanitizeReason(reason string) string {
	return truncate(Normalize(reason), MaxReasonLength)
}

// SanitizeDisplayName normalizes the holder's display name shown in
// conflict messages.
func SanitizeDisplayName(name string) string {
	return truncate(Normalize(name), MaxDisplayNameLength)
}
