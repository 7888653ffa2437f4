package llm

import (
	"strings"
	"unicode"
)

const defaultInputLimit = 1000

var injectionPatterns = []string{
	"ignore previous instructions",
	"ignore all instructions",
	"disregard above",
	"system prompt",
	"you are now",
	"act as",
}

// SanitizeInput prepares caller-supplied text for inclusion in a prompt.
// Control characters other than newline and tab are removed, the text is
// bounded to limit runes, and text containing a known injection phrase is
// fenced as a quoted user query.
func SanitizeInput(text string, limit int) string {
	if limit <= 0 {
		limit = defaultInputLimit
	}
	var b strings.Builder
	n := 0
	for _, r := range text {
		if n >= limit {
			break
		}
		if r != '\n' && r != '\t' && !unicode.IsPrint(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	cleaned := strings.TrimSpace(b.String())
	lowered := strings.ToLower(cleaned)
	for _, pattern := range injectionPatterns {
		if strings.Contains(lowered, pattern) {
			return "[USER QUERY] " + cleaned + " [/USER QUERY]"
		}
	}
	return cleaned
}

// HasInjection reports whether text contains a known injection phrase.
func HasInjection(text string) bool {
	lowered := strings.ToLower(text)
	for _, pattern := range injectionPatterns {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}
	return false
}
