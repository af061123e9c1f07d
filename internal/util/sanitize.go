package util

import (
	"html"
	"strings"
)

// SanitizeInput trims and escapes HTML/script-like characters.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// NormalizeEmail lowercases and trims an email address before lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ContainsSuspicious reports whether the input carries script-injection markers.
func ContainsSuspicious(s string) bool {
	badChars := []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"}
	lowered := strings.ToLower(s)
	for _, c := range badChars {
		if strings.Contains(lowered, c) {
			return true
		}
	}
	return false
}
