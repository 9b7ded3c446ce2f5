package logging

import (
	"regexp"
	"unicode/utf8"
)

const (
	// MaxDescriptionLogLength caps free-text candidate descriptions in logs.
	// Bank statement lines routinely carry account holder names and IBANs.
	MaxDescriptionLogLength = 60
	// RedactedText is the replacement text for sensitive data.
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// user:pass@host credentials embedded in a connection URL
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)

	// IBAN-shaped account numbers inside statement descriptions
	ibanPattern = regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{10,30}\b`)
)

// SanitizeConnectionString removes credentials from connection strings
// before they are logged.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeDescription prepares a candidate's free-text description for
// logging: account numbers are redacted and the text is truncated.
func SanitizeDescription(desc string) string {
	sanitized := ibanPattern.ReplaceAllString(desc, RedactedText)
	if utf8.RuneCountInString(sanitized) <= MaxDescriptionLogLength {
		return sanitized
	}
	runes := []rune(sanitized)
	return string(runes[:MaxDescriptionLogLength]) + "..."
}
