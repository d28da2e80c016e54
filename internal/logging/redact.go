package logging

import "strings"

// Redacted replaces the value of any sensitive attribute.
const Redacted = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"password":         {},
	"current_password": {},
	"new_password":     {},
	"password_hash":    {},
	"secret":           {},
	"mfa_secret":       {},
	"mfa_code":         {},
	"token":            {},
	"access_token":     {},
	"refresh_token":    {},
}

// IsSensitive reports whether values logged under key must never be written.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}
