package log

import (
	"strings"
)

// credentialKeywords marks log keys whose values must never be written out
// in full. Session credentials, admin tokens and encryption keys all travel
// through structured log fields at some point; matching is by substring on
// the lowercased key.
var credentialKeywords = []string{
	"password", "passwd", "pwd",
	"api_key", "apikey", "api-key",
	"token", "access_token", "refresh_token",
	"secret", "auth", "authorization",
	"credential", "private_key", "privatekey",
}

// SanitizeField masks the value when the key names something sensitive.
// Email-like keys get their own masking so the domain stays readable;
// everything else sensitive is reduced to a short prefix/suffix.
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)

	// 邮箱字段单独处理，保留域名便于排查
	if strings.Contains(lowerKey, "email") || strings.Contains(lowerKey, "mail") {
		return sanitizeEmail(value)
	}

	for _, keyword := range credentialKeywords {
		if strings.Contains(lowerKey, keyword) {
			return sanitizeToken(value)
		}
	}

	return value
}

// sanitizeToken keeps just enough of a credential to correlate log lines:
// first 4 and last 4 characters for long values, first and last character
// for short ones, full stars for anything 2 characters or less.
func sanitizeToken(value string) string {
	n := len(value)
	switch {
	case n <= 2:
		return strings.Repeat("*", n)
	case n <= 8:
		return string(value[0]) + strings.Repeat("*", n-2) + string(value[n-1])
	default:
		return value[:4] + strings.Repeat("*", n-8) + value[n-4:]
	}
}

// sanitizeEmail keeps the first 3 characters of the local part plus the
// domain. Values that do not parse as an address are fully masked.
func sanitizeEmail(value string) string {
	parts := strings.Split(value, "@")
	if len(parts) != 2 {
		return strings.Repeat("*", len(value))
	}

	local, domain := parts[0], parts[1]
	switch {
	case local == "":
		return "@" + domain
	case len(local) <= 3:
		return string(local[0]) + strings.Repeat("*", len(local)-1) + "@" + domain
	default:
		return local[:3] + "***@" + domain
	}
}
