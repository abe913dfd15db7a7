package observability

import (
	"strings"
	"unicode"
)

const (
	defaultStringLimit = 256
	idLimit            = 128
)

// sanitizeString drops control characters and caps the rune count so request data cannot forge
// log lines.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	var b strings.Builder
	count := 0
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		if count == limit {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

// SanitizeRoute cleans a route pattern or raw path for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod cleans an HTTP method for logging.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID cleans a Firebase uid for logging.
func SanitizeUserID(uid string) string {
	return sanitizeString(strings.TrimSpace(uid), 64)
}

// SanitizeID cleans order ids, settlement event ids and message ids. They reach us from
// clients and providers, so they are untrusted.
func SanitizeID(id string) string {
	return sanitizeString(strings.TrimSpace(id), idLimit)
}

// MaskEmail keeps the first character of the local part and the domain: "a***@example.com".
func MaskEmail(email string) string {
	email = sanitizeString(strings.TrimSpace(email), defaultStringLimit)
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	first := []rune(email[:at])[0]
	return string(first) + "***" + email[at:]
}

// sanitizeField applies the cleaner matching a service log field name.
func sanitizeField(key, value string) string {
	lower := strings.ToLower(key)
	switch {
	case strings.Contains(lower, "email"), strings.Contains(lower, "recipient"):
		return MaskEmail(value)
	case strings.HasSuffix(lower, "id"):
		return SanitizeID(value)
	default:
		return sanitizeString(value, defaultStringLimit)
	}
}
