package shared

import (
	"regexp"
	"strings"
)

const RedactedPlaceholder = "[REDACTED]"

// secretPatterns matches secret-bearing fragments that can leak into logs,
// event payloads, audit rows and stored agent output.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|auth[_-]?token|gateway[_-]?token|bearer)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{16,})"?`),
	regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{16,})`),
	regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`),
	regexp.MustCompile(`sk-(ant-)?[A-Za-z0-9_\-]{20,}`),
	// Telegram bot tokens: <bot id>:<secret>.
	regexp.MustCompile(`\b[0-9]{6,12}:[A-Za-z0-9_\-]{30,}\b`),
}

// sensitiveKeyParts mark a field name whose whole value is secret.
var sensitiveKeyParts = []string{"token", "secret", "password", "credential", "authorization", "api_key", "apikey", "bearer"}

// Redact replaces secret-bearing fragments of input, keeping a captured key
// prefix such as "Bearer " so the redacted text still reads.
func Redact(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, pat := range secretPatterns {
		result = pat.ReplaceAllStringFunc(result, func(match string) string {
			submatch := pat.FindStringSubmatch(match)
			if len(submatch) >= 3 && submatch[2] != "" {
				return submatch[1] + RedactedPlaceholder
			}
			return RedactedPlaceholder
		})
	}
	return result
}

// SensitiveKey reports whether a field or variable name holds a secret.
func SensitiveKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// RedactField redacts value entirely when key is sensitive, and otherwise
// scrubs secret fragments from it.
func RedactField(key, value string) string {
	if SensitiveKey(key) && value != "" {
		return RedactedPlaceholder
	}
	return Redact(value)
}
