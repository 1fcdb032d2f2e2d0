package logging

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces sensitive values in log output.
const RedactedPlaceholder = "[REDACTED]"

// sensitivePatterns match credentials that may end up inside free-form
// strings such as response bodies or error messages.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(x-key\s*[:=]\s*[^\s,;"]+)`),
	regexp.MustCompile(`(?i)(bearer\s+[a-zA-Z0-9._-]{20,})`),
	regexp.MustCompile(`(?i)(api_key\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(apikey\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(token\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(secret\s*[:=]\s*[^\s,;]{8,})`),
}

// sensitiveKeyFragments mark a field name whose value must never be logged.
var sensitiveKeyFragments = []string{
	"BFL_API_KEY",
	"X_KEY",
	"X-KEY",
	"XKEY",
	"API_KEY",
	"APIKEY",
	"CREDENTIAL",
	"PASSWORD",
	"SECRET",
	"TOKEN",
}

// RedactSensitiveData scrubs credential-looking substrings from value.
//
// Example:
//
//	RedactSensitiveData("headers: x-key: 1b2c3d") // "headers: [REDACTED]"
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}
	result := value
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, RedactedPlaceholder)
	}
	return result
}

// IsSensitiveField reports whether a field name indicates a credential.
//
// Example:
//
//	IsSensitiveField("x_key")    // true
//	IsSensitiveField("task_id")  // false
func IsSensitiveField(fieldName string) bool {
	upper := strings.ToUpper(fieldName)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(upper, fragment) {
			return true
		}
	}
	return false
}
