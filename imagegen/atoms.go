// Package imagegen drives asynchronous image generation tasks on the remote
// FLUX service: request construction, submission, result polling with
// backoff, artifact decoding, and the blank-image fallback.
//
// atoms.go contains pure utility functions with no dependencies.
package imagegen

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Backoff parameters for result polling. The wait before attempt n is
// min(2^n + 5, 30) units.
const (
	backoffOffset   = 5
	DefaultMaxDelay = 30 * time.Second
	DefaultUnit     = time.Second
)

// BackoffDelay returns the wait before the given 1-based polling attempt.
// A non-positive unit falls back to DefaultUnit. Attempts 1..6 with a one second unit give 7, 9, 13, 21, 30, 30 seconds.
//
// Example:
//
//	BackoffDelay(1, time.Second, 30*time.Second) // 7s
//	BackoffDelay(4, time.Second, 30*time.Second) // 21s
func BackoffDelay(attempt int, unit, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if unit <= 0 {
		unit = DefaultUnit
	}
	maxUnits := int64(maxDelay / unit)
	if attempt >= 62 {
		return time.Duration(maxUnits) * unit
	}
	units := int64(1)<<attempt + backoffOffset
	if units > maxUnits {
		units = maxUnits
	}
	return time.Duration(units) * unit
}

// isSuccessStatus reports whether an HTTP status code is 2xx.
func isSuccessStatus(code int) bool {
	return code >= 200 && code < 300
}

// joinEndpoint appends path to base with exactly one slash between them.
func joinEndpoint(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// truncateText truncates text to maxLen characters, adding "..." if truncated.
func truncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	if maxLen <= 3 {
		return text[:maxLen]
	}
	return text[:maxLen-3] + "..."
}

// newCorrelationID returns a short identifier tying together the log lines
// and history row of one orchestrator run.
func newCorrelationID() string {
	return uuid.New().String()[:8]
}
