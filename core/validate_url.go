package core

import (
	"net/url"
	"strings"
)

// ValidateBaseURL checks that an API base URL parses and uses http(s).
func ValidateBaseURL(baseURL string) error {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return ErrInvalidBaseURL(baseURL, "URL cannot be empty")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return ErrInvalidBaseURL(baseURL, err.Error())
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidBaseURL(baseURL, "scheme must be http or https")
	}
	if parsed.Host == "" {
		return ErrInvalidBaseURL(baseURL, "URL must include a host")
	}
	return nil
}
