package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration problem with an actionable fix.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // What the operator should do about it
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeConfigFileMissing = "CONFIG_FILE_MISSING"
	ErrCodeInvalidConfigFile = "INVALID_CONFIG_FILE"
	ErrCodeInvalidBaseURL    = "INVALID_BASE_URL"
	ErrCodeMissingAuth       = "MISSING_AUTH"
	ErrCodeInvalidValue      = "INVALID_VALUE"
)

// ErrConfigFileMissing returns an error for a config file that does not exist.
func ErrConfigFileMissing(path string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeConfigFileMissing,
		Message: fmt.Sprintf("Configuration file not found: %s", path),
		Action:  "Check the --config path or drop the flag to use environment variables only",
	}
}

// ErrInvalidConfigFile returns an error for a config file that is not valid YAML.
func ErrInvalidConfigFile(path, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidConfigFile,
		Message: fmt.Sprintf("Configuration file %s could not be parsed: %s", path, reason),
		Action:  "Fix the YAML syntax and check key names such as base_url and poll_max_attempts",
	}
}

// ErrInvalidBaseURL returns an error for a malformed API base URL.
func ErrInvalidBaseURL(url, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidBaseURL,
		Message: fmt.Sprintf("Invalid BFL_BASE_URL '%s': %s", url, reason),
		Action:  "Set BFL_BASE_URL to a valid URL (e.g., https://api.bfl.ai/v1)",
	}
}

// ErrMissingAuth returns an error for a missing API credential.
func ErrMissingAuth() *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingAuth,
		Message: "Missing API credential",
		Action:  "Set BFL_API_KEY in your .env file or pass --x-key",
	}
}

// ErrInvalidValue returns an error for an out-of-range setting.
func ErrInvalidValue(varName, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid %s: %s", varName, reason),
		Action:  fmt.Sprintf("Correct %s in your .env or config file", varName),
	}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the code from a ConfigError, or "".
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
