package core

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvOrDefault returns the value of key, or defaultValue when unset.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ParseIntEnv parses key as an int, falling back to defaultValue.
func ParseIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// ParseFloat64Env parses key as a float64, falling back to defaultValue.
func ParseFloat64Env(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// ParseBoolEnv accepts true/1/yes/on and false/0/no/off, case-insensitively.
func ParseBoolEnv(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}

// ParseDurationEnv reads key as a whole number of seconds.
func ParseDurationEnv(key string, defaultSeconds int) time.Duration {
	return time.Duration(ParseIntEnv(key, defaultSeconds)) * time.Second
}
