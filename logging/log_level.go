package logging

import (
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
)

// ParseLogLevel reads a level name from envVarName, returning defaultLevel
// when the variable is unset or unrecognized.
func ParseLogLevel(envVarName string, defaultLevel zapcore.Level) zapcore.Level {
	value := os.Getenv(envVarName)
	if value == "" {
		return defaultLevel
	}
	return ParseLogLevelString(value, defaultLevel)
}

// ParseLogLevelString parses debug, info, warn/warning, error or fatal,
// case-insensitively.
func ParseLogLevelString(levelStr string, defaultLevel zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return defaultLevel
	}
}
