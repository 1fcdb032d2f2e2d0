package logging

import (
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for the log file.
const (
	DefaultMaxSizeMB  = 20
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 14
	DefaultCompress   = true
)

// FileWriterConfig controls log rotation. Zero values fall back to the
// defaults above, except Compress which is taken as given.
type FileWriterConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	LocalTime  bool
}

// DefaultFileWriterConfig returns the default rotation settings.
func DefaultFileWriterConfig() FileWriterConfig {
	return FileWriterConfig{
		MaxSizeMB:  DefaultMaxSizeMB,
		MaxBackups: DefaultMaxBackups,
		MaxAgeDays: DefaultMaxAgeDays,
		Compress:   DefaultCompress,
	}
}

// NewFileWriterWithConfig returns a WriteSyncer backed by a rotating file.
func NewFileWriterWithConfig(path string, config FileWriterConfig) zapcore.WriteSyncer {
	cfg := applyFileWriterDefaults(config)

	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		LocalTime:  cfg.LocalTime,
	})
}

func applyFileWriterDefaults(config FileWriterConfig) FileWriterConfig {
	result := config
	if result.MaxSizeMB == 0 {
		result.MaxSizeMB = DefaultMaxSizeMB
	}
	if result.MaxBackups == 0 {
		result.MaxBackups = DefaultMaxBackups
	}
	if result.MaxAgeDays == 0 {
		result.MaxAgeDays = DefaultMaxAgeDays
	}
	return result
}
