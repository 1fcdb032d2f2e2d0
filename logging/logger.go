// Package logging provides the structured logger shared by every fluxtask
// component: zap underneath, lumberjack rotation for the log file, and
// automatic redaction of credentials.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LevelEnvVar overrides the level chosen from the development flag.
const LevelEnvVar = "FLUXTASK_LOG_LEVEL"

// Logger wraps zap.Logger and redacts sensitive fields before every write.
//
// Example:
//
//	logger, err := NewLogger(true, "fluxtask.log")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("task submitted", zap.String("task_id", id))
type Logger struct {
	zap           *zap.Logger
	isDevelopment bool
	logFilePath   string
}

// NewLogger creates a Logger that tees to the console and a rotated log file.
//
// Development mode logs at debug level with a colored console encoder;
// production logs at info level as JSON. FLUXTASK_LOG_LEVEL overrides both.
// The file is always JSON.
func NewLogger(isDevelopment bool, logFilePath string) (*Logger, error) {
	return NewLoggerWithConfig(isDevelopment, logFilePath, DefaultFileWriterConfig())
}

// NewLoggerWithConfig is NewLogger with explicit rotation settings.
func NewLoggerWithConfig(isDevelopment bool, logFilePath string, fileConfig FileWriterConfig) (*Logger, error) {
	if logFilePath == "" {
		return nil, fmt.Errorf("logging: log file path is required")
	}

	defaultLevel := zapcore.InfoLevel
	if isDevelopment {
		defaultLevel = zapcore.DebugLevel
	}
	level := ParseLogLevel(LevelEnvVar, defaultLevel)

	core := NewMultiCore(level, NewConsoleWriter(), NewFileWriterWithConfig(logFilePath, fileConfig), isDevelopment)

	zapLogger := zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1), // skip this wrapper
	)

	return &Logger{
		zap:           zapLogger,
		isDevelopment: isDevelopment,
		logFilePath:   logFilePath,
	}, nil
}

// NewWithCore builds a Logger around an arbitrary core. Tests use it with
// zaptest/observer or an in-memory writer.
func NewWithCore(core zapcore.Core) *Logger {
	return &Logger{zap: zap.New(core, zap.AddCallerSkip(1))}
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// Sync flushes buffered entries. Call it before exiting.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zap.Debug(msg, redactFields(fields)...)
}

func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, redactFields(fields)...)
}

func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zap.Warn(msg, redactFields(fields)...)
}

func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zap.Error(msg, redactFields(fields)...)
}

// With returns a child logger that adds fields to every entry.
//
// Example:
//
//	taskLog := logger.With(zap.String("task_id", string(handle)))
//	taskLog.Info("polling")
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{
		zap:           l.zap.With(redactFields(fields)...),
		isDevelopment: l.isDevelopment,
		logFilePath:   l.logFilePath,
	}
}

// Named adds a sub-logger name that shows up as the "source" key.
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		zap:           l.zap.Named(name),
		isDevelopment: l.isDevelopment,
		logFilePath:   l.logFilePath,
	}
}

// Zap exposes the underlying logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// IsDevelopment reports whether the logger was built in development mode.
func (l *Logger) IsDevelopment() bool {
	return l.isDevelopment
}

// LogFilePath returns the rotated log file path, or "" for Nop/custom cores.
func (l *Logger) LogFilePath() string {
	return l.logFilePath
}

// redactFields filters sensitive data from zap fields before they are encoded.
func redactFields(fields []zap.Field) []zap.Field {
	if len(fields) == 0 {
		return fields
	}
	result := make([]zap.Field, len(fields))
	for i, field := range fields {
		result[i] = redactField(field)
	}
	return result
}

func redactField(field zap.Field) zap.Field {
	if IsSensitiveField(field.Key) {
		return zap.String(field.Key, RedactedPlaceholder)
	}
	if field.Type == zapcore.StringType {
		if redacted := RedactSensitiveData(field.String); redacted != field.String {
			return zap.String(field.Key, redacted)
		}
	}
	return field
}
