package logging

import (
	"os"

	"go.uber.org/zap/zapcore"
)

// NewMultiCore tees log output to a console writer and a file writer.
//
// The file side is always JSON. The console side is human-readable with
// colored levels when isDev is true, JSON otherwise.
//
// Example:
//
//	var buf bytes.Buffer
//	core := NewMultiCore(zapcore.DebugLevel, zapcore.AddSync(os.Stdout), zapcore.AddSync(&buf), true)
//	logger := zap.New(core)
func NewMultiCore(level zapcore.Level, consoleWriter, fileWriter zapcore.WriteSyncer, isDev bool) zapcore.Core {
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(NewEncoderConfig()),
		fileWriter,
		level,
	)

	var consoleEncoder zapcore.Encoder
	if isDev {
		consoleEncoder = zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(NewEncoderConfig())
	}

	consoleCore := zapcore.NewCore(consoleEncoder, consoleWriter, level)

	return zapcore.NewTee(consoleCore, fileCore)
}

// NewConsoleWriter writes to stderr so stdout stays free for command output.
func NewConsoleWriter() zapcore.WriteSyncer {
	return zapcore.Lock(zapcore.AddSync(os.Stderr))
}
