// Package logging wraps zap with the naming and environment presets used
// across the lab binaries.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a logging priority. Higher levels are more important.
type Level int8

// Logging levels (matching zap core internals).
const (
	DebugLevel Level = -1
	InfoLevel  Level = 0
	WarnLevel  Level = 1
	ErrorLevel Level = 2
)

// ParseLevel converts a textual level ("debug", "info", "warn", "error").
func ParseLevel(s string) (Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return InfoLevel, fmt.Errorf("parse log level %q: %w", s, err)
	}
	return Level(l), nil
}

// Logger is a named zap logger.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
	name  string
}

// New wraps an existing zap logger. The level of the wrapped logger is not
// adjustable through SetLevel.
func New(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &Logger{Logger: l, level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return New(zap.NewNop())
}

// GetName returns the dotted name of the logger.
func (log *Logger) GetName() string {
	return log.name
}

// Named returns a child logger; names are joined with a dot.
func (log *Logger) Named(name string) *Logger {
	newName := name
	if log.name != "" {
		newName = log.name + "." + name
	}
	return &Logger{
		Logger: log.Logger.Named(name),
		level:  log.level,
		name:   newName,
	}
}

// With returns a child logger carrying the given fields.
func (log *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{
		Logger: log.Logger.With(fields...),
		level:  log.level,
		name:   log.name,
	}
}

// SetLevel changes the level of loggers built by NewLoggerFromEnv.
func (log *Logger) SetLevel(level Level) {
	log.level.SetLevel(zapcore.Level(level))
}

// GetLevel returns the current level.
func (log *Logger) GetLevel() Level {
	return Level(log.level.Level())
}

// AtExit flushes buffered entries. Meant to be deferred right after the
// logger is built.
func (log *Logger) AtExit() {
	if log.Logger != nil {
		_ = log.Logger.Sync()
	}
}

// NewLoggerFromEnv builds a console logger at debug level for "dev" and a
// JSON logger at info level for anything else.
func NewLoggerFromEnv(env string) *Logger {
	var (
		encoder zapcore.Encoder
		level   zap.AtomicLevel
	)

	switch env {
	case "dev":
		encoder = zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			CallerKey:      "C",
			EncodeCaller:   zapcore.ShortCallerEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			LevelKey:       "L",
			LineEnding:     "\n",
			MessageKey:     "M",
			NameKey:        "N",
			TimeKey:        "T",
		})
		level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	default:
		encoder = zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			CallerKey:      "caller",
			EncodeCaller:   zapcore.ShortCallerEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeName:     zapcore.FullNameEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			LevelKey:       "level",
			LineEnding:     "\n",
			MessageKey:     "message",
			NameKey:        "logger",
			StacktraceKey:  "stacktrace",
			TimeKey:        "@timestamp",
		})
		level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	return &Logger{
		Logger: zap.New(core, zap.AddCaller()),
		level:  level,
	}
}
