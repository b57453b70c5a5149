// Package logging provides structured logging for goldgate.
//
// Output goes to stderr by default; stdout is reserved for command results that
// hook hosts parse.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents a log level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the encoder.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

var zapLevels = map[Level]zapcore.Level{
	LevelDebug: zapcore.DebugLevel,
	LevelInfo:  zapcore.InfoLevel,
	LevelWarn:  zapcore.WarnLevel,
	LevelError: zapcore.ErrorLevel,
}

// ParseLevel converts a configuration string to a Level.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if _, ok := zapLevels[l]; !ok {
		return "", fmt.Errorf("unsupported log level: %s", s)
	}
	return l, nil
}

// ParseFormat converts a configuration string to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatConsole:
		return Format(s), nil
	case "text":
		return FormatConsole, nil
	default:
		return "", fmt.Errorf("unsupported log format: %s", s)
	}
}

// Logger provides structured logging. Loggers derived with WithFields share
// the parent's core, so SetLevel, SetFormat and SetOutput on any of them
// apply to all.
type Logger struct {
	core   *core
	fields map[string]any
}

// core is the output state shared by a logger and everything derived from it.
type core struct {
	mu     sync.Mutex
	level  zap.AtomicLevel
	format Format
	output io.Writer
	zl     *zap.Logger
}

// NewLogger creates a new JSON logger with the specified level.
func NewLogger(level Level) *Logger {
	c := &core{
		level:  zap.NewAtomicLevelAt(zapLevels[level]),
		format: FormatJSON,
		output: os.Stderr,
	}
	c.rebuild()
	return &Logger{core: c, fields: make(map[string]any)}
}

// rebuild swaps in a zap logger for the current format and output.
// Callers hold c.mu, except NewLogger before the core is shared.
func (c *core) rebuild() {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		NameKey:        "logger",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	var enc zapcore.Encoder
	if c.format == FormatConsole {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	c.zl = zap.New(zapcore.NewCore(enc, zapcore.AddSync(c.output), c.level))
}

// WithFields returns a new logger with additional fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	newFields := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}
	return &Logger{core: l.core, fields: newFields}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.log(zapcore.DebugLevel, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.log(zapcore.InfoLevel, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]any) {
	l.log(zapcore.WarnLevel, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]any) {
	l.log(zapcore.ErrorLevel, msg, fields...)
}

// ErrorErr logs an error message with an error value.
func (l *Logger) ErrorErr(msg string, err error, fields ...map[string]any) {
	combined := map[string]any{"error": err.Error()}
	for _, f := range fields {
		for k, v := range f {
			combined[k] = v
		}
	}
	l.log(zapcore.ErrorLevel, msg, combined)
}

func (l *Logger) log(level zapcore.Level, msg string, fields ...map[string]any) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()

	ce := l.core.zl.Check(level, msg)
	if ce == nil {
		return
	}

	merged := make(map[string]any, len(l.fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	zf := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		zf = append(zf, zap.Any(k, merged[k]))
	}
	ce.Write(zf...)
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.output = w
	l.core.rebuild()
}

// SetFormat switches between JSON and console encoding.
func (l *Logger) SetFormat(f Format) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.format = f
	l.core.rebuild()
}

// SetLevel sets the log level.
func (l *Logger) SetLevel(level Level) {
	l.core.level.SetLevel(zapLevels[level])
}

// Sync flushes buffered output.
func (l *Logger) Sync() error {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	return l.core.zl.Sync()
}

// Global logger instance
var global = NewLogger(LevelInfo)

// SetGlobal sets the global logger.
func SetGlobal(l *Logger) {
	global = l
}

// Global returns the process-wide logger.
func Global() *Logger {
	return global
}

// Debug logs to the global logger.
func Debug(msg string, fields ...map[string]any) {
	global.Debug(msg, fields...)
}

// Info logs to the global logger.
func Info(msg string, fields ...map[string]any) {
	global.Info(msg, fields...)
}

// Warn logs to the global logger.
func Warn(msg string, fields ...map[string]any) {
	global.Warn(msg, fields...)
}

// Error logs to the global logger.
func Error(msg string, fields ...map[string]any) {
	global.Error(msg, fields...)
}

// ErrorErr logs to the global logger with an error.
func ErrorErr(msg string, err error, fields ...map[string]any) {
	global.ErrorErr(msg, err, fields...)
}

// WithFields returns a new logger from global with additional fields.
func WithFields(fields map[string]any) *Logger {
	return global.WithFields(fields)
}
