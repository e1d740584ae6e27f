package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Level represents logging level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns string representation of Level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name as written in config files
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// Logger is the interface for logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	SetLevel(level Level)
}

// DefaultLogger writes leveled console output through zerolog
type DefaultLogger struct {
	level  atomic.Int32
	logger zerolog.Logger
}

// NewDefaultLogger creates a logger writing to stdout
func NewDefaultLogger(level Level) *DefaultLogger {
	return NewLogger(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}, level)
}

// NewLogger creates a logger writing to w
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	l := &DefaultLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
	l.level.Store(int32(level))
	return l
}

// With returns a child logger that tags every line with key=value
func (l *DefaultLogger) With(key, value string) *DefaultLogger {
	child := &DefaultLogger{
		logger: l.logger.With().Str(key, value).Logger(),
	}
	child.level.Store(l.level.Load())
	return child
}

func (l *DefaultLogger) enabled(level Level) bool {
	return Level(l.level.Load()) <= level
}

// Debug logs debug message
func (l *DefaultLogger) Debug(format string, args ...interface{}) {
	if l.enabled(LevelDebug) {
		l.logger.WithLevel(LevelDebug.zerolog()).Msgf(format, args...)
	}
}

// Info logs info message
func (l *DefaultLogger) Info(format string, args ...interface{}) {
	if l.enabled(LevelInfo) {
		l.logger.WithLevel(LevelInfo.zerolog()).Msgf(format, args...)
	}
}

// Warn logs warning message
func (l *DefaultLogger) Warn(format string, args ...interface{}) {
	if l.enabled(LevelWarn) {
		l.logger.WithLevel(LevelWarn.zerolog()).Msgf(format, args...)
	}
}

// Error logs error message
func (l *DefaultLogger) Error(format string, args ...interface{}) {
	if l.enabled(LevelError) {
		l.logger.WithLevel(LevelError.zerolog()).Msgf(format, args...)
	}
}

// SetLevel sets the logging level
func (l *DefaultLogger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// NoOpLogger is a logger that doesn't log anything
type NoOpLogger struct{}

// NewNoOpLogger creates a logger that doesn't log
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug does nothing
func (l *NoOpLogger) Debug(format string, args ...interface{}) {}

// Info does nothing
func (l *NoOpLogger) Info(format string, args ...interface{}) {}

// Warn does nothing
func (l *NoOpLogger) Warn(format string, args ...interface{}) {}

// Error does nothing
func (l *NoOpLogger) Error(format string, args ...interface{}) {}

// SetLevel does nothing
func (l *NoOpLogger) SetLevel(level Level) {}

// Global default logger
var defaultLogger atomic.Value

func init() {
	defaultLogger.Store(loggerHolder{NewDefaultLogger(LevelInfo)})
}

// atomic.Value needs one concrete type for every Store
type loggerHolder struct{ Logger }

// SetDefault sets the default logger
func SetDefault(logger Logger) {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	defaultLogger.Store(loggerHolder{logger})
}

// GetDefault returns the default logger
func GetDefault() Logger {
	return defaultLogger.Load().(loggerHolder).Logger
}

// Frame hex dumps

var frameDebug atomic.Bool

// SetFrameDebug enables or disables hex dumps of frames on the wire
func SetFrameDebug(enable bool) {
	frameDebug.Store(enable)
}

// FrameDebugEnabled reports whether frame hex dumps are on
func FrameDebugEnabled() bool {
	return frameDebug.Load()
}

// Hex formats data as space separated upper case hex bytes
func Hex(data []byte) string {
	return fmt.Sprintf("% X", data)
}

// Helper functions using default logger

// Debug logs debug message using default logger
func Debug(format string, args ...interface{}) {
	GetDefault().Debug(format, args...)
}

// Info logs info message using default logger
func Info(format string, args ...interface{}) {
	GetDefault().Info(format, args...)
}

// Warn logs warning message using default logger
func Warn(format string, args ...interface{}) {
	GetDefault().Warn(format, args...)
}

// Error logs error message using default logger
func Error(format string, args ...interface{}) {
	GetDefault().Error(format, args...)
}
