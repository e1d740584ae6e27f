package seriallink

import (
	"avaneesh/seriallink-go/pkg/internal/logger"
)

// LogLevel represents logging level
type LogLevel int

const (
	// LevelDebug shows all log messages (most verbose)
	LevelDebug LogLevel = iota
	// LevelInfo shows info, warn, and error messages (default)
	LevelInfo
	// LevelWarn shows warn and error messages
	LevelWarn
	// LevelError shows only error messages
	LevelError
)

// SetLogLevel sets the global logging level
func SetLogLevel(level LogLevel) {
	logger.SetDefault(logger.NewDefaultLogger(logger.Level(level)))
}

// ParseLogLevel converts a level name such as "debug" or "warn"
func ParseLogLevel(s string) (LogLevel, error) {
	level, err := logger.ParseLevel(s)
	return LogLevel(level), err
}

// EnableFrameDebug enables or disables detailed frame debugging
// When enabled, shows hex dumps of all frames sent and received
func EnableFrameDebug(enable bool) {
	logger.SetFrameDebug(enable)
}

// LogInfo logs an info message through the default logger
func LogInfo(format string, args ...interface{}) {
	logger.Info(format, args...)
}

// LogWarn logs a warning through the default logger
func LogWarn(format string, args ...interface{}) {
	logger.Warn(format, args...)
}

// LogError logs an error through the default logger
func LogError(format string, args ...interface{}) {
	logger.Error(format, args...)
}
