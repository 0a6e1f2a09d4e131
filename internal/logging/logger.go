// Package logging provides the logging interface and default implementations
// for docyard.
//
// Design: four-level interface (Error, Warn, Info, Debug). Users can wrap
// their own structured loggers (slog, zap) if needed.
//
// Log format: YYYY/MM/DD HH:MM:SS LEVEL [component] message
//
// Example: 2026/08/06 18:45:13 INFO [query] compiled selector
//
// Component namespace prefixes are used for filtering:
//   - [db]         — database lifecycle and key-store management
//   - [txn]        — transaction begin/commit/abort
//   - [query]      — query compilation
//   - [enum]       — query enumerator paging and refresh
//   - [index]      — index creation and maintenance
//   - [checkpoint] — replication checkpoint storage
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Level represents the logging level.
type Level int

const (
	// LevelError logs only errors.
	LevelError Level = iota
	// LevelWarn logs warnings and errors.
	LevelWarn
	// LevelInfo logs info, warnings, and errors.
	LevelInfo
	// LevelDebug logs everything including debug messages.
	LevelDebug
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Logger defines the interface for database logging.
//
// Concurrency: DefaultLogger and Discard are safe for concurrent use.
// User-provided Logger implementations MUST be safe for concurrent use,
// as logging may occur from multiple goroutines simultaneously.
type Logger interface {
	// Errorf logs a formatted error message.
	Errorf(format string, args ...any)

	// Warnf logs a formatted warning message.
	Warnf(format string, args ...any)

	// Infof logs a formatted informational message.
	Infof(format string, args ...any)

	// Debugf logs a formatted debug message.
	Debugf(format string, args ...any)
}

// DefaultLogger is the default logger that writes to a specified output.
// It is stateless and safe for concurrent use (log.Logger is thread-safe).
// Level is read-only after construction — create a new logger to change it.
type DefaultLogger struct {
	logger *log.Logger
	level  Level
}

// NewDefaultLogger creates a new default logger with the specified level.
// It writes to stderr.
func NewDefaultLogger(level Level) *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(os.Stderr, "", log.LstdFlags),
		level:  level,
	}
}

// NewLogger creates a new logger with the specified output and level.
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
	}
}

func (l *DefaultLogger) output(level Level, format string, args ...any) {
	if level > l.level {
		return
	}
	l.logger.Printf("%s %s", level, fmt.Sprintf(format, args...))
}

// Errorf implements Logger.
func (l *DefaultLogger) Errorf(format string, args ...any) {
	l.output(LevelError, format, args...)
}

// Warnf implements Logger.
func (l *DefaultLogger) Warnf(format string, args ...any) {
	l.output(LevelWarn, format, args...)
}

// Infof implements Logger.
func (l *DefaultLogger) Infof(format string, args ...any) {
	l.output(LevelInfo, format, args...)
}

// Debugf implements Logger.
func (l *DefaultLogger) Debugf(format string, args ...any) {
	l.output(LevelDebug, format, args...)
}
