// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/juju/loggo/v2"
)

// MaxLogValueLength limits the length of log values to prevent log injection
// and excessive log file growth. Values longer than this are truncated.
const MaxLogValueLength = 1024

// Logger interface for pluggable logging support
//
// Implementations should use structured logging with key-value pairs.
// The go-wappsto library provides three implementations:
//   - DefaultLogger: Wraps Go's standard log package with configurable log level
//   - LoggoLogger: Forwards to a juju/loggo logger
//   - NoOpLogger: Zero-overhead logging when disabled (default)
//
// Every method receives the context of the operation being logged, so
// adapters can pick up request-scoped fields.
//
// Example custom logger integration:
//
//	type SlogAdapter struct {
//	    logger *slog.Logger
//	}
//
//	func (s *SlogAdapter) Debug(ctx context.Context, msg string, keysAndValues ...any) {
//	    s.logger.DebugContext(ctx, msg, keysAndValues...)
//	}
//	// ... implement other methods
//
//	client, _ := wappsto.Open(ctx, "./config",
//	    wappsto.WithLogger(&SlogAdapter{logger: slog.Default()}))
type Logger interface {
	Debug(ctx context.Context, msg string, keysAndValues ...any)
	Info(ctx context.Context, msg string, keysAndValues ...any)
	Warn(ctx context.Context, msg string, keysAndValues ...any)
	Error(ctx context.Context, msg string, keysAndValues ...any)
}

// LogLevel represents the severity threshold for logging
type LogLevel int

const (
	// LogLevelDebug enables all log levels (most verbose)
	LogLevelDebug LogLevel = iota

	// LogLevelInfo enables Info, Warn, and Error logs
	LogLevelInfo

	// LogLevelWarn enables Warn and Error logs
	LogLevelWarn

	// LogLevelError enables only Error logs
	LogLevelError

	// LogLevelNone disables all logging
	LogLevelNone
)

// String returns the string representation of a LogLevel
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// DefaultLogger wraps Go's standard log package with configurable log level
//
// Log output format: [LEVEL] message key1=value1 key2=value2
//
// Example:
//
//	logger := wappsto.NewDefaultLogger(wappsto.LogLevelDebug)
//	client, _ := wappsto.Open(ctx, "./config", wappsto.WithLogger(logger))
type DefaultLogger struct {
	level LogLevel
}

// NewDefaultLogger creates a DefaultLogger with the specified log level
func NewDefaultLogger(level LogLevel) *DefaultLogger {
	return &DefaultLogger{level: level}
}

// Debug logs a debug message with structured key-value pairs
func (l *DefaultLogger) Debug(_ context.Context, msg string, keysAndValues ...any) {
	if l.level <= LogLevelDebug {
		l.log(LogLevelDebug, msg, keysAndValues...)
	}
}

// Info logs an informational message with structured key-value pairs
func (l *DefaultLogger) Info(_ context.Context, msg string, keysAndValues ...any) {
	if l.level <= LogLevelInfo {
		l.log(LogLevelInfo, msg, keysAndValues...)
	}
}

// Warn logs a warning message with structured key-value pairs
func (l *DefaultLogger) Warn(_ context.Context, msg string, keysAndValues ...any) {
	if l.level <= LogLevelWarn {
		l.log(LogLevelWarn, msg, keysAndValues...)
	}
}

// Error logs an error message with structured key-value pairs
func (l *DefaultLogger) Error(_ context.Context, msg string, keysAndValues ...any) {
	if l.level <= LogLevelError {
		l.log(LogLevelError, msg, keysAndValues...)
	}
}

// log writes one formatted line through the standard log package
func (l *DefaultLogger) log(level LogLevel, msg string, keysAndValues ...any) {
	if l.level > level {
		return
	}

	var builder strings.Builder
	builder.Grow(len(msg) + 10 + len(keysAndValues)*25)
	builder.WriteString("[")
	builder.WriteString(level.String())
	builder.WriteString("] ")
	builder.WriteString(formatLogLine(msg, keysAndValues...))

	log.Println(builder.String())
}

// formatLogLine renders msg followed by sanitized key=value pairs
//
// The message string is NOT sanitized as it comes from the library code
// itself. Keys and values are, since they often carry frame contents.
func formatLogLine(msg string, keysAndValues ...any) string {
	var builder strings.Builder
	builder.Grow(len(msg) + len(keysAndValues)*25)
	builder.WriteString(msg)

	for i := 0; i < len(keysAndValues); i += 2 {
		builder.WriteString(" ")
		builder.WriteString(sanitizeLogValue(keysAndValues[i]))

		if i+1 < len(keysAndValues) {
			builder.WriteString("=")
			builder.WriteString(sanitizeLogValue(keysAndValues[i+1]))
		} else {
			// Odd-length array - mark missing value explicitly
			builder.WriteString("=<MISSING>")
		}
	}

	return builder.String()
}

// sanitizeLogValue sanitizes a log value to prevent log injection attacks
// and limit log size. Handles control characters, ANSI escape sequences,
// Unicode attacks (RTL override, zero-width), and excessive length.
//
// Inbound frames are attacker-controlled from the device's point of view,
// so any value taken from them goes through here before hitting the log.
//
// Example attack prevented:
//
//	Input: "device\n[ERROR] Fake attack message"
//	Output: "device [ERROR] Fake attack message"
func sanitizeLogValue(val any) string {
	str := fmt.Sprintf("%v", val)

	if len(str) > MaxLogValueLength {
		str = str[:MaxLogValueLength] + "...[TRUNCATED]"
	}

	var builder strings.Builder
	builder.Grow(len(str))

	for i := 0; i < len(str); i++ {
		r := rune(str[i])

		if r >= 0x80 {
			decoded, size := utf8.DecodeRuneInString(str[i:])
			if decoded == utf8.RuneError {
				builder.WriteRune('.')
				// Must advance on malformed UTF-8
				if size == 0 {
					size = 1
				}
				i += size - 1
				continue
			}

			switch decoded {
			case 0x200B, 0x200C, 0x200D, 0xFEFF: // Zero-width characters
			case 0x202E: // Right-to-left override
				builder.WriteRune(' ')
			default:
				builder.WriteString(str[i : i+size])
				i += size - 1
			}
			continue
		}

		switch r {
		case '\n', '\r', '\t', 0x0C:
			builder.WriteRune(' ')
		case 0x1B, 0x07, 0x08: // ESC, bell, backspace
			builder.WriteRune('.')
		default:
			if r < 32 || r == 127 {
				builder.WriteRune('.')
			} else {
				builder.WriteRune(r)
			}
		}
	}

	return builder.String()
}

// LoggoLogger forwards log calls to a juju/loggo logger
//
// This lets applications that already configure logging through loggo
// specifications (e.g. "<root>=INFO;wappsto=DEBUG") control the library
// with the same mechanism.
//
// Example:
//
//	_ = loggo.ConfigureLoggers("wappsto=DEBUG")
//	client, _ := wappsto.Open(ctx, "./config",
//	    wappsto.WithLogger(wappsto.NewLoggoLogger("wappsto")))
type LoggoLogger struct {
	logger loggo.Logger
}

// NewLoggoLogger creates a LoggoLogger for the named loggo module
func NewLoggoLogger(module string) *LoggoLogger {
	return &LoggoLogger{logger: loggo.GetLogger(module)}
}

// Debug logs at loggo DEBUG level
func (l *LoggoLogger) Debug(_ context.Context, msg string, keysAndValues ...any) {
	if l.logger.IsDebugEnabled() {
		l.logger.Debugf("%s", formatLogLine(msg, keysAndValues...))
	}
}

// Info logs at loggo INFO level
func (l *LoggoLogger) Info(_ context.Context, msg string, keysAndValues ...any) {
	if l.logger.IsInfoEnabled() {
		l.logger.Infof("%s", formatLogLine(msg, keysAndValues...))
	}
}

// Warn logs at loggo WARNING level
func (l *LoggoLogger) Warn(_ context.Context, msg string, keysAndValues ...any) {
	l.logger.Warningf("%s", formatLogLine(msg, keysAndValues...))
}

// Error logs at loggo ERROR level
func (l *LoggoLogger) Error(_ context.Context, msg string, keysAndValues ...any) {
	l.logger.Errorf("%s", formatLogLine(msg, keysAndValues...))
}

// NoOpLogger is a no-operation logger that discards all log messages
//
// This is the default logger used by go-wappsto when no custom logger
// is configured.
type NoOpLogger struct{}

// Debug discards the log message
func (n *NoOpLogger) Debug(_ context.Context, _ string, _ ...any) {}

// Info discards the log message
func (n *NoOpLogger) Info(_ context.Context, _ string, _ ...any) {}

// Warn discards the log message
func (n *NoOpLogger) Warn(_ context.Context, _ string, _ ...any) {}

// Error discards the log message
func (n *NoOpLogger) Error(_ context.Context, _ string, _ ...any) {}
