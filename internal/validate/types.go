// SPDX-License-Identifier: MIT

package validate

import "strings"

// LogLevel represents a validated log level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ErrInvalidLogLevel is returned when a log level string cannot be parsed.
var ErrInvalidLogLevel = &Error{
	Field:   "log_level",
	Message: "must be one of: debug, info, warn, error",
}

// IsValid reports whether the log level is one of the known values.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	return string(l)
}

// ParseLogLevel parses and validates a log level string.
// Matching is case-insensitive and tolerant of surrounding whitespace.
func ParseLogLevel(s string) (LogLevel, error) {
	level := LogLevel(strings.ToLower(strings.TrimSpace(s)))
	if !level.IsValid() {
		return "", ErrInvalidLogLevel
	}
	return level, nil
}
