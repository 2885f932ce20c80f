// SPDX-License-Identifier: MIT
package validate

import (
	"strings"

	"github.com/rs/zerolog"
)

// LogLevel is a log level name accepted by the logger.
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether the level is one the daemon allows in config.
// Levels above error silence transport failures and are rejected.
func (l LogLevel) IsValid() bool {
	lvl, err := zerolog.ParseLevel(string(l))
	if err != nil || l == "" {
		return false
	}
	return lvl >= zerolog.TraceLevel && lvl <= zerolog.ErrorLevel
}

func (l LogLevel) String() string {
	return string(l)
}

// ParseLogLevel parses a level name, ignoring case and surrounding space.
func ParseLogLevel(s string) (LogLevel, error) {
	level := LogLevel(strings.ToLower(strings.TrimSpace(s)))
	if !level.IsValid() {
		return "", ErrInvalidLogLevel
	}
	return level, nil
}

var (
	ErrInvalidLogLevel = &Error{
		Field:   "logLevel",
		Message: "invalid log level (must be: trace, debug, info, warn, error)",
	}
)
