// Package logging configures the global zerolog logger and the one-shot
// startup summary.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger with configuration from environment variables.
// LYNX_LOG_LEVEL controls the log level: trace, debug, info, warn, error (default: info).
// Output is JSON when LYNX_LOG_FORMAT=json or inside Lambda, console otherwise.
func Init() {
	log.Logger = New(os.Getenv, os.Stderr)
}

// New sets the global level from getenv and returns a logger writing to w.
func New(getenv func(string) string, w io.Writer) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(getenv("LYNX_LOG_LEVEL")))

	if JSONOutput(getenv) {
		return zerolog.New(w).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, info when unrecognised.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// JSONOutput reports whether logs should be emitted as JSON lines.
func JSONOutput(getenv func(string) string) bool {
	switch strings.ToLower(getenv("LYNX_LOG_FORMAT")) {
	case "json":
		return true
	case "console":
		return false
	}
	return getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}
