// Package logging configures structured logging for the scraper service using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty switches from JSON lines to the zerolog console writer.
	Pretty bool

	// Output is the destination writer (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger returns a child of the global logger tagged with a component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForJob returns a child of logger carrying the job_id and username fields.
func ForJob(logger zerolog.Logger, jobID, username string) zerolog.Logger {
	return logger.With().Str("job_id", jobID).Str("username", username).Logger()
}

// ValidLevel reports whether level names one of the supported levels.
func ValidLevel(level LogLevel) bool {
	switch LogLevel(strings.ToLower(strings.TrimSpace(string(level)))) {
	case LevelDebug, LevelInfo, LevelWarn, "warning", LevelError:
		return true
	}
	return false
}

// Log Level Guidelines:
//
// Debug: cache hit/miss and key, page fetch boundaries, README fetches,
// conditional revalidation (ETag) results.
//
// Info: job lifecycle transitions, export artifacts written, server
// startup/shutdown, reaper cycles that removed something.
//
// Warn: upstream quota below the warning threshold, rate-limited or
// forbidden responses, partial pagination, webhook delivery failures,
// retry attempts.
//
// Error: failed jobs, profile fetch failures, recovered panics,
// configuration errors.
//
// Context Fields:
//   - component: emitting package
//   - job_id: job identifier
//   - username: GitHub subject being scraped
//   - page: repository listing page
//   - repo: repository name
//   - error_class: not_found, rate_limited, timeout, validation, server, network, client
//   - remaining: upstream X-RateLimit-Remaining
//   - duration: request or job duration
