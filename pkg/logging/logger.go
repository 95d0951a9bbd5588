// Package logging provides structured logging configuration using zerolog.
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

// Component names used with NewLogger.
const (
	ComponentHost         = "host"
	ComponentWorker       = "worker"
	ComponentNetwork      = "network"
	ComponentConnectivity = "connectivity"
	ComponentSync         = "sync"
	ComponentLifecycle    = "lifecycle"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
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

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
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

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Request classification and the source that answered it
//   - Cache read misses, skipped revalidations
//   - Ignored messages and sync tags
//
// Info: Normal operation events
//   - Install, activation and stale store deletion
//   - Background sync runs and pre-cached URLs
//   - Connectivity restored
//   - Server startup/shutdown, reloads
//
// Warn: Warning conditions that don't prevent operation
//   - Network unreachable (serving from cache)
//   - Cache write failures (response still served)
//   - Failed sync endpoints and rescheduled sync tags
//   - Failed background tasks
//
// Error: Error conditions requiring attention
//   - Install failures (previous version keeps serving)
//   - Sync tags dropped after exhausting retries
//   - Configuration errors
//
// Context Fields:
//   - component: emitting subsystem (see Component constants)
//   - version: proxy version of the worker
//   - cache: versioned store name
//   - key: cache key ("METHOD url")
//   - url: request URL
//   - classification: api, static, navigation or passthrough
//   - source: network, cache, root, synthetic or error
//   - tag: background sync tag
