// Package logging configures zerolog for the operational tools: console
// output for operators plus an append-only file in the logs directory, the
// same file the health sampler's error scan reads.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Setup returns the root logger. When logsDir is non-empty a sisteros-ops.log
// file there receives every event in JSON regardless of the console format.
func Setup(level string, jsonOutput bool, logsDir string) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(level))

	var console io.Writer = os.Stderr
	if !jsonOutput {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{console}
	if logsDir != "" {
		if f, err := openLogFile(logsDir); err == nil {
			writers = append(writers, f)
		}
		// A log file that cannot be opened is not worth failing startup
		// over; console output still works.
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with a component field.
func WithComponent(log zerolog.Logger, component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

func openLogFile(logsDir string) (*os.File, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(logsDir, "sisteros-ops.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func parseLevel(level string) zerolog.Level {
	switch level {
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
