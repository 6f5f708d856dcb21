// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package observability builds the structured logger shared by all stages.
package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdiddy/arxiv-digest/pkg/types"
)

// NewLogger creates a zerolog logger from cfg. Unknown outputs fall back to
// stderr so stdout stays free for command output.
func NewLogger(cfg types.LoggingConfig) zerolog.Logger {
	var out io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		out = os.Stdout
	default:
		out = os.Stderr
	}
	return newLogger(cfg, out)
}

func newLogger(cfg types.LoggingConfig, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	if f := strings.ToLower(cfg.Format); f == "console" || f == "pretty" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	return zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

// ParseLevel converts a level name to a zerolog.Level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// WithRun adds the run identifier to a logger.
func WithRun(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Logger()
}

// WithStage adds the pipeline stage name to a logger.
func WithStage(logger zerolog.Logger, stage string) zerolog.Logger {
	return logger.With().Str("stage", stage).Logger()
}
