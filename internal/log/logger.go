// Package log provides the structured logger used throughout trackhive:
// slog-based, JSON by default, with standard field-key constants so the
// ingest path, the sync reconciler, and the CLI all log the same shape.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format is the log output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Standard field keys used across the codebase.
const (
	ProjectKey   = "project"
	RunKey       = "run"
	StepKey      = "step"
	SinkKey      = "sink"
	DurationKey  = "duration_ms"
	BatchSizeKey = "batch_size"
)

// Config holds logger construction options.
type Config struct {
	Level     string
	Format    Format
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns sensible defaults: info level, JSON format, stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: os.Stderr,
	}
}

// FromEnv builds a Config from TRACKHIVE_DEBUG / TRACKHIVE_LOG_LEVEL /
// TRACKHIVE_LOG_FORMAT, falling back to DefaultConfig.
func FromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("TRACKHIVE_DEBUG"); v == "true" || v == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	} else if v := os.Getenv("TRACKHIVE_LOG_LEVEL"); v != "" {
		cfg.Level = strings.ToLower(v)
	}

	if v := os.Getenv("TRACKHIVE_LOG_FORMAT"); v != "" {
		cfg.Format = Format(strings.ToLower(v))
	}

	return cfg
}

// New creates a logger from cfg (DefaultConfig() if nil).
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(cfg.Output, opts)
	default:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent tags a logger with the subsystem that produced it, e.g.
// "store", "sender", "reconciler".
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// Error wraps an error as a log attribute.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}
