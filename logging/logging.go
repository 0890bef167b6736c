// Package logging builds the structured, colorized slog logger used by the CLI.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Level represents a structured log level.
type Level slog.Level

const (
	LevelDebug Level = Level(slog.LevelDebug)
	LevelInfo  Level = Level(slog.LevelInfo)
	LevelWarn  Level = Level(slog.LevelWarn)
	LevelError Level = Level(slog.LevelError)
)

// ParseLevel converts a textual log level into a Level, defaulting to info.
func ParseLevel(value string) Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Options tunes the handler. NoColor is forced when NO_COLOR is set.
type Options struct {
	NoColor    bool
	TimeFormat string
}

// NewLogger constructs a slog.Logger with a tint handler writing to w.
func NewLogger(w io.Writer, level Level) *slog.Logger {
	return NewLoggerWithOptions(w, level, Options{})
}

// NewLoggerWithOptions is NewLogger with handler options.
func NewLoggerWithOptions(w io.Writer, level Level, opts Options) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	timeFormat := opts.TimeFormat
	if timeFormat == "" {
		timeFormat = time.TimeOnly
	}
	_, noColorEnv := os.LookupEnv("NO_COLOR")

	handler := tint.NewHandler(w, &tint.Options{
		Level:      slog.Level(level),
		TimeFormat: timeFormat,
		NoColor:    opts.NoColor || noColorEnv,
	})
	return slog.New(handler)
}
