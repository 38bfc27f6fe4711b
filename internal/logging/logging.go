package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New creates a console slog.Logger for the given level; "json:<level>" selects the JSON handler.
func New(level string) *slog.Logger {
	return NewWriter(os.Stdout, level)
}

// NewWriter is New with an explicit destination.
func NewWriter(w io.Writer, level string) *slog.Logger {
	format, lvl, found := strings.Cut(strings.TrimSpace(level), ":")
	if !found {
		format, lvl = "text", format
	}

	opts := &slog.HandlerOptions{Level: levelFromString(lvl)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard drops every record; used where a component needs a non-nil logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func levelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
