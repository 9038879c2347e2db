package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New creates a structured text logger writing to stdout.
// app: binary name (e.g., "segserv")
// level: one of "debug", "info", "warn", "error" (default: "info")
func New(app string, level string) *slog.Logger {
	return NewWithWriter(os.Stdout, app, level)
}

// NewWithWriter is New with an explicit destination. The client logs to
// stderr so progress and menu output keep stdout to themselves.
func NewWithWriter(w io.Writer, app string, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(handler).With(
		slog.String("app", app),
		slog.Int("pid", os.Getpid()),
	)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a level name to a slog level, falling back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
