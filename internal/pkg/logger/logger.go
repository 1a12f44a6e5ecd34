package logger

import (
	"log/slog"
	"os"
	"strings"
)

// NewDefault builds the process logger. prod uses the JSON handler so log
// shippers can parse it; everything else gets the text handler.
func NewDefault(level string) *slog.Logger {
	return New(level, os.Getenv("APP_ENV") == "prod")
}

// New builds a logger writing to stderr.
func New(level string, jsonOutput bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if jsonOutput {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// ParseLevel maps debug/info/warn/error to slog levels, defaulting to info.
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
