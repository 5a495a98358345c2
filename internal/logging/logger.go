package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format at info, development uses human-readable
// text at debug. level overrides the default when it names a slog level.
func NewLogger(env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env != "production" {
		opts.Level = slog.LevelDebug
	}

	if lvl, ok := ParseLevel(level); ok {
		opts.Level = lvl
	}

	if env == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// ParseLevel maps debug, info, warn and error (any case) to a slog
// level. ok is false for anything else.
func ParseLevel(s string) (slog.Level, bool) {
	var lvl slog.Level

	s = strings.TrimSpace(s)
	if s == "" {
		return lvl, false
	}

	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return lvl, false
	}

	return lvl, true
}
