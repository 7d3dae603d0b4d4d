// Package logger builds the service's structured logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Options struct {
	Service   string
	Env       string
	Level     string
	AddSource bool
	Output    io.Writer // defaults to os.Stdout
}

// New returns a JSON slog logger tagged with service and env, and installs
// it as the default.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	h := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:     ParseLevel(opts.Level),
		AddSource: opts.AddSource,
	})

	base := slog.New(h).With(
		"service", opts.Service,
		"env", opts.Env,
	)

	slog.SetDefault(base)
	return base
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(lvl string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
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
