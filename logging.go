package main

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// newLogger builds the process logger. Format "auto" picks colored text on a
// terminal and JSON when output is redirected, so daemon logs stay
// machine-parseable without configuration.
func newLogger(level, format string, quiet bool) *slog.Logger {
	lvl := parseLevel(level)
	if quiet {
		lvl = slog.LevelError
	}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	case "text":
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: lvl, NoColor: true}))

	default:
		if isatty.IsTerminal(os.Stderr.Fd()) {
			return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: lvl}))
		}

		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
