// Package logger provides slog-based structured logging helpers.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
)

// Module provides the application logger.
var Module = fx.Module("logger",
	fx.Provide(NewLogger),
)

// NewLogger creates the root slog.Logger.
//
// LOG_LEVEL controls verbosity (debug, info, warn/warning, error; default
// info). GO_ENV=production switches to the JSON handler; anything else uses
// the text handler for local readability.
func NewLogger() *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("GO_ENV"), "production") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Scope returns a standard attribute identifying the logging subsystem.
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Error returns a standard attribute for an error value.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}
