// Package logger configures the process-wide slog logger.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// L is the configured root logger. Init must run before it is used;
// until then it falls back to slog.Default().
var L = slog.Default()

// Init builds the root logger from the configured level and format
// ("text" or "json") and installs it as the slog default.
func Init(level, format string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	L = slog.New(handler)
	slog.SetDefault(L)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
