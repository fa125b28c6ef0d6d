package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup builds the process logger and installs it as the slog default.
// level is one of debug, info, warn, error (case-insensitive); anything
// else, including empty, means info. Components derive their own loggers
// with logger.With("component", name).
func Setup(level string) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
