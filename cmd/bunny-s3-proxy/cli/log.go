package cli

import (
	"log/slog"
	"os"
	"strings"
)

var logger *slog.Logger

// SetupStructuredLogger builds the process-wide logger from the log flags.
func SetupStructuredLogger() {
	var level slog.Level
	switch strings.ToLower(Flags.LogLevel) {
	case "trace":
		// Below slog's debug; wire-level events use this.
		level = slog.LevelDebug - 4
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(Flags.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}
