package observability

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs the process-wide slog logger.
// format is "json" or "text"; unknown levels fall back to info.
func SetupLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// ShortID trims an identifier for log output.
func ShortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
