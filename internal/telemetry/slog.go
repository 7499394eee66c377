package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a configured level name onto a slog.Level. Unknown names read as info.
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

// NewHandler builds the handler used by the server and the CLI tools.
//
// format: "json" selects JSONHandler, anything else TextHandler.
// Every record carries service=<service> when service is non-empty.
func NewHandler(w io.Writer, format, level, service string) slog.Handler {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	if service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", service)})
	}
	return handler
}

// SetupLogger installs a stdout logger as the slog default so domain packages can call
// slog.Info/Warn/Error without carrying a *slog.Logger around.
func SetupLogger(format, level, service string) {
	slog.SetDefault(slog.New(NewHandler(os.Stdout, format, level, service)))
	slog.Info("logger initialised", "format", format, "level", ParseLevel(level).String())
}
