package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "taskingd"

// Logger is a slog.Logger carrying the service and version attributes.
// It satisfies the Logger interfaces of the tasking and mqtt packages.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of the configuration.
// Output is stdout, stderr or discard; anything else means stdout.
func New(cfg config.LoggingConfig, version string) *Logger {
	return newWithWriter(cfg, version, outputFor(cfg.Output))
}

func outputFor(name string) io.Writer {
	switch strings.ToLower(name) {
	case "stderr":
		return os.Stderr
	case "discard":
		return io.Discard
	default:
		return os.Stdout
	}
}

func newWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	}))}
}

// parseLevel maps debug, info, warn (or warning) and error to slog levels.
// Unknown names mean info.
func parseLevel(level string) slog.Level {
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

// With returns a child logger with extra attributes, typically a component:
//
//	streamLog := logger.With("component", "tasking")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the logger used until the configuration is loaded. It writes
// text to stderr so command output on stdout stays machine readable.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "text", Output: "stderr"}, "dev")
}
