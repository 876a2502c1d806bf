package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/config"
)

// Logger is a slog.Logger carrying the graysim default attributes.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// New builds a Logger from cfg. cfg.Output is "stdout", "stderr" or a
// file path opened for append. A file that cannot be opened falls back to
// stderr and the failure is logged as the first entry.
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var (
		w       io.Writer = os.Stdout
		closer  io.Closer
		openErr error
	)
	switch out := strings.TrimSpace(cfg.Output); strings.ToLower(out) {
	case "", "stdout":
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			w, openErr = os.Stderr, fmt.Errorf("opening log file %s: %w", out, err)
			break
		}
		w, closer = f, f
	}

	l := NewWithWriter(cfg, version, w)
	l.closer = closer
	if openErr != nil {
		l.Warn("logging to stderr", "error", openErr)
	}
	return l
}

// NewWithWriter builds a Logger writing to w. cfg.Output is ignored.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: replaceAttr,
	}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(h.WithAttrs([]slog.Attr{
			slog.String("service", "graysim"),
			slog.String("version", version),
		})),
	}
}

// replaceAttr renders durations as "1m0s" rather than nanoseconds, so
// tick steps and delays read the same in JSON and text output.
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindDuration {
		return slog.String(a.Key, a.Value.Duration().String())
	}
	return a
}

// parseLevel maps debug, info, warn(ing) and error to a slog level.
// Anything else is info.
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

// With returns a Logger that adds args to every entry. It shares the
// parent's output.
//
// Example:
//
//	clockLogger := logger.With("component", "clock")
//	clockLogger.Info("run finished") // Includes component=clock
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Close releases a log file opened by New. It is a no-op for stdout,
// stderr and derived loggers.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Default is the JSON info logger used before configuration is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

// Discard returns a logger that drops every entry. Used by tests.
func Discard() *Logger {
	return NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard)
}

// Since is a convenience attribute for elapsed wall time.
func Since(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}
