// Package logging provides structured logging for graysim.
//
// This package wraps Go's standard log/slog package so every component logs
// the same way.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr or a file path
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("clock started", "intervals", 96)
//	logger.Error("command dropped", "error", err)
//
// Domain packages accept a small Logger interface (Debug/Info/Warn/Error)
// rather than this concrete type; *Logger satisfies it through the embedded
// *slog.Logger.
package logging
