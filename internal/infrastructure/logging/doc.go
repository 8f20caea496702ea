// Package logging provides structured logging for the tasking store.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the service.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("stream added", "stream_id", key)
//	logger.Error("status insert failed", "error", err)
//
// The *Logger satisfies the small Logger interfaces declared by the
// tasking and mqtt packages, so it can be handed to SetLogger directly.
package logging
