// Package logging provides structured logging for the PetLibro bridge.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same handler, level filter and default fields.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Per-component child loggers
//   - Redaction helper for account identifiers
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("discovery").Info("pass complete", "created", 2)
//
// # Security
//
// Never log passwords or access tokens. Account e-mail addresses are
// logged through Redact:
//
//	logger.Info("logging in", "account", logging.Redact(cfg.PetLibro.Email))
package logging
