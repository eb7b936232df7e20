// Package logging provides structured logging for Gray Logic Access.
//
// It wraps log/slog so the server and the badge station emit the same
// record shape: JSON in production, text during development, with
// service and version attached to every entry.
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
//	logger := logging.New(cfg.Logging, "graylogic-access", version)
//	logger.Info("starting service", "port", 8080)
//
// # Security
//
// Never log bearer tokens, badge credentials, the retention key or any
// other secret. Log the verification reason, not the token.
package logging
