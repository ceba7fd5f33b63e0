// Package logger provides structured logging for psastore.
//
// The package wraps log/slog:
//
//   - logger.go: configuration, the Logger interface and the process default
//   - context.go: request ID and partition carried in a context, and the
//     handler that appends them to records
//   - redact.go: masking of secrets and asset contents
//
// Asset contents never reach a log sink. Attributes named like payloads
// (data, payload, buf) are replaced by their length, and attributes named
// like secrets (passphrase, master_key, ...) are masked.
package logger
