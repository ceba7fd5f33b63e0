package logger

import (
	"fmt"
	"log/slog"
	"strings"
)

// Attribute names whose values are key material or credentials.
var sensitiveKeyPatterns = []string{
	"passphrase",
	"password",
	"secret",
	"master_key",
	"key_hex",
	"credential",
	"token",
}

// Attribute names whose values are asset contents.
var payloadKeys = map[string]bool{
	"data":    true,
	"payload": true,
	"buf":     true,
	"content": true,
}

const redactedValue = "***REDACTED***"

// redactSensitive masks secrets and replaces payloads by their length.
func redactSensitive(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}

	if payloadKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, payloadSummary(a.Value))
	}

	if IsSensitiveKey(a.Key) {
		if a.Value.Kind() == slog.KindString && a.Value.String() == "" {
			return a
		}
		return slog.String(a.Key, redactedValue)
	}
	return a
}

func payloadSummary(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return fmt.Sprintf("<%d bytes>", len(v.String()))
	case slog.KindAny:
		if b, ok := v.Any().([]byte); ok {
			return fmt.Sprintf("<%d bytes>", len(b))
		}
	}
	return redactedValue
}

// RedactString masks a secret for display, keeping two characters at each
// end of values long enough to stay unguessable.
func RedactString(value string) string {
	if len(value) < 12 {
		return redactedValue
	}
	return value[:2] + "..." + value[len(value)-2:]
}

// IsSensitiveKey reports whether an attribute or config key names a secret.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}
