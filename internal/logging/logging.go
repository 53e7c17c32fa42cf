// Package logging builds the engine's structured logger and keeps backend
// credentials out of the log stream.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// MaskedValue replaces sensitive attribute values in log output.
const MaskedValue = "[REDACTED]"

// sensitiveKeys lists attribute names whose values must never be logged.
// Matching is by substring on the lowercased key, so "redis_password" and
// "sasl_password" are both caught by "password".
var sensitiveKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"access_key",
	"credential",
	"authorization",
	"dsn",
}

// IsSensitiveKey reports whether a log attribute key carries a credential.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// redactAttr is the slog ReplaceAttr hook masking sensitive values.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if IsSensitiveKey(a.Key) {
		a.Value = slog.StringValue(MaskedValue)
	}
	return a
}

// New builds a logger writing to w. Format is "json" or "text"; level is
// one of debug, info, warn, error. Unknown values fall back to json/info.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: redactAttr,
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
