package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"password", true},
		{"redis_password", true},
		{"CLICKHOUSE_PASSWORD", true},
		{"sasl_password", true},
		{"api_key", true},
		{"access_key_id", true},
		{"Authorization", true},
		{"clickhouse_dsn", true},
		{"addr", false},
		{"topic", false},
		{"alert_id", false},
		{"score", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := IsSensitiveKey(tt.key); got != tt.want {
				t.Errorf("IsSensitiveKey(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestNewRedactsSensitiveAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "json")

	logger.Info("connecting to backend",
		"addr", "ch.internal:9000",
		"password", "hunter2",
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["addr"] != "ch.internal:9000" {
		t.Errorf("addr = %v, want passthrough", entry["addr"])
	}
	if entry["password"] != MaskedValue {
		t.Errorf("password = %v, want %q", entry["password"], MaskedValue)
	}
	if strings.Contains(buf.String(), "hunter2") {
		t.Error("credential leaked into log output")
	}
}

func TestNewLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "json")

	logger.Info("should be dropped")
	if buf.Len() != 0 {
		t.Errorf("info record emitted at warn level: %s", buf.String())
	}

	logger.Warn("should be kept")
	if buf.Len() == 0 {
		t.Error("warn record dropped at warn level")
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "text")

	logger.Info("hello", "token", "abc123")
	out := buf.String()
	if strings.Contains(out, "abc123") {
		t.Error("credential leaked in text format")
	}
	if !strings.Contains(out, "msg=hello") {
		t.Errorf("unexpected text output: %s", out)
	}
}
