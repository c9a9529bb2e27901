package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestRedactSensitive_KeyNames(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Format: "json", Output: &buf})

	tests := []struct {
		key      string
		value    string
		expected string
	}{
		{"password", "mysecret123", redactedValue},
		{"encryption_key", "0123456789abcdef", redactedValue},
		{"auth_token", "bearer-xyz", redactedValue},
		{"credential", "cred123", redactedValue},
		{"secret", "", ""},
		{"shard_id", "3", "3"},
		{"request_id", "gmrq-01h", "gmrq-01h"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			buf.Reset()
			l.Info("test", tt.key, tt.value)

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("Failed to parse JSON log: %v", err)
			}
			if got, _ := entry[tt.key].(string); got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.key, got, tt.expected)
			}
		})
	}
}

func TestRedactSensitive_Group(t *testing.T) {
	a := slog.Group("wal", slog.String("encryption_key", "abc"), slog.String("dir", "/data"))
	got := redactSensitive(a)

	attrs := got.Value.Group()
	if attrs[0].Value.String() != redactedValue {
		t.Errorf("nested encryption_key = %q", attrs[0].Value.String())
	}
	if attrs[1].Value.String() != "/data" {
		t.Errorf("nested dir = %q", attrs[1].Value.String())
	}
}

func TestRedactSensitive_NonString(t *testing.T) {
	a := slog.Int("token_count", 5)
	if got := redactSensitive(a); got.Value.Int64() != 5 {
		t.Errorf("non-string value changed: %v", got)
	}
}

func TestRedactString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "***"},
		{"short", "***"},
		{"exactly12chr", "***"},
		{"0123456789abcdef", "012...def"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := RedactString(tt.input); got != tt.expected {
				t.Errorf("RedactString(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"password", true},
		{"DB_PASSWORD", true},
		{"encryption_key", true},
		{"Authorization", true},
		{"shard_id", false},
		{"offset", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := IsSensitiveKey(tt.key); got != tt.want {
				t.Errorf("IsSensitiveKey(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}
