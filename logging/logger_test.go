package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestSecureLogger tests the basic entry bookkeeping
func TestSecureLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSecureLoggerWithOutput(LogLevelInfo, &buf)

	logger.Info("connection_manager", "host started", map[string]interface{}{
		"port": 5000,
	})

	entries := logger.GetRecentEntries(1)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.Level != LogLevelInfo {
		t.Errorf("Expected log level %d, got %d", LogLevelInfo, entry.Level)
	}
	if entry.Component != "connection_manager" {
		t.Errorf("Expected component 'connection_manager', got '%s'", entry.Component)
	}

	var line map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("Expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "connection_manager" || line["message"] != "host started" {
		t.Errorf("Unexpected zerolog fields: %v", line)
	}
	if line["level"] != "info" {
		t.Errorf("Expected level 'info', got %v", line["level"])
	}
}

// TestLogLevelFiltering tests that log levels are properly filtered
func TestLogLevelFiltering(t *testing.T) {
	logger := NewSecureLoggerWithOutput(LogLevelWarn, &bytes.Buffer{})

	logger.Error("test", "error message", nil)
	logger.Warn("test", "warn message", nil)
	logger.Info("test", "info message", nil)
	logger.Debug("test", "debug message", nil)

	entries := logger.GetRecentEntries(10)
	if len(entries) != 2 {
		t.Errorf("Expected 2 entries, got %d", len(entries))
	}

	for _, entry := range entries {
		if entry.Level > LogLevelWarn {
			t.Errorf("Entry with level %s should have been filtered out", entry.Level)
		}
	}
}

// TestSensitiveMetadataDropped tests that passkeys never reach the log
func TestSensitiveMetadataDropped(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSecureLoggerWithOutput(LogLevelDebug, &buf)

	logger.Debug("passkey", "handshake", map[string]interface{}{
		"passkey":     "secret123",
		"session_key": "abc",
		"remote_ip":   "10.0.0.2",
	})

	entry := logger.GetRecentEntries(1)[0]
	if _, ok := entry.Metadata["passkey"]; ok {
		t.Error("passkey should have been removed from metadata")
	}
	if _, ok := entry.Metadata["session_key"]; ok {
		t.Error("session_key should have been removed from metadata")
	}
	if entry.Metadata["remote_ip"] != "10.0.0.2" {
		t.Error("remote_ip should have been kept")
	}
	if strings.Contains(buf.String(), "secret123") {
		t.Error("passkey leaked into output")
	}
}

// TestGetEntriesByComponent tests component filtering and ordering
func TestGetEntriesByComponent(t *testing.T) {
	logger := NewSecureLoggerWithOutput(LogLevelInfo, &bytes.Buffer{})
	logger.Info("a", "one", nil)
	logger.Info("b", "two", nil)
	logger.Info("a", "three", nil)
	logger.Info("a", "four", nil)

	entries := logger.GetEntriesByComponent("a", 2)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "three" || entries[1].Message != "four" {
		t.Errorf("Expected [three four], got [%s %s]", entries[0].Message, entries[1].Message)
	}
}

// TestFileOutput tests that entries are appended to the log file
func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.log")
	logger := NewSecureLoggerWithOutput(LogLevelInfo, &bytes.Buffer{})
	if err := logger.SetFileOutput(path); err != nil {
		t.Fatalf("SetFileOutput failed: %v", err)
	}

	logger.Warn("io_manager", "frame dropped", nil)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "frame dropped") {
		t.Errorf("Expected log file to contain entry, got %q", string(data))
	}
}

// TestParseLevel tests level name parsing
func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LogLevelDebug, false},
		{"WARN", LogLevelWarn, false},
		{"silent", LogLevelSilent, false},
		{"verbose", LogLevelSilent, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.name, got, tt.want)
		}
	}
}

// TestNopLogger tests that the nop logger records nothing
func TestNopLogger(t *testing.T) {
	logger := Nop()
	logger.Error("x", "y", nil)
	if n := len(logger.GetRecentEntries(0)); n != 0 {
		t.Errorf("Expected no entries, got %d", n)
	}
}
