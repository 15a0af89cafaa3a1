// Package logging provides unit tests for the structured logger.
package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

// newTestLogger returns a logger writing to the returned buffer.
func newTestLogger(minLevel LogLevel) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return &Logger{out: buf, minLevel: minLevel}, buf
}

// TestLoggerJSONOutput tests that entries are valid JSON with the expected
// fields.
func TestLoggerJSONOutput(t *testing.T) {
	l, buf := newTestLogger(LevelDebug)

	l.Info("sync started", map[string]interface{}{"device_id": "device-a"})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}

	if entry.Level != "INFO" {
		t.Errorf("Expected level INFO, got %s", entry.Level)
	}
	if entry.Message != "sync started" {
		t.Errorf("Expected message 'sync started', got %q", entry.Message)
	}
	if entry.Context["device_id"] != "device-a" {
		t.Errorf("Expected context device_id, got %v", entry.Context)
	}
	if entry.Timestamp == "" {
		t.Error("Expected timestamp to be set")
	}
}

// TestLoggerLevelFilter tests minimum level filtering.
func TestLoggerLevelFilter(t *testing.T) {
	l, buf := newTestLogger(LevelWarn)

	l.Debug("debug message")
	l.Info("info message")

	if buf.Len() != 0 {
		t.Errorf("Expected debug/info suppressed at WARN level, got %q", buf.String())
	}

	l.Warn("warn message")
	l.Error("error message", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Errorf("Expected 2 log lines, got %d", len(lines))
	}
}

// TestLoggerErrorField tests that errors are serialized into the entry.
func TestLoggerErrorField(t *testing.T) {
	l, buf := newTestLogger(LevelDebug)

	l.Error("push failed", errTest)

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}

	if entry.Error != "test failure" {
		t.Errorf("Expected error field 'test failure', got %q", entry.Error)
	}
}

// TestLoggerContextMerge tests merging of multiple context maps.
func TestLoggerContextMerge(t *testing.T) {
	l, buf := newTestLogger(LevelDebug)

	l.Info("merged",
		map[string]interface{}{"a": float64(1)},
		map[string]interface{}{"b": float64(2)})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}

	if entry.Context["a"] != float64(1) || entry.Context["b"] != float64(2) {
		t.Errorf("Expected merged context, got %v", entry.Context)
	}
}

type testError struct{}

func (testError) Error() string { return "test failure" }

var errTest = testError{}
