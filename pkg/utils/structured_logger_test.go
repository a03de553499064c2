package utils

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
		wantErr  bool
	}{
		{"TRACE", TRACE, false},
		{"debug", DEBUG, false},
		{"Info", INFO, false},
		{"WARN", WARN, false},
		{"WARNING", WARN, false},
		{"error", ERROR, false},
		{"FATAL", FATAL, false},
		{"bogus", INFO, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLogLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if level != tt.expected {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, level, tt.expected)
			}
		})
	}
}

func TestStructuredLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  WARN,
		Output: &buf,
		Format: FormatText,
	})

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	logger.Warn("warning message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Error("messages below WARN should be filtered")
	}
	if !strings.Contains(out, "warning message") {
		t.Error("WARN message missing from output")
	}
	if !strings.Contains(out, "error message") {
		t.Error("ERROR message missing from output")
	}
}

func TestStructuredLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  INFO,
		Output: &buf,
		Format: FormatText,
	})

	logger.WithField("tier", "fast").Info("cache flush", map[string]interface{}{
		"evicted": 42,
	})

	out := buf.String()
	if !strings.Contains(out, "tier=fast") {
		t.Errorf("context field missing: %s", out)
	}
	if !strings.Contains(out, "evicted=42") {
		t.Errorf("call field missing: %s", out)
	}
}

func TestStructuredLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  INFO,
		Output: &buf,
		Format: FormatJSON,
	})

	logger.WithComponent("scheduler").Info("task submitted")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry.Level != "INFO" {
		t.Errorf("expected level INFO, got %s", entry.Level)
	}
	if entry.Message != "task submitted" {
		t.Errorf("expected message %q, got %q", "task submitted", entry.Message)
	}
	if entry.Fields["component"] != "scheduler" {
		t.Errorf("expected component field, got %v", entry.Fields)
	}
}

func TestStructuredLogger_ComponentLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  ERROR,
		Output: &buf,
		Format: FormatText,
	})
	logger.SetComponentLevel("cache", DEBUG)

	logger.WithComponent("cache").Debug("verbose cache message")
	logger.WithComponent("pool").Debug("verbose pool message")

	out := buf.String()
	if !strings.Contains(out, "verbose cache message") {
		t.Error("cache component should log at DEBUG")
	}
	if strings.Contains(out, "verbose pool message") {
		t.Error("pool component should be filtered at ERROR")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{2 * 1024 * 1024 * 1024, "2.0 GB"},
	}

	for _, tt := range tests {
		if got := FormatBytes(tt.input); got != tt.expected {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
