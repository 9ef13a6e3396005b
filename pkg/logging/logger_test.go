package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := For(New(Config{Level: "info", Format: "json", Output: &buf}), CategoryTerminal)

	logger.Debug("dropped")
	logger.Info("session created", "session", "abc")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (debug filtered), got %d: %q", len(lines), buf.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("invalid json log line: %v", err)
	}
	if record["component"] != "terminal" {
		t.Errorf("component = %v, want terminal", record["component"])
	}
	if record["session"] != "abc" {
		t.Errorf("session = %v, want abc", record["session"])
	}
	if record["msg"] != "session created" {
		t.Errorf("msg = %v", record["msg"])
	}
}

func TestNewTextDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", Output: &buf})
	logger.Debug("watch added", "root", "/source")

	if !strings.Contains(buf.String(), "level=DEBUG") || !strings.Contains(buf.String(), "root=/source") {
		t.Fatalf("unexpected text output: %q", buf.String())
	}
}

func TestForNilLogger(t *testing.T) {
	logger := For(nil, CategoryMirror)
	if logger == nil {
		t.Fatal("For(nil) should return a usable logger")
	}
	logger.Info("no panic")
}
