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
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := ParseLevel(tt.input)
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestInitWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := InitWriter(&buf, "json", slog.LevelInfo)
	logger.Info("opened timeline", "timeline_id", "abc")

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if m["msg"] != "opened timeline" {
		t.Errorf("msg = %v", m["msg"])
	}
	if m["timeline_id"] != "abc" {
		t.Errorf("timeline_id = %v", m["timeline_id"])
	}
}

func TestInitWriterTextFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := InitWriter(&buf, "text", slog.LevelWarn)
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn line missing: %q", out)
	}
}
