package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/config"
)

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"json", "text", ""} {
		logger := New(config.LoggingConfig{Level: "info", Format: format, Output: "stderr"}, "1.0.0")
		if logger == nil {
			t.Fatalf("New(format=%q) returned nil", format)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.expected {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestNewWithWriter_JSONDefaultFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "test-version", &buf)

	logger.Info("clock started", "intervals", 96)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}
	if entry["service"] != "graysim" {
		t.Errorf("service = %v, want graysim", entry["service"])
	}
	if entry["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", entry["version"])
	}
	if entry["msg"] != "clock started" {
		t.Errorf("msg = %v, want 'clock started'", entry["msg"])
	}
	if entry["intervals"] != float64(96) {
		t.Errorf("intervals = %v, want 96", entry["intervals"])
	}
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "warn", Format: "text"}, "v", &buf)

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(out, "visible") {
		t.Error("warn entry missing at warn level")
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Format: "json"}, "v", &buf)
	child := logger.With("component", "clock")

	if child == logger {
		t.Fatal("expected child logger to be different from parent")
	}

	child.Info("tick")
	if !strings.Contains(buf.String(), `"component":"clock"`) {
		t.Errorf("child output missing component attr: %s", buf.String())
	}
}

func TestDefaultAndDiscard(t *testing.T) {
	if Default() == nil {
		t.Fatal("expected non-nil default logger")
	}
	d := Discard()
	if d == nil {
		t.Fatal("expected non-nil discard logger")
	}
	d.Error("dropped")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graysim.log")
	logger := New(config.LoggingConfig{Level: "info", Format: "json", Output: path}, "v")
	logger.Info("run finished", "step", time.Minute)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("log file is not JSON: %v", err)
	}
	if entry["step"] != "1m0s" {
		t.Errorf("step = %v, want 1m0s", entry["step"])
	}
}

func TestNew_UnwritableFileFallsBack(t *testing.T) {
	logger := New(config.LoggingConfig{Output: filepath.Join(t.TempDir(), "missing", "x.log")}, "v")
	if logger == nil {
		t.Fatal("New() returned nil")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close() on stderr fallback error = %v", err)
	}
}
