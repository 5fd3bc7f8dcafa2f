package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("test-source")

	if cfg.Level != LevelInfo {
		t.Errorf("expected level INFO, got %v", cfg.Level)
	}
	if cfg.Format != "text" {
		t.Errorf("expected format text, got %s", cfg.Format)
	}
	if cfg.Output != os.Stderr {
		t.Errorf("expected output stderr")
	}
	if cfg.Source != "test-source" {
		t.Errorf("expected source test-source, got %s", cfg.Source)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"warning", LevelWarn, true},
		{" error ", LevelError, true},
		{"", LevelInfo, false},
		{"loud", LevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLevel(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	tests := []struct {
		name          string
		levelEnv      string
		formatEnv     string
		fileEnv       string
		expectedLevel slog.Level
		expectedFmt   string
	}{
		{name: "defaults", expectedLevel: LevelInfo, expectedFmt: "text"},
		{name: "debug level", levelEnv: "debug", expectedLevel: LevelDebug, expectedFmt: "text"},
		{name: "unknown level keeps default", levelEnv: "chatty", expectedLevel: LevelInfo, expectedFmt: "text"},
		{name: "JSON format uppercase", formatEnv: "JSON", expectedLevel: LevelInfo, expectedFmt: "json"},
		{name: "debug + json + file", levelEnv: "debug", formatEnv: "json", fileEnv: "/tmp/phpscope.log", expectedLevel: LevelDebug, expectedFmt: "json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvLevel, tt.levelEnv)
			t.Setenv(EnvFormat, tt.formatEnv)
			t.Setenv(EnvFile, tt.fileEnv)

			cfg := LoadConfigFromEnv("test")

			if cfg.Level != tt.expectedLevel {
				t.Errorf("level: expected %v, got %v", tt.expectedLevel, cfg.Level)
			}
			if cfg.Format != tt.expectedFmt {
				t.Errorf("format: expected %s, got %s", tt.expectedFmt, cfg.Format)
			}
			if cfg.Path != tt.fileEnv {
				t.Errorf("path: expected %q, got %q", tt.fileEnv, cfg.Path)
			}
		})
	}
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Format: "text", Output: &buf, Source: "test-component"})
	logger.Info("test message", "key", "value")

	output := buf.String()
	for _, want := range []string{"test message", "source=test-component", "key=value"} {
		if !strings.Contains(output, want) {
			t.Errorf("output should contain %q: %s", want, output)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Format: "json", Output: &buf, Source: "json-test"})
	logger.Info("json test")

	output := buf.String()
	if !strings.Contains(output, `"msg":"json test"`) {
		t.Errorf("JSON output should contain msg field: %s", output)
	}
	if !strings.Contains(output, `"source":"json-test"`) {
		t.Errorf("JSON output should contain source field: %s", output)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Format: "text", Output: &buf, Source: "filter-test"})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")

	if strings.Contains(buf.String(), "debug message") || strings.Contains(buf.String(), "info message") {
		t.Errorf("records below warn should be filtered: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "warn message") {
		t.Error("warn message should appear")
	}
}

func TestOpenWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watch.log")
	cfg := DefaultConfig("watch")
	cfg.Path = path

	logger, closeFn, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	logger.Info("file record")
	if err := closeFn(); err != nil {
		t.Fatalf("close error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !strings.Contains(string(data), "file record") {
		t.Errorf("log file = %q", data)
	}
}

func TestOpenWithoutPath(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig("plain")
	cfg.Output = &buf

	logger, closeFn, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	logger.Info("to buffer")
	if err := closeFn(); err != nil {
		t.Errorf("close error = %v", err)
	}
	if !strings.Contains(buf.String(), "to buffer") {
		t.Errorf("buffer = %q", buf.String())
	}
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Info("this goes nowhere")
	logger.With("key", "value").Debug("or this")
}
