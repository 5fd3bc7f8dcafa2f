// Package logging provides structured logging using Go's log/slog.
//
// Configuration is controlled via environment variables:
//   - PHPSCOPE_LOG_LEVEL: debug, info, warn, error (default: info)
//   - PHPSCOPE_LOG_FORMAT: text, json (default: text)
//   - PHPSCOPE_LOG_FILE: append to this file instead of stderr
//
// Nothing is ever written to stdout, which belongs to the tool-call server.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Environment variable names.
const (
	EnvLevel  = "PHPSCOPE_LOG_LEVEL"
	EnvFormat = "PHPSCOPE_LOG_FORMAT"
	EnvFile   = "PHPSCOPE_LOG_FILE"
)

// Config holds logging configuration
type Config struct {
	Level  slog.Level
	Format string    // "text" or "json"
	Output io.Writer // defaults to os.Stderr
	Path   string    // optional log file, opened by Open
	Source string    // component name attached to every record
}

// DefaultConfig returns the defaults for the given component.
func DefaultConfig(source string) Config {
	return Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
		Source: source,
	}
}

// ParseLevel maps a level name to a slog level. Unknown names report false.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	}
	return LevelInfo, false
}

// LoadConfigFromEnv returns DefaultConfig with PHPSCOPE_LOG_* overrides.
func LoadConfigFromEnv(source string) Config {
	cfg := DefaultConfig(source)

	if level, ok := ParseLevel(os.Getenv(EnvLevel)); ok {
		cfg.Level = level
	}
	if format := os.Getenv(EnvFormat); format != "" {
		cfg.Format = strings.ToLower(format)
	}
	cfg.Path = os.Getenv(EnvFile)

	return cfg
}

// New creates a logger writing to cfg.Output.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler).With("source", cfg.Source)
}

// Open is New for long-running commands: when cfg.Path is set, records are
// appended to that file and the returned close function releases it.
func Open(cfg Config) (*slog.Logger, func() error, error) {
	if cfg.Path == "" {
		return New(cfg), func() error { return nil }, nil
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	cfg.Output = f
	return New(cfg), f.Close, nil
}

// Default returns a stderr logger configured from the environment.
func Default(source string) *slog.Logger {
	cfg := LoadConfigFromEnv(source)
	cfg.Path = ""
	return New(cfg)
}

// Nop returns a logger that discards all output.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
