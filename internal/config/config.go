// Package config loads workspace settings from defaults, an optional
// .phpscope.toml at the workspace root, and PHPSCOPE_* environment variables,
// in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the per-workspace settings file.
const FileName = ".phpscope.toml"

// Config holds every tunable of the engine.
type Config struct {
	// Root is the workspace directory. It is never read from the file.
	Root string `toml:"-"`

	// Include holds doublestar globs relative to Root.
	Include []string `toml:"include"`
	// ExcludeDirs are directory base names pruned during enumeration.
	ExcludeDirs      []string `toml:"exclude_dirs"`
	RespectGitignore bool     `toml:"respect_gitignore"`
	// RouteDir is the subtree scanned for named routes.
	RouteDir string `toml:"route_dir"`
	// InferenceWindow is how many characters before the cursor type
	// inference looks at.
	InferenceWindow int `toml:"inference_window"`

	Debounce   DebounceConfig   `toml:"debounce"`
	Reflection ReflectionConfig `toml:"reflection"`
	Export     ExportConfig     `toml:"export"`
}

// DebounceConfig holds the quiet periods, in milliseconds, per event source.
type DebounceConfig struct {
	OpenMs       int `toml:"open_ms"`
	SaveMs       int `toml:"save_ms"`
	ChangeMs     int `toml:"change_ms"`
	ReferencesMs int `toml:"references_ms"`
	RoutesMs     int `toml:"routes_ms"`
}

func (d DebounceConfig) Open() time.Duration       { return ms(d.OpenMs) }
func (d DebounceConfig) Save() time.Duration       { return ms(d.SaveMs) }
func (d DebounceConfig) Change() time.Duration     { return ms(d.ChangeMs) }
func (d DebounceConfig) References() time.Duration { return ms(d.ReferencesMs) }
func (d DebounceConfig) Routes() time.Duration     { return ms(d.RoutesMs) }

// ReflectionConfig controls signature lookups for built-in functions through
// the PHP binary.
type ReflectionConfig struct {
	Enabled   bool   `toml:"enabled"`
	Binary    string `toml:"php_binary"`
	TimeoutMs int    `toml:"timeout_ms"`
}

// Timeout returns the per-lookup deadline.
func (r ReflectionConfig) Timeout() time.Duration { return ms(r.TimeoutMs) }

// ExportConfig controls the sqlite snapshot written by `phpscope export`.
type ExportConfig struct {
	Path string `toml:"path"`
}

// Default returns the built-in settings for root.
func Default(root string) Config {
	return Config{
		Root:             root,
		Include:          []string{"**/*.php"},
		ExcludeDirs:      []string{".git", ".svn", ".hg", ".idea", ".vscode", "node_modules", "vendor", "storage", "bootstrap/cache", ".phpscope"},
		RespectGitignore: true,
		RouteDir:         "routes",
		InferenceWindow:  3000,
		Debounce: DebounceConfig{
			ChangeMs:     300,
			ReferencesMs: 1000,
			RoutesMs:     300,
		},
		Reflection: ReflectionConfig{
			Enabled:   true,
			Binary:    "php",
			TimeoutMs: 1500,
		},
		Export: ExportConfig{Path: filepath.Join(".phpscope", "index.db")},
	}
}

// Load reads the settings for the workspace at root. A missing settings file
// is not an error.
func Load(root string) (Config, error) {
	cfg := Default(root)

	data, err := os.ReadFile(filepath.Join(root, FileName))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("reading %s: %w", FileName, err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", FileName, err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

// applyEnv overrides settings from the environment:
//   - PHPSCOPE_INCLUDE: comma-separated globs
//   - PHPSCOPE_EXCLUDE_DIRS: comma-separated directory names
//   - PHPSCOPE_GITIGNORE: true/false
//   - PHPSCOPE_ROUTE_DIR
//   - PHPSCOPE_CHANGE_DEBOUNCE_MS, PHPSCOPE_REFERENCES_DEBOUNCE_MS
//   - PHPSCOPE_PHP_BINARY, PHPSCOPE_REFLECTION_TIMEOUT_MS, PHPSCOPE_REFLECTION
//   - PHPSCOPE_EXPORT_PATH
func (c *Config) applyEnv() {
	if v := os.Getenv("PHPSCOPE_INCLUDE"); v != "" {
		c.Include = splitList(v)
	}
	if v := os.Getenv("PHPSCOPE_EXCLUDE_DIRS"); v != "" {
		c.ExcludeDirs = splitList(v)
	}
	if b, err := strconv.ParseBool(os.Getenv("PHPSCOPE_GITIGNORE")); err == nil {
		c.RespectGitignore = b
	}
	if v := os.Getenv("PHPSCOPE_ROUTE_DIR"); v != "" {
		c.RouteDir = v
	}
	envInt("PHPSCOPE_CHANGE_DEBOUNCE_MS", &c.Debounce.ChangeMs)
	envInt("PHPSCOPE_REFERENCES_DEBOUNCE_MS", &c.Debounce.ReferencesMs)
	if v := os.Getenv("PHPSCOPE_PHP_BINARY"); v != "" {
		c.Reflection.Binary = v
	}
	envInt("PHPSCOPE_REFLECTION_TIMEOUT_MS", &c.Reflection.TimeoutMs)
	if b, err := strconv.ParseBool(os.Getenv("PHPSCOPE_REFLECTION")); err == nil {
		c.Reflection.Enabled = b
	}
	if v := os.Getenv("PHPSCOPE_EXPORT_PATH"); v != "" {
		c.Export.Path = v
	}
}

// normalize replaces unusable values with defaults.
func (c *Config) normalize() {
	def := Default(c.Root)
	if len(c.Include) == 0 {
		c.Include = def.Include
	}
	if c.InferenceWindow <= 0 {
		c.InferenceWindow = def.InferenceWindow
	}
	if c.Reflection.TimeoutMs <= 0 {
		c.Reflection.TimeoutMs = def.Reflection.TimeoutMs
	}
	if c.Reflection.Binary == "" {
		c.Reflection.Enabled = false
	}
	for _, d := range []*int{&c.Debounce.OpenMs, &c.Debounce.SaveMs, &c.Debounce.ChangeMs, &c.Debounce.ReferencesMs, &c.Debounce.RoutesMs} {
		if *d < 0 {
			*d = 0
		}
	}
}

// ExportPath returns the snapshot path, resolved against Root when relative.
func (c Config) ExportPath() string {
	if filepath.IsAbs(c.Export.Path) {
		return c.Export.Path
	}
	return filepath.Join(c.Root, c.Export.Path)
}

// String returns a one-line description for logs.
func (c Config) String() string {
	refl := "off"
	if c.Reflection.Enabled {
		refl = fmt.Sprintf("%s (%s)", c.Reflection.Binary, c.Reflection.Timeout())
	}
	return fmt.Sprintf("root=%s include=%s routes=%s change-debounce=%s reflection=%s",
		c.Root, strings.Join(c.Include, ","), c.RouteDir, c.Debounce.Change(), refl)
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
