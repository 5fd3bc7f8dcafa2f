// Package source provides the file enumeration and content read
// collaborators the indices scan from.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
)

// Source lists file identities and reads their current text.
type Source interface {
	ListFiles(ctx context.Context) ([]string, error)
	ReadFile(ctx context.Context, id string) (string, error)
}

// FS enumerates files under a root directory. File identities are
// slash-separated paths relative to the root.
type FS struct {
	root    string
	include []string
	exclude map[string]bool
	ignore  *ignore.GitIgnore
}

// Options configures an FS.
type Options struct {
	Include          []string // doublestar globs, default **/*.php
	ExcludeDirs      []string // base names or root-relative paths
	RespectGitignore bool
}

// NewFS creates an FS rooted at root.
func NewFS(root string, opts Options) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	include := opts.Include
	if len(include) == 0 {
		include = []string{"**/*.php"}
	}
	for _, pattern := range include {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid include pattern %q", pattern)
		}
	}
	f := &FS{
		root:    abs,
		include: include,
		exclude: make(map[string]bool, len(opts.ExcludeDirs)),
	}
	for _, d := range opts.ExcludeDirs {
		f.exclude[filepath.ToSlash(strings.Trim(d, "/"))] = true
	}
	if opts.RespectGitignore {
		f.ignore = LoadGitignore(abs)
	}
	return f, nil
}

// Root returns the absolute root directory.
func (f *FS) Root() string { return f.root }

// Under returns an FS with the same filters restricted to the subdirectory
// dir. Identities stay relative to the original root.
func (f *FS) Under(dir string) *Sub {
	return &Sub{fs: f, prefix: filepath.ToSlash(strings.Trim(dir, "/")) + "/"}
}

// ListFiles walks the root and returns every matching file, sorted.
// Unreadable directories are skipped.
func (f *FS) ListFiles(ctx context.Context) ([]string, error) {
	return f.walk(ctx, f.root)
}

func (f *FS) walk(ctx context.Context, start string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == start {
				return err
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, relErr := filepath.Rel(f.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if path != f.root && f.SkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if f.Match(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", start, err)
	}
	sort.Strings(files)
	return files, nil
}

// SkipDir reports whether the directory at the root-relative path rel is
// pruned.
func (f *FS) SkipDir(rel string) bool {
	rel = filepath.ToSlash(rel)
	if f.exclude[rel] || f.exclude[pathBase(rel)] {
		return true
	}
	return f.ignore != nil && f.ignore.MatchesPath(rel+"/")
}

// Match reports whether the root-relative file path rel is included.
func (f *FS) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	if f.ignore != nil && f.ignore.MatchesPath(rel) {
		return false
	}
	for dir := pathDir(rel); dir != ""; dir = pathDir(dir) {
		if f.exclude[dir] || f.exclude[pathBase(dir)] {
			return false
		}
	}
	for _, pattern := range f.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Abs converts an identity to an absolute path.
func (f *FS) Abs(id string) string {
	return filepath.Join(f.root, filepath.FromSlash(id))
}

// Rel converts an absolute path to an identity. It reports false for paths
// outside the root.
func (f *FS) Rel(path string) (string, bool) {
	rel, err := filepath.Rel(f.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// ReadFile reads the file with the given identity.
func (f *FS) ReadFile(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(f.Abs(id))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", id, err)
	}
	return string(data), nil
}

// Sub is an FS restricted to one subtree.
type Sub struct {
	fs     *FS
	prefix string
}

// ListFiles lists matching files below the subtree. A missing subtree has
// no files.
func (s *Sub) ListFiles(ctx context.Context) ([]string, error) {
	dir := s.fs.Abs(strings.TrimSuffix(s.prefix, "/"))
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return s.fs.walk(ctx, dir)
}

// ReadFile reads a file of the parent FS.
func (s *Sub) ReadFile(ctx context.Context, id string) (string, error) {
	return s.fs.ReadFile(ctx, id)
}

// Contains reports whether id lies inside the subtree.
func (s *Sub) Contains(id string) bool {
	return strings.HasPrefix(id, s.prefix)
}

// LoadGitignore compiles the root .gitignore. It returns nil when there is
// none or it holds no patterns.
func LoadGitignore(root string) *ignore.GitIgnore {
	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	var patterns []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed[0] == '#' {
			continue
		}
		patterns = append(patterns, line)
	}
	if len(patterns) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(patterns...)
}

func pathBase(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

func pathDir(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}
