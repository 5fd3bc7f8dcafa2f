// Package routes indexes named route declarations under one workspace
// subtree: ->name('x'), Route::name('x') and 'as' => 'x'.
package routes

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"phpscope/internal/extract"
	"phpscope/internal/logging"
	"phpscope/internal/scan"
	"phpscope/internal/search/symbols"
	"phpscope/internal/source"
)

var (
	nameCallRe = regexp.MustCompile(`(?:->|::)\s*name\s*\(\s*['"]([^'"]+)['"]`)
	asKeyRe    = regexp.MustCompile(`['"]as['"]\s*=>\s*['"]([^'"]+)['"]`)
	// routeRefRe matches route('name') helper calls that refer to a route.
	routeRefRe = regexp.MustCompile(`\broute\s*\(\s*['"]([^'"]+)['"]`)
)

// Declaration is one route name found in a file.
type Declaration struct {
	Name  string
	Range extract.Range
}

// Extract returns the route names declared in text.
func Extract(text string) []Declaration {
	lines := scan.NewLineIndex(text)
	var out []Declaration
	for _, re := range []*regexp.Regexp{nameCallRe, asKeyRe} {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			sl, sc := lines.Position(m[2])
			el, ec := lines.Position(m[3])
			out = append(out, Declaration{
				Name: text[m[2]:m[3]],
				Range: extract.Range{
					Start: extract.Position{Line: sl, Column: sc},
					End:   extract.Position{Line: el, Column: ec},
				},
			})
		}
	}
	slices.SortFunc(out, func(a, b Declaration) int {
		if a.Range.Start.Line != b.Range.Start.Line {
			return a.Range.Start.Line - b.Range.Start.Line
		}
		return a.Range.Start.Column - b.Range.Start.Column
	})
	return out
}

// ReferenceAt returns the route name when offset falls inside the string
// argument of a route('...') call.
func ReferenceAt(text string, offset int) (string, bool) {
	for _, m := range routeRefRe.FindAllStringSubmatchIndex(text, -1) {
		// Include the quotes so a cursor on either one still counts.
		if offset >= m[2]-1 && offset <= m[3]+1 {
			return text[m[2]:m[3]], true
		}
	}
	return "", false
}

// Index maps route names to declaration sites.
type Index struct {
	src    source.Source
	logger *slog.Logger

	mu        sync.RWMutex
	version   uint64
	built     bool
	names     map[string][]symbols.Location
	fileNames map[string]map[string]struct{}

	flight singleflight.Group
}

// New creates an empty route index over src.
func New(src source.Source, logger *slog.Logger) *Index {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Index{
		src:       src,
		logger:    logger,
		names:     make(map[string][]symbols.Location),
		fileNames: make(map[string]map[string]struct{}),
	}
}

// Version returns the mutation counter.
func (idx *Index) Version() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.version
}

// EnsureBuilt scans the subtree once; concurrent callers share the scan.
func (idx *Index) EnsureBuilt(ctx context.Context) error {
	idx.mu.RLock()
	built := idx.built
	idx.mu.RUnlock()
	if built {
		return nil
	}
	_, err, _ := idx.flight.Do("build", func() (any, error) {
		files, err := idx.src.ListFiles(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing route files: %w", err)
		}
		for _, id := range files {
			text, err := idx.src.ReadFile(ctx, id)
			if err != nil {
				idx.logger.Debug("skipping unreadable route file", "file", id, "error", err)
				continue
			}
			idx.UpdateFile(text, id)
		}
		idx.mu.Lock()
		idx.built = true
		idx.mu.Unlock()
		idx.logger.Debug("route index built", "files", len(files))
		return nil, nil
	})
	return err
}

// UpdateFile retracts file's routes and records the ones in text.
func (idx *Index) UpdateFile(text, file string) {
	decls := Extract(text)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.retract(file)
	names := make(map[string]struct{}, len(decls))
	for _, d := range decls {
		idx.names[d.Name] = append(idx.names[d.Name], symbols.Location{File: file, Range: d.Range})
		names[d.Name] = struct{}{}
	}
	idx.fileNames[file] = names
	idx.version++
}

// DeleteFile retracts file's routes.
func (idx *Index) DeleteFile(file string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.retract(file)
	idx.version++
}

func (idx *Index) retract(file string) {
	for name := range idx.fileNames[file] {
		var kept []symbols.Location
		for _, l := range idx.names[name] {
			if l.File != file {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			delete(idx.names, name)
		} else {
			idx.names[name] = kept
		}
	}
	delete(idx.fileNames, file)
}

// Lookup returns where a route name is declared.
func (idx *Index) Lookup(name string) []symbols.Location {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return slices.Clone(idx.names[name])
}

// Names returns every declared route name, sorted.
func (idx *Index) Names() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return slices.Sorted(maps.Keys(idx.names))
}

// Close drops all state.
func (idx *Index) Close() {
	idx.mu.Lock()
	idx.names = make(map[string][]symbols.Location)
	idx.fileNames = make(map[string]map[string]struct{})
	idx.built = false
	idx.version++
	idx.mu.Unlock()
}
