// Package workspace ties the indices, the resolver and the editor event
// stream together. An Engine owns every index, timer and cache for one
// workspace root and answers the query surface on top of them.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"

	"phpscope/internal/builtins"
	"phpscope/internal/config"
	"phpscope/internal/debounce"
	"phpscope/internal/logging"
	"phpscope/internal/resolve"
	"phpscope/internal/search/references"
	"phpscope/internal/search/routes"
	"phpscope/internal/search/symbols"
	"phpscope/internal/source"
)

// RouteSource is the route subtree: a source that can also tell whether a
// workspace file belongs to it.
type RouteSource interface {
	source.Source
	Contains(id string) bool
}

// Options wires an Engine to its collaborators.
type Options struct {
	// Source enumerates and reads workspace files.
	Source source.Source
	// Routes is the route subtree. Nil disables route navigation.
	Routes RouteSource
	// Reflector looks up built-in signatures. Nil disables the fallback.
	Reflector *builtins.Reflector

	Debounce        config.DebounceConfig
	InferenceWindow int
	Logger          *slog.Logger
}

type cachedDoc struct {
	hash uint64
	doc  *resolve.Document
}

// Engine is the in-process PHP workspace index.
type Engine struct {
	logger    *slog.Logger
	overlay   *source.Overlay
	src       source.Source
	routeSrc  RouteSource
	reflector *builtins.Reflector
	debounce  config.DebounceConfig

	symbols  *symbols.Index
	refs     *references.Index
	routes   *routes.Index
	resolver *resolve.Resolver

	symbolTimers *debounce.Scheduler
	refTimers    *debounce.Scheduler
	routeTimers  *debounce.Scheduler

	// mu serialises index mutations coming from events and timers.
	mu     sync.Mutex
	closed bool

	docMu sync.Mutex
	docs  map[string]cachedDoc
}

// New creates an engine. Nothing is scanned until the first query or
// EnsureBuilt.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	overlay := source.NewOverlay()
	src := overlay.Over(opts.Source)

	e := &Engine{
		logger:       logger,
		overlay:      overlay,
		src:          src,
		reflector:    opts.Reflector,
		debounce:     opts.Debounce,
		symbols:      symbols.New(src, logger.With("index", "symbols")),
		symbolTimers: debounce.New(),
		refTimers:    debounce.New(),
		routeTimers:  debounce.New(),
		docs:         make(map[string]cachedDoc),
	}
	e.refs = references.New(src, e.symbols, logger.With("index", "references"))

	var routeIndex resolve.RouteIndex
	if opts.Routes != nil {
		e.routeSrc = opts.Routes
		e.routes = routes.New(overlay.Over(opts.Routes), logger.With("index", "routes"))
		routeIndex = e.routes
	}
	e.resolver = resolve.New(e.symbols, routeIndex)
	if opts.InferenceWindow > 0 {
		e.resolver.Window = opts.InferenceWindow
	}
	return e
}

// Open creates an engine over the workspace described by cfg, reading files
// from disk.
func Open(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	fsys, err := FS(cfg)
	if err != nil {
		return nil, err
	}
	return OpenFS(cfg, fsys, logger), nil
}

// FS returns the filtered view of the workspace files cfg describes.
func FS(cfg config.Config) (*source.FS, error) {
	fsys, err := source.NewFS(cfg.Root, source.Options{
		Include:          cfg.Include,
		ExcludeDirs:      cfg.ExcludeDirs,
		RespectGitignore: cfg.RespectGitignore,
	})
	if err != nil {
		return nil, fmt.Errorf("opening workspace: %w", err)
	}
	return fsys, nil
}

// OpenFS creates an engine over fsys with the rest of cfg's settings.
func OpenFS(cfg config.Config, fsys *source.FS, logger *slog.Logger) *Engine {
	opts := Options{
		Source:          fsys,
		Debounce:        cfg.Debounce,
		InferenceWindow: cfg.InferenceWindow,
		Logger:          logger,
	}
	if cfg.RouteDir != "" {
		opts.Routes = fsys.Under(cfg.RouteDir)
	}
	if cfg.Reflection.Enabled {
		opts.Reflector = builtins.New(cfg.Reflection.Binary, cfg.Reflection.Timeout(), logger)
	}
	return New(opts)
}

// EnsureBuilt scans the workspace and the route subtree once. Concurrent
// callers share the scans.
func (e *Engine) EnsureBuilt(ctx context.Context) error {
	if err := e.symbols.EnsureBuilt(ctx); err != nil {
		return fmt.Errorf("building symbol index: %w", err)
	}
	if e.routes != nil {
		if err := e.routes.EnsureBuilt(ctx); err != nil {
			return fmt.Errorf("building route index: %w", err)
		}
	}
	return nil
}

// Rebuild drops every index and rescans the workspace.
func (e *Engine) Rebuild(ctx context.Context) error {
	e.symbolTimers.FlushAll()
	if err := e.symbols.Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuilding symbol index: %w", err)
	}
	if err := e.refs.EnsureBuilt(ctx); err != nil {
		return fmt.Errorf("rebuilding reference index: %w", err)
	}
	if e.routes != nil {
		e.routes.Close()
		if err := e.routes.EnsureBuilt(ctx); err != nil {
			return fmt.Errorf("rebuilding route index: %w", err)
		}
	}
	return nil
}

// Flush runs every pending debounced update now.
func (e *Engine) Flush() {
	e.symbolTimers.FlushAll()
	e.routeTimers.FlushAll()
	e.refTimers.FlushAll()
}

// Close cancels every pending timer and drops all state. The engine must not
// be used afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	// Timers call back into the engine, so they stop before the lock is
	// needed again.
	e.symbolTimers.Close()
	e.refTimers.Close()
	e.routeTimers.Close()

	e.symbols.Close()
	e.refs.Close()
	if e.routes != nil {
		e.routes.Close()
	}
	e.overlay.Clear()
	e.docMu.Lock()
	clear(e.docs)
	e.docMu.Unlock()
}

// document returns the parsed text of id, from the editor when open and
// from the source otherwise. Parses are cached by content hash.
func (e *Engine) document(ctx context.Context, id string) (*resolve.Document, bool) {
	text, err := e.src.ReadFile(ctx, id)
	if err != nil {
		e.logger.Debug("document unavailable", "file", id, "error", err)
		return nil, false
	}
	h := xxhash.Sum64String(text)

	e.docMu.Lock()
	defer e.docMu.Unlock()
	if c, ok := e.docs[id]; ok && c.hash == h {
		return c.doc, true
	}
	doc := resolve.NewDocument(id, text)
	e.docs[id] = cachedDoc{hash: h, doc: doc}
	return doc, true
}

func (e *Engine) forgetDocument(id string) {
	e.docMu.Lock()
	delete(e.docs, id)
	e.docMu.Unlock()
}
