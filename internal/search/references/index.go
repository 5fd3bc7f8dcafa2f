// Package references counts call sites. The index is rebuilt wholesale,
// lazily, whenever the symbol index version it was built against moves on.
package references

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"phpscope/internal/logging"
	"phpscope/internal/search/symbols"
	"phpscope/internal/source"
)

// SymbolIndex is what the reference index needs from the symbol index.
type SymbolIndex interface {
	Version() uint64
	Meta(key string) []symbols.Meta
	FQNs(short string) []string
}

type memoEntry struct {
	hash uint64
	refs []Ref
}

// Index maps bucket keys (fn:Name, method:Name, static:Class::Name) to call
// sites.
type Index struct {
	src     source.Source
	symbols SymbolIndex
	logger  *slog.Logger

	mu      sync.RWMutex
	built   bool
	builtAt uint64
	buckets map[string][]symbols.Location
	// memo keeps per-file extraction keyed by content hash so unchanged
	// files are not rescanned on rebuild.
	memo map[string]memoEntry

	flight singleflight.Group
}

// New creates an empty reference index.
func New(src source.Source, syms SymbolIndex, logger *slog.Logger) *Index {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Index{
		src:     src,
		symbols: syms,
		logger:  logger,
		buckets: make(map[string][]symbols.Location),
		memo:    make(map[string]memoEntry),
	}
}

// Stale reports whether the index lags the symbol index.
func (idx *Index) Stale() bool {
	v := idx.symbols.Version()
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return !idx.built || idx.builtAt != v
}

// EnsureBuilt rescans the workspace unless the index was built against the
// current symbol index version. Concurrent callers share one rescan.
func (idx *Index) EnsureBuilt(ctx context.Context) error {
	if !idx.Stale() {
		return nil
	}
	_, err, _ := idx.flight.Do("build", func() (any, error) {
		if !idx.Stale() {
			return nil, nil
		}
		return nil, idx.build(ctx)
	})
	return err
}

func (idx *Index) build(ctx context.Context) error {
	version := idx.symbols.Version()
	files, err := idx.src.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("listing files: %w", err)
	}

	idx.mu.RLock()
	memo := idx.memo
	idx.mu.RUnlock()

	buckets := make(map[string][]symbols.Location)
	nextMemo := make(map[string]memoEntry, len(files))
	reused := 0
	for _, id := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		text, err := idx.src.ReadFile(ctx, id)
		if err != nil {
			idx.logger.Debug("skipping unreadable file", "file", id, "error", err)
			continue
		}
		h := xxhash.Sum64String(text)
		entry, ok := memo[id]
		if ok && entry.hash == h {
			reused++
		} else {
			entry = memoEntry{hash: h, refs: Extract(text)}
		}
		nextMemo[id] = entry
		for _, r := range entry.refs {
			buckets[r.Key] = append(buckets[r.Key], symbols.Location{File: id, Range: r.Range})
		}
	}

	idx.mu.Lock()
	idx.buckets = buckets
	idx.memo = nextMemo
	idx.built = true
	idx.builtAt = version
	idx.mu.Unlock()
	idx.logger.Debug("reference index built", "files", len(nextMemo), "reused", reused, "buckets", len(buckets), "version", version)
	return nil
}

// Lookup returns the call sites in one bucket.
func (idx *Index) Lookup(bucket string) []symbols.Location {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return slices.Clone(idx.buckets[bucket])
}

// Count returns the call sites of the declaration behind declKey as of the
// last build. Instance calls are matched on method name alone.
func (idx *Index) Count(declKey string) []symbols.Location {
	keys := keysFor(declKey, idx.symbols.Meta(declKey), idx.symbols.FQNs)
	if len(keys) == 0 {
		return nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []symbols.Location
	for _, k := range keys {
		out = append(out, idx.buckets[k]...)
	}
	return out
}

// Stats describes the index.
type Stats struct {
	Built   bool   `json:"built"`
	BuiltAt uint64 `json:"built_at"`
	Buckets int    `json:"buckets"`
	Files   int    `json:"files"`
}

// Stats returns counters for diagnostics.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return Stats{Built: idx.built, BuiltAt: idx.builtAt, Buckets: len(idx.buckets), Files: len(idx.memo)}
}

// Close drops all state.
func (idx *Index) Close() {
	idx.mu.Lock()
	idx.buckets = make(map[string][]symbols.Location)
	idx.memo = make(map[string]memoEntry)
	idx.built = false
	idx.mu.Unlock()
}
