// Package symbols holds the workspace symbol index: a versioned,
// file-partitioned map from symbol key to declaration locations, with the
// metadata, signature and class-hierarchy tables derived from it.
package symbols

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"phpscope/internal/extract"
	"phpscope/internal/logging"
	"phpscope/internal/source"
)

// maxHierarchyDepth bounds inheritance walks.
const maxHierarchyDepth = 10

type sigEntry struct {
	file string
	sig  extract.Signature
}

type classEntry struct {
	info ClassInfo
	seq  uint64
}

// Index is the in-memory workspace symbol index. All methods are safe for
// concurrent use.
type Index struct {
	src    source.Source
	logger *slog.Logger

	mu          sync.RWMutex
	version     uint64
	built       bool
	seq         uint64
	entries     map[string][]Location
	meta        map[string][]Meta
	sigs        map[string][]sigEntry
	classes     map[string][]classEntry // by FQN
	shortToFQN  map[string][]string     // first-registered first
	fileKeys    map[string]map[string]struct{}
	fileClasses map[string][]string

	cacheMu sync.Mutex
	members map[string]Members // "version:name"

	flight singleflight.Group
}

// New creates an empty index reading files from src.
func New(src source.Source, logger *slog.Logger) *Index {
	if logger == nil {
		logger = logging.Nop()
	}
	idx := &Index{src: src, logger: logger}
	idx.reset()
	return idx
}

func (idx *Index) reset() {
	idx.entries = make(map[string][]Location)
	idx.meta = make(map[string][]Meta)
	idx.sigs = make(map[string][]sigEntry)
	idx.classes = make(map[string][]classEntry)
	idx.shortToFQN = make(map[string][]string)
	idx.fileKeys = make(map[string]map[string]struct{})
	idx.fileClasses = make(map[string][]string)
	idx.cacheMu.Lock()
	idx.members = make(map[string]Members)
	idx.cacheMu.Unlock()
}

// Version returns the mutation counter. It increases on every UpdateFile,
// DeleteFile and Rebuild.
func (idx *Index) Version() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.version
}

// Built reports whether a full scan has completed.
func (idx *Index) Built() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.built
}

// EnsureBuilt scans the whole workspace once. Concurrent callers share the
// same scan; later calls return immediately.
func (idx *Index) EnsureBuilt(ctx context.Context) error {
	if idx.Built() {
		return nil
	}
	_, err, _ := idx.flight.Do("build", func() (any, error) {
		if idx.Built() {
			return nil, nil
		}
		return nil, idx.build(ctx)
	})
	return err
}

// Rebuild drops everything and rescans the workspace.
func (idx *Index) Rebuild(ctx context.Context) error {
	idx.flight.Forget("build")
	idx.mu.Lock()
	idx.reset()
	idx.built = false
	idx.version++
	idx.mu.Unlock()
	return idx.EnsureBuilt(ctx)
}

// build indexes every listed file. Unreadable files are skipped; the lock is
// released between files so editor events can interleave.
func (idx *Index) build(ctx context.Context) error {
	files, err := idx.src.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("listing files: %w", err)
	}
	indexed := 0
	for _, id := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		text, err := idx.src.ReadFile(ctx, id)
		if err != nil {
			idx.logger.Debug("skipping unreadable file", "file", id, "error", err)
			continue
		}
		idx.UpdateFile(text, id)
		indexed++
	}

	idx.mu.Lock()
	idx.built = true
	idx.mu.Unlock()
	idx.logger.Info("symbol index built", "files", indexed, "listed", len(files))
	return nil
}

// UpdateFile replaces everything file contributed with the declarations
// found in text. It is safe for files never seen before.
func (idx *Index) UpdateFile(text, file string) {
	parsed := extract.Extract(text)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.retract(file)
	idx.insert(file, parsed)
	idx.rebuildShortNames()
	idx.bump()
}

// DeleteFile retracts everything file contributed. Unknown files only bump
// the version.
func (idx *Index) DeleteFile(file string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.retract(file)
	idx.rebuildShortNames()
	idx.bump()
}

func (idx *Index) bump() {
	idx.version++
	idx.cacheMu.Lock()
	clear(idx.members)
	idx.cacheMu.Unlock()
}

func (idx *Index) retract(file string) {
	for key := range idx.fileKeys[file] {
		if locs := removeFile(idx.entries[key], func(l Location) bool { return l.File == file }); len(locs) > 0 {
			idx.entries[key] = locs
		} else {
			delete(idx.entries, key)
		}
		if metas := removeFile(idx.meta[key], func(m Meta) bool { return m.File == file }); len(metas) > 0 {
			idx.meta[key] = metas
		} else {
			delete(idx.meta, key)
		}
		if sigs := removeFile(idx.sigs[key], func(s sigEntry) bool { return s.file == file }); len(sigs) > 0 {
			idx.sigs[key] = sigs
		} else {
			delete(idx.sigs, key)
		}
	}
	for _, fqn := range idx.fileClasses[file] {
		if cs := removeFile(idx.classes[fqn], func(c classEntry) bool { return c.info.File == file }); len(cs) > 0 {
			idx.classes[fqn] = cs
		} else {
			delete(idx.classes, fqn)
		}
	}
	delete(idx.fileKeys, file)
	delete(idx.fileClasses, file)
}

// removeFile returns the elements of s not owned by the retracted file, in
// a fresh slice.
func removeFile[T any](s []T, owned func(T) bool) []T {
	var out []T
	for _, v := range s {
		if !owned(v) {
			out = append(out, v)
		}
	}
	return out
}

func (idx *Index) insert(file string, parsed *extract.File) {
	keys := make(map[string]struct{})
	for _, c := range parsed.Classes {
		idx.seq++
		idx.classes[c.FQN] = append(idx.classes[c.FQN], classEntry{
			seq: idx.seq,
			info: ClassInfo{
				Name:       c.Name,
				FQN:        c.FQN,
				Kind:       c.Kind,
				File:       file,
				Range:      c.Range,
				Extends:    c.Extends,
				Implements: slices.Clone(c.Implements),
			},
		})
		idx.fileClasses[file] = append(idx.fileClasses[file], c.FQN)
	}

	for _, sym := range parsed.Symbols {
		loc := Location{File: file, Range: sym.Range}
		m := Meta{
			Name:         sym.Name,
			File:         file,
			Kind:         sym.Kind,
			Container:    sym.Container,
			ContainerFQN: sym.ContainerFQN,
			Static:       sym.Static,
			Type:         sym.Type,
			ResolvedType: sym.ResolvedType,
			Range:        sym.Range,
		}
		for _, key := range Keys(sym) {
			idx.entries[key] = append(idx.entries[key], loc)
			idx.meta[key] = append(idx.meta[key], m)
			if sym.Signature != nil {
				idx.sigs[key] = append(idx.sigs[key], sigEntry{file: file, sig: *sym.Signature})
			}
			keys[key] = struct{}{}
		}
	}
	idx.fileKeys[file] = keys
}

// rebuildShortNames recomputes the short name table from scratch, ordered
// by registration so the first registered class wins ambiguous lookups.
func (idx *Index) rebuildShortNames() {
	var all []classEntry
	for _, cs := range idx.classes {
		all = append(all, cs...)
	}
	slices.SortFunc(all, func(a, b classEntry) int { return cmp.Compare(a.seq, b.seq) })

	table := make(map[string][]string)
	for _, c := range all {
		if !slices.Contains(table[c.info.Name], c.info.FQN) {
			table[c.info.Name] = append(table[c.info.Name], c.info.FQN)
		}
	}
	idx.shortToFQN = table
}

// Lookup returns the declaration sites for key, or nil.
func (idx *Index) Lookup(key string) []Location {
	key = normalizeName(key)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return slices.Clone(idx.entries[key])
}

// Meta returns the declarations behind key.
func (idx *Index) Meta(key string) []Meta {
	key = normalizeName(key)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return slices.Clone(idx.meta[key])
}

// Signatures returns the signatures recorded for a callable key.
func (idx *Index) Signatures(key string) []extract.Signature {
	key = normalizeName(key)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	entries := idx.sigs[key]
	if len(entries) == 0 {
		return nil
	}
	out := make([]extract.Signature, len(entries))
	for i, e := range entries {
		out[i] = e.sig
	}
	return out
}

// FQNs returns the fully-qualified names a class short name maps to, first
// registered first.
func (idx *Index) FQNs(short string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return slices.Clone(idx.shortToFQN[short])
}

// ResolveClass returns the classes a name may denote. Qualified names match
// exactly; short names go through the short name table.
func (idx *Index) ResolveClass(name string) []ClassInfo {
	name = normalizeName(name)
	if name == "" {
		return nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.resolveClassLocked(name)
}

func (idx *Index) resolveClassLocked(name string) []ClassInfo {
	var out []ClassInfo
	collect := func(fqn string) {
		for _, c := range idx.classes[fqn] {
			out = append(out, c.info)
		}
	}
	if strings.Contains(name, `\`) {
		collect(name)
		return out
	}
	for _, fqn := range idx.shortToFQN[name] {
		collect(fqn)
	}
	return out
}

// Class returns the preferred class for name.
func (idx *Index) Class(name string) (ClassInfo, bool) {
	cs := idx.ResolveClass(name)
	if len(cs) == 0 {
		return ClassInfo{}, false
	}
	return cs[0], true
}

// Supertypes returns the direct parents of a class. Parents that were never
// indexed are returned with only Name and FQN set.
func (idx *Index) Supertypes(name string) []ClassInfo {
	c, ok := idx.Class(name)
	if !ok {
		return nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []ClassInfo
	for _, p := range c.Parents() {
		if cs := idx.classes[p]; len(cs) > 0 {
			out = append(out, cs[0].info)
			continue
		}
		out = append(out, ClassInfo{Name: shortName(p), FQN: p})
	}
	return out
}

// Subtypes returns the classes that directly extend or implement name.
func (idx *Index) Subtypes(name string) []ClassInfo {
	name = normalizeName(name)
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	targets := make(map[string]bool)
	for _, c := range idx.resolveClassLocked(name) {
		targets[c.FQN] = true
	}
	if len(targets) == 0 {
		targets[name] = true
	}

	var out []ClassInfo
	for _, cs := range idx.classes {
		for _, c := range cs {
			for _, p := range c.info.Parents() {
				if targets[p] {
					out = append(out, c.info)
					break
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FQN != out[j].FQN {
			return out[i].FQN < out[j].FQN
		}
		return out[i].File < out[j].File
	})
	return out
}

// Lineage returns fqn followed by its ancestors in breadth-first order,
// following extends before implements, at most maxHierarchyDepth levels up.
func (idx *Index) Lineage(fqn string) []string {
	fqn = normalizeName(fqn)
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := []string{fqn}
	seen := map[string]bool{fqn: true}
	level := []string{fqn}
	for depth := 0; depth < maxHierarchyDepth && len(level) > 0; depth++ {
		var next []string
		for _, name := range level {
			cs := idx.classes[name]
			if len(cs) == 0 {
				continue
			}
			for _, p := range cs[0].info.Parents() {
				if !seen[p] {
					seen[p] = true
					out = append(out, p)
					next = append(next, p)
				}
			}
		}
		level = next
	}
	return out
}

// MembersOf lists the methods, properties and constants declared on a class,
// found by scanning keys under its short and qualified names. A qualified
// query only returns members of that exact class. Results are cached per
// index version.
func (idx *Index) MembersOf(class string) Members {
	class = normalizeName(class)
	if class == "" {
		return Members{}
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	cacheKey := fmt.Sprintf("%d:%s", idx.version, class)
	idx.cacheMu.Lock()
	cached, ok := idx.members[cacheKey]
	idx.cacheMu.Unlock()
	if ok {
		return cached
	}

	result := idx.membersLocked(class)
	idx.cacheMu.Lock()
	idx.members[cacheKey] = result
	idx.cacheMu.Unlock()
	return result
}

func (idx *Index) membersLocked(class string) Members {
	qualified := strings.Contains(class, `\`)
	names := []string{class}
	if qualified {
		names = append(names, shortName(class))
	} else {
		for _, fqn := range idx.shortToFQN[class] {
			if fqn != class {
				names = append(names, fqn)
			}
		}
	}
	var prefixes []string
	for _, n := range names {
		prefixes = append(prefixes, n+"::", n+"->")
	}

	seen := make(map[string]bool)
	var all []Member
	for key, metas := range idx.meta {
		if !hasAnyPrefix(key, prefixes) {
			continue
		}
		for _, m := range metas {
			if qualified && m.ContainerFQN != class {
				continue
			}
			id := string(m.Kind) + "|" + m.Name + "|" + m.File + "|" + fmt.Sprint(m.Range.Start)
			if seen[id] {
				continue
			}
			seen[id] = true
			member := Member{
				Name:     m.Name,
				Kind:     m.Kind,
				Static:   m.Static,
				Class:    m.ContainerFQN,
				Type:     m.Type,
				Location: m.Location(),
			}
			for _, s := range idx.sigs[key] {
				if s.file == m.File {
					sig := s.sig
					member.Signature = &sig
					break
				}
			}
			all = append(all, member)
		}
	}
	slices.SortFunc(all, func(a, b Member) int {
		return cmp.Or(
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.Location.File, b.Location.File),
			cmp.Compare(a.Location.Range.Start.Line, b.Location.Range.Start.Line),
		)
	})

	var out Members
	for _, m := range all {
		switch m.Kind {
		case extract.KindMethod:
			out.Methods = append(out.Methods, m)
		case extract.KindProperty:
			out.Properties = append(out.Properties, m)
		case extract.KindConstant:
			out.Constants = append(out.Constants, m)
		}
	}
	return out
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// AllKeys yields every key in sorted order. The set is captured when the
// iterator is created.
func (idx *Index) AllKeys() iter.Seq[string] {
	idx.mu.RLock()
	keys := slices.Sorted(maps.Keys(idx.entries))
	idx.mu.RUnlock()
	return slices.Values(keys)
}

// Entries returns one Entry per (key, declaration) pair, sorted by key.
func (idx *Index) Entries() []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []Entry
	for _, key := range slices.Sorted(maps.Keys(idx.meta)) {
		for _, m := range idx.meta[key] {
			out = append(out, Entry{Key: key, Meta: m})
		}
	}
	return out
}

// Classes returns every class record, sorted by FQN.
func (idx *Index) Classes() []ClassInfo {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []ClassInfo
	for _, fqn := range slices.Sorted(maps.Keys(idx.classes)) {
		for _, c := range idx.classes[fqn] {
			out = append(out, c.info)
		}
	}
	return out
}

// Files returns the indexed file identities, sorted.
func (idx *Index) Files() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return slices.Sorted(maps.Keys(idx.fileKeys))
}

// FileKeys returns the keys file contributed, sorted.
func (idx *Index) FileKeys(file string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return slices.Sorted(maps.Keys(idx.fileKeys[file]))
}

// Stats returns counters for diagnostics.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return Stats{
		Files:   len(idx.fileKeys),
		Keys:    len(idx.entries),
		Classes: len(idx.classes),
		Version: idx.version,
		Built:   idx.built,
	}
}

// Close drops all state.
func (idx *Index) Close() {
	idx.mu.Lock()
	idx.reset()
	idx.built = false
	idx.version++
	idx.mu.Unlock()
}
