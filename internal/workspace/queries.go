package workspace

import (
	"context"
	"iter"
	"strings"

	"phpscope/internal/extract"
	"phpscope/internal/resolve"
	"phpscope/internal/scan"
	"phpscope/internal/search/references"
	"phpscope/internal/search/symbols"
)

// The query surface never fails: a failed build, an unknown file or an
// unresolvable name all read as "nothing found". Build failures are logged.

func (e *Engine) ensure(ctx context.Context) {
	if err := e.EnsureBuilt(ctx); err != nil {
		e.logger.Warn("index build failed", "error", err)
	}
}

// ResolveDefinition returns the declaration sites of the name at pos in
// file id.
func (e *Engine) ResolveDefinition(ctx context.Context, id string, pos extract.Position) []symbols.Location {
	e.ensure(ctx)
	doc, ok := e.document(ctx, id)
	if !ok {
		return nil
	}
	return e.resolver.Definition(doc, doc.Offset(pos))
}

// MembersOf lists the members declared on a class, by short or qualified
// name.
func (e *Engine) MembersOf(ctx context.Context, class string) symbols.Members {
	e.ensure(ctx)
	return e.symbols.MembersOf(class)
}

// InheritedMembers lists a class's members followed by the ones it
// inherits.
func (e *Engine) InheritedMembers(ctx context.Context, class string) []symbols.Member {
	e.ensure(ctx)
	c, ok := e.symbols.Class(class)
	if !ok {
		return nil
	}
	return e.resolver.InheritedMembers(c.FQN)
}

// SignatureFor returns the signatures recorded for a callable key such as
// `App\helper`, `Greeter::hello` or `strlen`. Names the workspace does not
// declare fall back to PHP reflection when available.
func (e *Engine) SignatureFor(ctx context.Context, key string) []extract.Signature {
	e.ensure(ctx)
	if sigs := e.symbols.Signatures(key); len(sigs) > 0 {
		return sigs
	}
	return e.reflect(ctx, key)
}

func (e *Engine) reflect(ctx context.Context, name string) []extract.Signature {
	if e.reflector == nil || name == "" {
		return nil
	}
	if sig, ok := e.reflector.Signature(ctx, name); ok {
		return []extract.Signature{sig}
	}
	return nil
}

// SignatureHelp is the signature of the call surrounding a cursor.
type SignatureHelp struct {
	Signatures  []extract.Signature `json:"signatures"`
	ActiveParam int                 `json:"active_param"`
}

// SignatureAt returns the signatures of the innermost call around pos.
func (e *Engine) SignatureAt(ctx context.Context, id string, pos extract.Position) (SignatureHelp, bool) {
	e.ensure(ctx)
	doc, ok := e.document(ctx, id)
	if !ok {
		return SignatureHelp{}, false
	}
	call, ok := resolve.CallAt(doc.Text, doc.Offset(pos))
	if !ok {
		return SignatureHelp{}, false
	}
	sigs, fallback := e.resolver.Signatures(doc, call)
	if len(sigs) == 0 {
		sigs = e.reflect(ctx, fallback)
	}
	if len(sigs) == 0 {
		return SignatureHelp{}, false
	}
	return SignatureHelp{Signatures: sigs, ActiveParam: call.ActiveParam}, true
}

// Supertypes returns the classes and interfaces a class directly extends or
// implements.
func (e *Engine) Supertypes(ctx context.Context, class string) []symbols.ClassInfo {
	e.ensure(ctx)
	return e.symbols.Supertypes(class)
}

// Subtypes returns the classes that directly extend or implement a class.
func (e *Engine) Subtypes(ctx context.Context, class string) []symbols.ClassInfo {
	e.ensure(ctx)
	return e.symbols.Subtypes(class)
}

// ReferenceCount returns the call sites of a declaration key. The reference
// index is built on first use; afterwards it is rebuilt in the background
// once edits settle, so counts may briefly lag.
func (e *Engine) ReferenceCount(ctx context.Context, key string) []symbols.Location {
	e.ensure(ctx)
	if !e.refs.Stats().Built {
		if err := e.refs.EnsureBuilt(ctx); err != nil {
			e.logger.Warn("reference index build failed", "error", err)
			return nil
		}
	}
	return e.refs.Count(key)
}

// RefreshReferences brings the reference index up to date with the symbol
// index now.
func (e *Engine) RefreshReferences(ctx context.Context) error {
	e.refTimers.Cancel("rebuild")
	return e.refs.EnsureBuilt(ctx)
}

// AllSymbolKeys yields every symbol key, sorted.
func (e *Engine) AllSymbolKeys(ctx context.Context) iter.Seq[string] {
	e.ensure(ctx)
	return e.symbols.AllKeys()
}

// Search ranks symbol keys against a fuzzy query.
func (e *Engine) Search(ctx context.Context, query string, limit int) []symbols.SearchResult {
	e.ensure(ctx)
	return e.symbols.Search(query, limit)
}

// Complete returns the member completions at pos. Comments and
// non-interpolated strings never complete.
func (e *Engine) Complete(ctx context.Context, id string, pos extract.Position) (resolve.Completion, bool) {
	e.ensure(ctx)
	doc, ok := e.document(ctx, id)
	if !ok {
		return resolve.Completion{}, false
	}
	offset := doc.Offset(pos)
	if scan.ClassifyCursor(doc.Text, offset).SuppressCompletion() {
		return resolve.Completion{}, false
	}
	return e.resolver.Complete(doc, offset)
}

// TypeAt returns the inferred type of the variable at pos.
func (e *Engine) TypeAt(ctx context.Context, id string, pos extract.Position) (string, bool) {
	e.ensure(ctx)
	doc, ok := e.document(ctx, id)
	if !ok {
		return "", false
	}
	offset := doc.Offset(pos)
	start, end := offset, offset
	for start > 0 && isVarByte(doc.Text[start-1]) {
		start--
	}
	for end < len(doc.Text) && isVarByte(doc.Text[end]) {
		end++
	}
	name := doc.Text[start:end]
	if !strings.HasPrefix(name, "$") {
		return "", false
	}
	t := e.resolver.Infer(doc, start)[name]
	return t, t != ""
}

func isVarByte(c byte) bool {
	return c == '$' || c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

// Routes returns the declaration sites of a named route.
func (e *Engine) Routes(ctx context.Context, name string) []symbols.Location {
	if e.routes == nil {
		return nil
	}
	e.ensure(ctx)
	return e.routes.Lookup(name)
}

// RouteNames lists every declared route name.
func (e *Engine) RouteNames(ctx context.Context) []string {
	if e.routes == nil {
		return nil
	}
	e.ensure(ctx)
	return e.routes.Names()
}

// Snapshot exposes the symbol index for read-only consumers such as the
// sqlite export.
func (e *Engine) Snapshot(ctx context.Context) *symbols.Index {
	e.ensure(ctx)
	return e.symbols
}

// Stats summarises every index.
type Stats struct {
	Symbols       symbols.Stats    `json:"symbols"`
	References    references.Stats `json:"references"`
	Routes        int              `json:"routes"`
	OpenDocuments int              `json:"open_documents"`
	Pending       int              `json:"pending"`
}

// Stats returns counters for diagnostics. It does not trigger a build.
func (e *Engine) Stats() Stats {
	s := Stats{
		Symbols:       e.symbols.Stats(),
		References:    e.refs.Stats(),
		OpenDocuments: len(e.overlay.Open()),
		Pending:       len(e.symbolTimers.Keys()) + len(e.routeTimers.Keys()) + len(e.refTimers.Keys()),
	}
	if e.routes != nil {
		s.Routes = len(e.routes.Names())
	}
	return s
}
