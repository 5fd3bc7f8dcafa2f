// Package resolve answers position-based questions about PHP source: what a
// name under the cursor refers to, what type a variable probably has, which
// members complete after -> or ::, and which call the cursor is inside.
//
// Every query is computed fresh from the document text. The current file is
// searched first; the workspace index is only a fallback.
package resolve

import (
	"iter"
	"slices"
	"strings"

	"phpscope/internal/extract"
	"phpscope/internal/scan"
	"phpscope/internal/search/routes"
	"phpscope/internal/search/symbols"
)

// Index is the part of the workspace symbol index the resolver reads.
type Index interface {
	Lookup(key string) []symbols.Location
	Meta(key string) []symbols.Meta
	Signatures(key string) []extract.Signature
	FQNs(short string) []string
	Lineage(fqn string) []string
	MembersOf(class string) symbols.Members
	AllKeys() iter.Seq[string]
}

// RouteIndex maps route names to declarations.
type RouteIndex interface {
	Lookup(name string) []symbols.Location
}

// Resolver resolves references against a symbol index. It holds no
// per-query state and is safe for concurrent use.
type Resolver struct {
	index  Index
	routes RouteIndex
	// Window is how many bytes before the cursor type inference reads.
	Window int
}

// New creates a resolver. routes may be nil.
func New(index Index, routes RouteIndex) *Resolver {
	return &Resolver{index: index, routes: routes, Window: DefaultWindow}
}

func (r *Resolver) window() int {
	if r.Window <= 0 {
		return DefaultWindow
	}
	return r.Window
}

// Definition returns the declaration sites of the name under offset. Route
// names inside route('...') resolve through the route index.
func (r *Resolver) Definition(doc *Document, offset int) []symbols.Location {
	if r.routes != nil {
		if name, ok := routes.ReferenceAt(doc.Text, offset); ok {
			return r.routes.Lookup(name)
		}
	}
	ref, ok := Classify(doc.Text, offset)
	if !ok {
		return nil
	}
	return r.Resolve(doc, ref)
}

// Resolve returns the declaration sites of ref: local declarations when the
// current file has them, otherwise the first candidate key the index knows.
func (r *Resolver) Resolve(doc *Document, ref Reference) []symbols.Location {
	if locs := r.local(doc, ref); len(locs) > 0 {
		return locs
	}
	for _, key := range r.CandidateKeys(doc, ref) {
		if locs := r.index.Lookup(key); len(locs) > 0 {
			return locs
		}
	}
	if ia, ok := ref.(InstanceAccess); ok && r.receiverType(doc, ia) == "" {
		return r.anyMember(ia.Member)
	}
	return nil
}

// local searches the current document only.
func (r *Resolver) local(doc *Document, ref Reference) []symbols.Location {
	switch ref := ref.(type) {
	case Plain:
		name := strings.TrimLeft(ref.Name, `\`)
		candidates := r.plainCandidates(doc, ref.Name, ref.At.Start)
		return doc.localSymbols(func(sym extract.Symbol) bool {
			if sym.Container != "" {
				return false
			}
			if strings.Contains(name, `\`) {
				return slices.Contains(candidates, sym.FQN)
			}
			return sym.Name == name
		})
	case StaticAccess:
		class := r.className(doc, ref.Class, ref.At.Start)
		if ref.Member == "class" {
			return doc.localSymbols(func(sym extract.Symbol) bool {
				return sym.Container == "" && sym.Kind.IsType() && sym.FQN == class
			})
		}
		return r.localMember(doc, class, ref.Member, true)
	case InstanceAccess:
		if ref.Receiver != "$this" {
			return nil
		}
		c := doc.enclosingClass(ref.At.Start)
		if c == nil {
			return nil
		}
		return r.localMember(doc, c.FQN, ref.Member, false)
	}
	return nil
}

// localMember finds member among the declarations of class in this file.
func (r *Resolver) localMember(doc *Document, class, member string, static bool) []symbols.Location {
	if class == "" || doc.File.ClassNamed(class) == nil {
		return nil
	}
	prop := strings.HasPrefix(member, "$")
	name := strings.TrimPrefix(member, "$")
	return doc.localSymbols(func(sym extract.Symbol) bool {
		if sym.ContainerFQN != class || sym.Name != name {
			return false
		}
		if static && prop {
			return sym.Kind == extract.KindProperty
		}
		if static {
			return sym.Kind != extract.KindProperty
		}
		return true
	})
}

// CandidateKeys lists the index keys ref may denote, most specific first:
// fully-qualified keys before short-name keys, the inferred class before its
// ancestors.
func (r *Resolver) CandidateKeys(doc *Document, ref Reference) []string {
	var keys []string
	add := func(k string) {
		if k != "" && !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}

	switch ref := ref.(type) {
	case Plain:
		for _, k := range r.plainCandidates(doc, ref.Name, ref.At.Start) {
			add(k)
		}
	case StaticAccess:
		classes := r.classCandidates(doc, ref.Class, ref.At.Start)
		if ref.Member == "class" {
			for _, c := range classes {
				add(c)
			}
			break
		}
		for _, k := range memberKeys(r.lineages(classes), ref.Member, "::") {
			add(k)
		}
	case InstanceAccess:
		class := r.receiverType(doc, ref)
		if class == "" {
			break
		}
		seps := []string{"->", "::"}
		if ref.Call {
			seps = []string{"::", "->"}
		}
		for _, k := range memberKeys(r.index.Lineage(class), ref.Member, seps...) {
			add(k)
		}
	}
	return keys
}

// lineages concatenates the lineage of each class.
func (r *Resolver) lineages(classes []string) []string {
	var out []string
	for _, c := range classes {
		for _, a := range r.index.Lineage(c) {
			if !slices.Contains(out, a) {
				out = append(out, a)
			}
		}
	}
	return out
}

// memberKeys builds member keys over classes: every fully-qualified key
// first, then the short-name keys.
func memberKeys(classes []string, member string, seps ...string) []string {
	var keys []string
	for _, short := range []bool{false, true} {
		for _, c := range classes {
			if short {
				c = scan.ShortName(c)
			}
			for _, sep := range seps {
				keys = append(keys, c+sep+member)
			}
		}
	}
	return keys
}

// plainCandidates lists the keys a bare name may denote: the name resolved
// as a class (aliases, namespace), then as a namespaced function or
// constant, then the global name.
func (r *Resolver) plainCandidates(doc *Document, name string, offset int) []string {
	if strings.HasPrefix(name, `\`) {
		return []string{strings.TrimLeft(name, `\`)}
	}
	out := []string{doc.File.Resolve(name, offset)}
	if ns := doc.File.NamespaceAt(offset); ns != "" {
		if k := ns + `\` + name; !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	if !slices.Contains(out, name) {
		out = append(out, name)
	}
	return out
}

// classCandidates lists the classes a static receiver may denote. The
// fully-qualified resolution comes first, then every class registered under
// the same short name, first registered first.
func (r *Resolver) classCandidates(doc *Document, receiver string, offset int) []string {
	var out []string
	add := func(c string) {
		if c != "" && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	if strings.HasPrefix(receiver, "$") || strings.ContainsAny(receiver, "()") || strings.Contains(receiver, "->") {
		add(r.TypeOf(doc, receiver, offset))
		return out
	}
	add(r.className(doc, receiver, offset))
	switch strings.ToLower(receiver) {
	case "self", "static", "parent":
		return out
	}
	if !strings.HasPrefix(receiver, `\`) {
		for _, fqn := range r.index.FQNs(scan.ShortName(receiver)) {
			add(fqn)
		}
	}
	return out
}

func (r *Resolver) receiverType(doc *Document, ref InstanceAccess) string {
	t := r.TypeOf(doc, ref.Receiver, ref.At.Start)
	if scan.IsBuiltinType(t) {
		return ""
	}
	return t
}

// anyMember collects every declaration of a method or property called name
// on any class. It backs instance accesses whose receiver type is unknown.
func (r *Resolver) anyMember(name string) []symbols.Location {
	if name == "" {
		return nil
	}
	suffixes := []string{"::" + name, "->" + name}
	seen := make(map[symbols.Location]bool)
	var out []symbols.Location
	for key := range r.index.AllKeys() {
		if !strings.HasSuffix(key, suffixes[0]) && !strings.HasSuffix(key, suffixes[1]) {
			continue
		}
		for _, loc := range r.index.Lookup(key) {
			if !seen[loc] {
				seen[loc] = true
				out = append(out, loc)
			}
		}
	}
	return out
}
