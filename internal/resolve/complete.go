package resolve

import (
	"strings"

	"phpscope/internal/extract"
	"phpscope/internal/scan"
	"phpscope/internal/search/symbols"
)

// Completion is the member list offered after -> or ::.
type Completion struct {
	Class   string // receiver class, fully qualified
	Static  bool
	Prefix  string // partial member name already typed
	Members []symbols.Member
}

// Complete returns the members that may follow the access operator before
// offset, including inherited ones. It returns false in comments,
// non-interpolated strings, outside an access, or when the receiver type is
// unknown.
func (r *Resolver) Complete(doc *Document, offset int) (Completion, bool) {
	offset = min(max(offset, 0), len(doc.Text))
	if scan.ClassifyCursor(doc.Text, offset).SuppressCompletion() {
		return Completion{}, false
	}

	p := offset
	for p > 0 && isWordByte(doc.Text[p-1]) {
		p--
	}
	if p > 0 && doc.Text[p-1] == '$' {
		p--
	}
	prefix := doc.Text[p:offset]

	k := skipSpaceBack(doc.Text, p)
	var comp Completion
	switch {
	case k >= 2 && doc.Text[k-2:k] == "->":
		op := k - 2
		if op > 0 && doc.Text[op-1] == '?' {
			op--
		}
		recv := receiverBefore(doc.Text, op)
		if recv == "" {
			return Completion{}, false
		}
		comp.Class = r.receiverType(doc, InstanceAccess{Receiver: recv, At: scan.Span{Start: p, End: offset}})
	case k >= 2 && doc.Text[k-2:k] == "::":
		recv := receiverBefore(doc.Text, k-2)
		if recv == "" {
			return Completion{}, false
		}
		comp.Static = true
		if strings.HasPrefix(recv, "$") {
			comp.Class = r.TypeOf(doc, recv, p)
		} else {
			comp.Class = r.className(doc, recv, p)
			if c := r.firstIndexed(r.classCandidates(doc, recv, p)); c != "" {
				comp.Class = c
			}
		}
		if isSelfReference(recv) {
			// self::, static:: and parent:: may call instance methods.
			comp.Members = r.membersFor(comp.Class, false, true, prefix)
			comp.Prefix = prefix
			return comp, comp.Class != ""
		}
	default:
		return Completion{}, false
	}
	if comp.Class == "" || scan.IsBuiltinType(comp.Class) {
		return Completion{}, false
	}
	comp.Prefix = prefix
	comp.Members = r.membersFor(comp.Class, comp.Static, false, prefix)
	return comp, true
}

// InheritedMembers lists class's members followed by those inherited from
// its ancestors. A member declared lower in the hierarchy hides one with the
// same kind and name further up.
func (r *Resolver) InheritedMembers(class string) []symbols.Member {
	var out []symbols.Member
	seen := make(map[string]bool)
	for _, a := range r.index.Lineage(class) {
		ms := r.index.MembersOf(a)
		for _, group := range [][]symbols.Member{ms.Methods, ms.Properties, ms.Constants} {
			for _, m := range group {
				id := string(m.Kind) + "|" + m.Name
				if seen[id] {
					continue
				}
				seen[id] = true
				out = append(out, m)
			}
		}
	}
	return out
}

func (r *Resolver) membersFor(class string, static, selfRef bool, prefix string) []symbols.Member {
	if class == "" {
		return nil
	}
	want := strings.ToLower(strings.TrimPrefix(prefix, "$"))
	var out []symbols.Member
	for _, m := range r.InheritedMembers(class) {
		if !strings.HasPrefix(strings.ToLower(m.Name), want) {
			continue
		}
		switch m.Kind {
		case extract.KindMethod:
			if static && !m.Static {
				continue
			}
		case extract.KindProperty:
			if (static || selfRef) != m.Static {
				continue
			}
		case extract.KindConstant:
			if !static && !selfRef {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

func (r *Resolver) firstIndexed(classes []string) string {
	for _, c := range classes {
		if len(r.index.Lookup(c)) > 0 {
			return c
		}
	}
	return ""
}

func isSelfReference(name string) bool {
	switch strings.ToLower(name) {
	case "self", "static", "parent":
		return true
	}
	return false
}
