package references

import (
	"regexp"
	"strings"

	"phpscope/internal/extract"
	"phpscope/internal/scan"
	"phpscope/internal/search/symbols"
)

// Bucket prefixes.
const (
	prefixFunction = "fn:"
	prefixMethod   = "method:"
	prefixStatic   = "static:"
)

var (
	instanceCallRe = regexp.MustCompile(`\??->\s*([A-Za-z_]\w*)\s*\(`)
	staticCallRe   = regexp.MustCompile(`([A-Za-z_\\][\w\\]*)\s*::\s*([A-Za-z_]\w*)\s*\(`)
	plainCallRe    = regexp.MustCompile(`([A-Za-z_\\][\w\\]*)\s*\(`)
)

// notCalls are words followed by '(' that are not function calls.
var notCalls = map[string]bool{
	"if": true, "elseif": true, "while": true, "for": true, "foreach": true,
	"switch": true, "match": true, "catch": true, "function": true, "fn": true,
	"array": true, "list": true, "isset": true, "unset": true, "empty": true,
	"eval": true, "exit": true, "die": true, "return": true, "echo": true,
	"print": true, "include": true, "include_once": true, "require": true,
	"require_once": true, "declare": true, "use": true, "new": true,
	"and": true, "or": true, "xor": true, "clone": true, "static": true,
	"self": true, "parent": true, "instanceof": true, "class": true,
}

// declaringWords make the following name a declaration or instantiation.
var declaringWords = map[string]bool{"function": true, "new": true, "fn": true}

// Ref is one call site.
type Ref struct {
	Key   string
	Range extract.Range
}

// Extract finds the call sites in one file's text. Instance calls are
// bucketed by method name only; static calls by resolved class and name.
func Extract(text string) []Ref {
	file := extract.Extract(text)
	lines := scan.NewLineIndex(text)
	rangeOf := func(start, end int) extract.Range {
		sl, sc := lines.Position(start)
		el, ec := lines.Position(end)
		return extract.Range{
			Start: extract.Position{Line: sl, Column: sc},
			End:   extract.Position{Line: el, Column: ec},
		}
	}

	var refs []Ref
	for _, m := range instanceCallRe.FindAllStringSubmatchIndex(text, -1) {
		refs = append(refs, Ref{Key: prefixMethod + text[m[2]:m[3]], Range: rangeOf(m[2], m[3])})
	}

	for _, m := range staticCallRe.FindAllStringSubmatchIndex(text, -1) {
		if m[2] > 0 && (text[m[2]-1] == '$' || isWordByte(text[m[2]-1])) {
			continue
		}
		class := staticClass(file, text[m[2]:m[3]], m[2])
		if class == "" {
			continue
		}
		refs = append(refs, Ref{
			Key:   prefixStatic + class + "::" + text[m[4]:m[5]],
			Range: rangeOf(m[4], m[5]),
		})
	}

	for _, m := range plainCallRe.FindAllStringSubmatchIndex(text, -1) {
		start := m[2]
		name := text[m[2]:m[3]]
		if start > 0 && (text[start-1] == '$' || isWordByte(text[start-1])) {
			continue
		}
		if notCalls[strings.ToLower(name)] || precededByAccess(text, start) || declaringWords[strings.ToLower(previousWord(text, start))] {
			continue
		}
		refs = append(refs, Ref{
			Key:   prefixFunction + scan.ShortName(name),
			Range: rangeOf(m[2], m[3]),
		})
	}
	return refs
}

func staticClass(file *extract.File, name string, offset int) string {
	switch strings.ToLower(name) {
	case "self", "static":
		if c := file.ClassAt(offset); c != nil {
			return c.FQN
		}
		return ""
	case "parent":
		if c := file.ClassAt(offset); c != nil {
			return c.Extends
		}
		return ""
	}
	return file.Resolve(name, offset)
}

// FunctionKey, MethodKey and StaticKey build bucket keys.
func FunctionKey(name string) string { return prefixFunction + scan.ShortName(name) }
func MethodKey(name string) string   { return prefixMethod + name }
func StaticKey(class, name string) string {
	return prefixStatic + strings.TrimLeft(class, `\`) + "::" + name
}

// keysFor maps a declaration key to the buckets counting its calls. The
// kinds come from the symbol index; non-callables have no buckets.
func keysFor(declKey string, metas []symbols.Meta, fqns func(string) []string) []string {
	callable := false
	for _, m := range metas {
		if m.Kind == extract.KindMethod || m.Kind == extract.KindFunction {
			callable = true
			break
		}
	}
	if !callable {
		return nil
	}

	class, member, op, ok := symbols.SplitMemberKey(declKey)
	if !ok {
		return []string{FunctionKey(declKey)}
	}
	if op != "::" || strings.HasPrefix(member, "$") {
		return nil
	}
	keys := []string{MethodKey(member)}
	classes := []string{class}
	if !strings.Contains(class, `\`) {
		for _, fqn := range fqns(class) {
			if fqn != class {
				classes = append(classes, fqn)
			}
		}
	}
	for _, c := range classes {
		keys = append(keys, StaticKey(c, member))
	}
	return keys
}

func precededByAccess(text string, offset int) bool {
	i := offset - 1
	for i >= 0 && isSpace(text[i]) {
		i--
	}
	if i < 1 {
		return false
	}
	op := text[i-1 : i+1]
	return op == "->" || op == "::"
}

// previousWord returns the word before offset, looking past a by-reference
// '&' so that function &f() reads as a declaration.
func previousWord(text string, offset int) string {
	i := offset - 1
	for i >= 0 && isSpace(text[i]) {
		i--
	}
	if i >= 0 && text[i] == '&' {
		i--
		for i >= 0 && isSpace(text[i]) {
			i--
		}
	}
	end := i + 1
	for i >= 0 && isWordByte(text[i]) {
		i--
	}
	return text[i+1 : end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
