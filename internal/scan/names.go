package scan

import (
	"regexp"
	"strings"
)

var (
	namespaceRe = regexp.MustCompile(`(?m)^[ \t]*namespace\s+([A-Za-z_\\][\w\\]*)\s*[;{]`)
	useRe       = regexp.MustCompile(`(?m)^[ \t]*use\s+([^;]+);`)
)

// NamespaceDecl is one `namespace X;` or `namespace X {` declaration.
type NamespaceDecl struct {
	Name   string
	Offset int
}

// Namespaces returns every namespace declaration in text, in source order.
func Namespaces(text string) []NamespaceDecl {
	var decls []NamespaceDecl
	for _, m := range namespaceRe.FindAllStringSubmatchIndex(text, -1) {
		decls = append(decls, NamespaceDecl{
			Name:   strings.Trim(text[m[2]:m[3]], `\`),
			Offset: m[0],
		})
	}
	return decls
}

// NamespaceAt returns the namespace in effect at offset.
func NamespaceAt(decls []NamespaceDecl, offset int) string {
	ns := ""
	for _, d := range decls {
		if d.Offset > offset {
			break
		}
		ns = d.Name
	}
	return ns
}

// Namespace returns the first namespace declared in text, or "".
func Namespace(text string) string {
	if m := namespaceRe.FindStringSubmatch(text); m != nil {
		return strings.Trim(m[1], `\`)
	}
	return ""
}

// ParseAliases builds the import table of a file: alias -> fully-qualified
// name. Function and constant imports are skipped, as are `use` statements
// nested inside class bodies (trait uses) or closures.
func ParseAliases(text string) map[string]string {
	aliases := make(map[string]string)
	blocks := codeBlocks(text)
	for _, m := range useRe.FindAllStringSubmatchIndex(text, -1) {
		if InSpans(blocks, m[0]) {
			continue
		}
		body := strings.TrimSpace(text[m[2]:m[3]])
		if strings.Contains(body, "(") || importsNonType(body) {
			continue
		}
		if open := strings.Index(body, "{"); open >= 0 {
			prefix := strings.Trim(strings.TrimSpace(body[:open]), `\`)
			inner := body[open+1:]
			if close := strings.LastIndex(inner, "}"); close >= 0 {
				inner = inner[:close]
			}
			for _, part := range strings.Split(inner, ",") {
				part = strings.TrimSpace(part)
				if part == "" || importsNonType(part) {
					continue
				}
				addAlias(aliases, prefix+`\`+part)
			}
			continue
		}
		for _, part := range strings.Split(body, ",") {
			addAlias(aliases, part)
		}
	}
	return aliases
}

func importsNonType(stmt string) bool {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return true
	}
	first := strings.ToLower(fields[0])
	return first == "function" || first == "const"
}

func addAlias(aliases map[string]string, part string) {
	fields := strings.Fields(part)
	if len(fields) == 0 {
		return
	}
	fqn := strings.Trim(fields[0], `\`)
	if fqn == "" {
		return
	}
	alias := ShortName(fqn)
	if len(fields) >= 3 && strings.EqualFold(fields[1], "as") {
		alias = fields[2]
	}
	aliases[alias] = fqn
}

// codeBlocks returns the outermost brace blocks that are not namespace bodies.
func codeBlocks(text string) []Span {
	var spans []Span
	type frame struct {
		open      int
		namespace bool
	}
	var stack []frame
	depth := 0 // non-namespace depth
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '{':
			ns := depth == 0 && opensNamespace(text, i)
			stack = append(stack, frame{open: i, namespace: ns})
			if !ns {
				depth++
			}
		case '}':
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top.namespace {
				continue
			}
			depth--
			if depth == 0 {
				spans = append(spans, Span{Start: top.open, End: i})
			}
		}
	}
	for _, f := range stack {
		if !f.namespace {
			spans = append(spans, Span{Start: f.open, End: len(text) - 1})
			break
		}
	}
	return spans
}

var namespaceHeadRe = regexp.MustCompile(`namespace(?:\s+[\w\\]+)?\s*$`)

func opensNamespace(text string, brace int) bool {
	start := brace - 200
	if start < 0 {
		start = 0
	}
	head := text[start:brace]
	if i := strings.LastIndexAny(head, ";{}"); i >= 0 {
		head = head[i+1:]
	}
	return namespaceHeadRe.MatchString(head)
}

// ShortName returns the last segment of a namespace-qualified name.
func ShortName(name string) string {
	name = strings.TrimRight(name, `\`)
	if i := strings.LastIndex(name, `\`); i >= 0 {
		return name[i+1:]
	}
	return name
}

var builtinTypes = map[string]bool{
	"int": true, "integer": true, "float": true, "double": true, "string": true,
	"bool": true, "boolean": true, "array": true, "callable": true, "iterable": true,
	"object": true, "mixed": true, "void": true, "null": true, "never": true,
	"false": true, "true": true, "self": true, "static": true, "parent": true,
	"resource": true,
}

// IsBuiltinType reports whether name is a scalar or pseudo type that must not
// be namespace-qualified.
func IsBuiltinType(name string) bool {
	return builtinTypes[strings.ToLower(name)]
}

// ResolveName qualifies a class-like name as written in source against the
// file's namespace and import table. A leading backslash marks a name as
// already fully qualified. The result never has a leading backslash.
func ResolveName(name, namespace string, aliases map[string]string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, `\`) {
		return strings.TrimLeft(name, `\`)
	}
	if IsBuiltinType(name) {
		return strings.ToLower(name)
	}
	if i := strings.Index(name, `\`); i >= 0 {
		if fqn, ok := aliases[name[:i]]; ok {
			return fqn + name[i:]
		}
		if strings.HasPrefix(strings.ToLower(name), `namespace\`) {
			name = name[len(`namespace\`):]
		}
	} else if fqn, ok := aliases[name]; ok {
		return fqn
	}
	if namespace == "" {
		return name
	}
	return namespace + `\` + name
}
