package resolve

import (
	"regexp"
	"strings"

	"phpscope/internal/scan"
)

const (
	// DefaultWindow is how far back type inference looks for assignments.
	DefaultWindow = 3000
	// signatureWindow bounds the forward scan for a parameter list's ')'.
	signatureWindow = 4000
	// maxInferDepth bounds recursion through call chains.
	maxInferDepth = 8
)

var (
	assignRe    = regexp.MustCompile(`(\$[A-Za-z_]\w*)\s*=`)
	varDocRe    = regexp.MustCompile(`@var\s+[^\s*$]+\s+(\$[A-Za-z_]\w*)`)
	varInlineRe = regexp.MustCompile(`@var\s+[^\s*$]+\s*\*/\s*(\$[A-Za-z_]\w*)`)
	catchRe     = regexp.MustCompile(`catch\s*\(\s*([\w\\|\s]+?)\s+(\$[A-Za-z_]\w*)\s*\)`)
	newRe       = regexp.MustCompile(`^new\s+([\w\\]+)`)
	castRe      = regexp.MustCompile(`^\(\s*(int|integer|float|double|string|bool|boolean|array|object)\s*\)`)
	numberRe    = regexp.MustCompile(`^-?\d[\d_]*(\.\d+)?([eE][-+]?\d+)?$`)
	closureRe   = regexp.MustCompile(`^(?:static\s+)?(?:function|fn)\s*\(`)
)

var castTypes = map[string]string{
	"int": "int", "integer": "int", "float": "float", "double": "float",
	"string": "string", "bool": "bool", "boolean": "bool", "array": "array",
	"object": "object",
}

// Infer maps each variable visible at offset to its probable type: class
// names fully qualified, scalars lower-case. It looks only at the bounded
// window before offset. Nearest assignment wins; @var annotations win over
// assignments; $this is the enclosing class. The result is only valid for
// offset.
func (r *Resolver) Infer(doc *Document, offset int) map[string]string {
	offset = min(max(offset, 0), len(doc.Text))
	start := max(0, offset-r.window())
	window := doc.Text[start:offset]
	types := make(map[string]string)

	if c := doc.enclosingClass(offset); c != nil {
		types["$this"] = c.FQN
	}
	if fn := doc.enclosingCallable(offset); fn != nil {
		for _, p := range fn.Signature.Params {
			if p.Type == "" {
				continue
			}
			t := doc.File.ResolveType(p.Type, fn.Offset)
			if p.Variadic {
				t = "array"
			}
			types["$"+p.Name] = t
		}
	}

	for _, m := range catchRe.FindAllStringSubmatch(window, -1) {
		first, _, _ := strings.Cut(m[1], "|")
		types[m[2]] = doc.File.Resolve(strings.TrimSpace(first), offset)
	}

	// Assignments are visited in order, so types holds what each variable
	// was when the right-hand side ran.
	for _, m := range assignRe.FindAllStringSubmatchIndex(window, -1) {
		after := start + m[1]
		if after < len(doc.Text) && (doc.Text[after] == '=' || doc.Text[after] == '>') {
			continue // comparison or array arrow
		}
		rhs, ok := statementRest(doc.Text, after, offset)
		if !ok {
			continue
		}
		name := window[m[2]:m[3]]
		if t := r.classify(doc, rhs, start+m[0], types); t != "" {
			types[name] = t
		} else {
			delete(types, name)
		}
	}

	annotated := make(map[string]bool)
	for _, re := range []*regexp.Regexp{varDocRe, varInlineRe} {
		for _, m := range re.FindAllStringSubmatch(window, -1) {
			annotated[m[1]] = true
		}
	}
	for name := range annotated {
		if t, ok := scan.VarAnnotation(window, name); ok {
			types[name] = doc.File.ResolveType(t, offset)
		}
	}
	return types
}

// statementRest returns the text from `from` to the ';' ending the
// statement, which must lie before limit. Nested brackets are skipped so
// closures and argument lists stay whole.
func statementRest(text string, from, limit int) (string, bool) {
	depth := 0
	var quote byte
	for i := from; i < limit; i++ {
		c := text[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth < 0 {
				return "", false
			}
		case ';':
			if depth == 0 {
				return strings.TrimSpace(text[from:i]), true
			}
		}
	}
	return "", false
}

// classify types the right-hand side of an assignment written at offset.
func (r *Resolver) classify(doc *Document, rhs string, offset int, vars map[string]string) string {
	rhs = strings.TrimSpace(rhs)
	lower := strings.ToLower(rhs)
	switch {
	case rhs == "":
		return ""
	case rhs[0] == '\'' || rhs[0] == '"' || strings.HasPrefix(rhs, "<<<"):
		return "string"
	case rhs[0] == '[' || strings.HasPrefix(lower, "array("):
		return "array"
	case lower == "true" || lower == "false":
		return "bool"
	case lower == "null":
		return "null"
	case numberRe.MatchString(rhs):
		if strings.ContainsAny(rhs, ".eE") {
			return "float"
		}
		return "int"
	case closureRe.MatchString(lower):
		return "Closure"
	}
	if m := castRe.FindStringSubmatch(lower); m != nil {
		return castTypes[m[1]]
	}
	if strings.HasPrefix(lower, "clone ") {
		rhs = strings.TrimSpace(rhs[len("clone "):])
	}
	return r.typeOf(doc, rhs, offset, vars, 0)
}

// TypeOf returns the probable type of an expression written at offset, or
// "" when nothing can be inferred. It understands variables, $this, new,
// parenthesised expressions, function calls and chains of ->, ?-> and ::
// accesses.
func (r *Resolver) TypeOf(doc *Document, expr string, offset int) string {
	return r.typeOf(doc, expr, offset, nil, 0)
}

// typeOf reads variables from vars, or infers them at offset when vars is
// nil.
func (r *Resolver) typeOf(doc *Document, expr string, offset int, vars map[string]string, depth int) string {
	expr = trimParens(strings.TrimSpace(expr))
	if expr == "" || depth > maxInferDepth {
		return ""
	}
	if isVariable(expr) {
		if vars == nil {
			vars = r.Infer(doc, offset)
		}
		return vars[expr]
	}

	if base, op, name, call, ok := splitChain(expr); ok {
		var class string
		if op == "::" {
			class = r.staticReceiver(doc, base, offset, vars, depth)
		} else {
			class = r.typeOf(doc, base, offset, vars, depth+1)
		}
		return r.memberType(class, name, call, op == "::")
	}
	if m := newRe.FindStringSubmatch(expr); m != nil {
		return r.className(doc, m[1], offset)
	}

	if strings.HasSuffix(expr, ")") {
		open := matchParenBack(expr, len(expr)-1)
		if open > 0 {
			return r.functionReturn(doc, strings.TrimSpace(expr[:open]), offset)
		}
	}
	return ""
}

// staticReceiver resolves the left side of :: to a class name.
func (r *Resolver) staticReceiver(doc *Document, base string, offset int, vars map[string]string, depth int) string {
	base = strings.TrimSpace(base)
	if strings.HasPrefix(base, "$") {
		return r.typeOf(doc, base, offset, vars, depth+1)
	}
	return r.className(doc, base, offset)
}

// className qualifies a class name written at offset, mapping self, static
// and parent to the enclosing class.
func (r *Resolver) className(doc *Document, name string, offset int) string {
	switch strings.ToLower(name) {
	case "self", "static":
		if c := doc.enclosingClass(offset); c != nil {
			return c.FQN
		}
		return ""
	case "parent":
		if c := doc.enclosingClass(offset); c != nil {
			return c.Extends
		}
		return ""
	}
	return doc.File.Resolve(name, offset)
}

// memberType looks up the return type of a method or the declared type of a
// property on class and its ancestors.
func (r *Resolver) memberType(class, name string, call, static bool) string {
	if class == "" || scan.IsBuiltinType(class) {
		return ""
	}
	for _, c := range r.index.Lineage(class) {
		if call {
			for _, sig := range r.index.Signatures(c + "::" + name) {
				switch strings.ToLower(strings.TrimPrefix(sig.ReturnType, "?")) {
				case "static", "$this":
					return class
				}
				if sig.ResolvedReturn != "" {
					return sig.ResolvedReturn
				}
			}
			continue
		}
		key := c + "->" + name
		if static {
			key = c + "::$" + strings.TrimPrefix(name, "$")
		}
		for _, m := range r.index.Meta(key) {
			if m.ResolvedType != "" {
				return m.ResolvedType
			}
		}
	}
	return ""
}

// functionReturn looks up a free function's return type, local
// declarations first.
func (r *Resolver) functionReturn(doc *Document, name string, offset int) string {
	if name == "" || !isQualifiedName(name) {
		return ""
	}
	keys := functionCandidates(doc, name, offset)
	for _, sym := range doc.File.Symbols {
		if sym.Container != "" || sym.Signature == nil {
			continue
		}
		for _, k := range keys {
			if sym.FQN == k && sym.Signature.ResolvedReturn != "" {
				return sym.Signature.ResolvedReturn
			}
		}
	}
	for _, k := range keys {
		for _, sig := range r.index.Signatures(k) {
			if sig.ResolvedReturn != "" {
				return sig.ResolvedReturn
			}
		}
	}
	return ""
}

// splitChain splits the last access of a chain: `$a->b()->c()` becomes
// (`$a->b()`, "->", "c", true).
func splitChain(expr string) (base, op, name string, call bool, ok bool) {
	end := len(expr)
	if strings.HasSuffix(expr, ")") {
		open := matchParenBack(expr, end-1)
		if open <= 0 {
			return "", "", "", false, false
		}
		end = open
		call = true
	}
	j := end
	for j > 0 && isWordByte(expr[j-1]) {
		j--
	}
	if j > 0 && expr[j-1] == '$' {
		j--
	}
	if j == end {
		return "", "", "", false, false
	}
	name = expr[j:end]
	k := skipSpaceBack(expr, j)
	switch {
	case k >= 2 && expr[k-2:k] == "->":
		base = expr[:k-2]
		base = strings.TrimSuffix(base, "?")
		return base, "->", name, call, base != ""
	case k >= 2 && expr[k-2:k] == "::":
		return expr[:k-2], "::", name, call, k > 2
	}
	return "", "", "", false, false
}

// trimParens removes parentheses wrapping the whole expression.
func trimParens(expr string) string {
	for len(expr) > 1 && expr[0] == '(' && scan.MatchParen(expr, 0, 0) == len(expr)-1 {
		expr = strings.TrimSpace(expr[1 : len(expr)-1])
	}
	return expr
}

func isVariable(expr string) bool {
	if len(expr) < 2 || expr[0] != '$' || !isIdentStart(expr[1]) {
		return false
	}
	for i := 2; i < len(expr); i++ {
		if !isWordByte(expr[i]) {
			return false
		}
	}
	return true
}

func isQualifiedName(name string) bool {
	body := strings.TrimLeft(name, `\`)
	if body == "" || !isIdentStart(body[0]) {
		return false
	}
	for i := 0; i < len(body); i++ {
		if !isNameByte(body[i]) {
			return false
		}
	}
	return true
}
