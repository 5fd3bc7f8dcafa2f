package resolve

import (
	"strings"

	"phpscope/internal/extract"
)

// callWindow bounds the backward search for an open call.
const callWindow = 4000

// notCallees are keywords that take a parenthesised expression.
var notCallees = map[string]bool{
	"if": true, "elseif": true, "while": true, "for": true, "foreach": true,
	"switch": true, "match": true, "catch": true, "function": true, "fn": true,
	"array": true, "list": true, "isset": true, "unset": true, "empty": true,
	"return": true, "use": true, "declare": true, "echo": true, "print": true,
}

// Call is the innermost call whose argument list contains the cursor.
type Call struct {
	Callee      Reference
	Constructor bool // new Foo(...)
	Open        int  // offset of '('
	ActiveParam int  // zero-based argument index at the cursor
}

// CallAt finds the call the cursor is inside.
func CallAt(text string, offset int) (Call, bool) {
	offset = min(max(offset, 0), len(text))
	open, commas, ok := innermostParen(text, offset)
	if !ok {
		return Call{}, false
	}
	end := skipSpaceBack(text, open)
	start := end
	for start > 0 && isNameByte(text[start-1]) {
		start--
	}
	name := text[start:end]
	if body := strings.TrimLeft(name, `\`); body == "" || !isIdentStart(body[0]) {
		return Call{}, false
	}
	if notCallees[strings.ToLower(name)] {
		return Call{}, false
	}
	ref, ok := referenceAt(text, start, end)
	if !ok {
		return Call{}, false
	}
	call := Call{Callee: ref, Open: open, ActiveParam: commas}
	if p, isPlain := ref.(Plain); isPlain {
		p.Call = true
		call.Callee = p
		call.Constructor = wordBefore(text, start) == "new"
	}
	return call, true
}

// innermostParen walks forward through the window before offset and returns
// the innermost '(' still open at offset with the number of top-level commas
// after it. Strings and comments are skipped.
func innermostParen(text string, offset int) (open, commas int, ok bool) {
	type frame struct {
		ch     byte
		at     int
		commas int
	}
	var stack []frame
	start := max(0, offset-callWindow)
	for i := start; i < offset; i++ {
		c := text[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = skipString(text, i, offset)
		case c == '/' && i+1 < offset && text[i+1] == '/', c == '#' && (i+1 >= offset || text[i+1] != '['):
			for i < offset && text[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < offset && text[i+1] == '*':
			end := strings.Index(text[i+2:offset], "*/")
			if end < 0 {
				return 0, 0, false
			}
			i += end + 3
		case c == '(' || c == '[' || c == '{':
			stack = append(stack, frame{ch: c, at: i})
		case c == ')' || c == ']' || c == '}':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case c == ',':
			if len(stack) > 0 {
				stack[len(stack)-1].commas++
			}
		case c == ';':
			// A statement ends only outside parentheses.
			for len(stack) > 0 && stack[len(stack)-1].ch == '(' {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 || stack[len(stack)-1].ch != '(' {
		return 0, 0, false
	}
	top := stack[len(stack)-1]
	return top.at, top.commas, true
}

// skipString returns the index of the quote closing the string opening at
// i, or limit when it runs past it.
func skipString(text string, i, limit int) int {
	q := text[i]
	for j := i + 1; j < limit; j++ {
		switch text[j] {
		case '\\':
			j++
		case q:
			return j
		}
	}
	return limit
}

// Signatures returns the signatures of the callee, local declarations first.
// The second result names the callable for a reflection fallback when
// nothing in the workspace declares it: a function name or Class::method.
func (r *Resolver) Signatures(doc *Document, call Call) ([]extract.Signature, string) {
	switch ref := call.Callee.(type) {
	case Plain:
		if call.Constructor {
			classes := r.classCandidates(doc, ref.Name, ref.At.Start)
			if sigs := r.methodSignatures(doc, classes, "__construct"); len(sigs) > 0 {
				return sigs, ""
			}
			if len(classes) == 0 {
				return nil, ""
			}
			return nil, classes[0] + "::__construct"
		}
		keys := functionCandidates(doc, ref.Name, ref.At.Start)
		for _, sym := range doc.File.Symbols {
			if sym.Container == "" && sym.Signature != nil && (sym.FQN == keys[0] || sym.Name == strings.TrimLeft(ref.Name, `\`)) {
				return []extract.Signature{*sym.Signature}, ""
			}
		}
		for _, k := range keys {
			if sigs := r.index.Signatures(k); len(sigs) > 0 {
				return sigs, ""
			}
		}
		return nil, keys[len(keys)-1]
	case StaticAccess:
		classes := r.classCandidates(doc, ref.Class, ref.At.Start)
		if sigs := r.methodSignatures(doc, classes, ref.Member); len(sigs) > 0 {
			return sigs, ""
		}
		if len(classes) == 0 {
			return nil, ""
		}
		return nil, classes[0] + "::" + ref.Member
	case InstanceAccess:
		class := r.receiverType(doc, ref)
		if class == "" {
			return nil, ""
		}
		if sigs := r.methodSignatures(doc, []string{class}, ref.Member); len(sigs) > 0 {
			return sigs, ""
		}
		return nil, class + "::" + ref.Member
	}
	return nil, ""
}

// methodSignatures searches each class and its ancestors for method. A class
// declared in doc is read from doc before the index.
func (r *Resolver) methodSignatures(doc *Document, classes []string, method string) []extract.Signature {
	for _, c := range classes {
		for _, sym := range doc.File.Symbols {
			if sym.ContainerFQN == c && sym.Name == method && sym.Signature != nil {
				return []extract.Signature{*sym.Signature}
			}
		}
	}
	for _, key := range memberKeys(r.lineages(classes), method, "::") {
		if sigs := r.index.Signatures(key); len(sigs) > 0 {
			return sigs
		}
	}
	return nil
}

// functionCandidates lists the keys a function call may denote: the
// namespaced name, then the global one.
func functionCandidates(doc *Document, name string, offset int) []string {
	if strings.HasPrefix(name, `\`) {
		return []string{strings.TrimLeft(name, `\`)}
	}
	if strings.Contains(name, `\`) {
		return []string{doc.File.Resolve(name, offset)}
	}
	var out []string
	if ns := doc.File.NamespaceAt(offset); ns != "" {
		out = append(out, ns+`\`+name)
	}
	return append(out, name)
}
