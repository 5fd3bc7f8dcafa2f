package extract

import (
	"regexp"
	"sort"
	"strings"

	"phpscope/internal/scan"
)

// headerWindow bounds the distance between a class name and its opening brace.
const headerWindow = 1000

var (
	classHeaderRe = regexp.MustCompile(`\b(class|interface|trait|enum)\s+([A-Za-z_]\w*)`)
	anonClassRe   = regexp.MustCompile(`\bnew\s+class\b`)
	functionRe    = regexp.MustCompile(`\bfunction\s+&?\s*([A-Za-z_]\w*)\s*\(`)
	propertyRe    = regexp.MustCompile(`\b((?:(?:public|protected|private|var|static|readonly)\s+)+)(?:([?\w\\|&()]+)\s+)?\$([A-Za-z_]\w*)`)
	constRe       = regexp.MustCompile(`\bconst\s+(?:[?\w\\]+\s+)?([A-Za-z_]\w*)\s*=`)
	caseRe        = regexp.MustCompile(`\bcase\s+([A-Za-z_]\w*)\s*[=;]`)
	defineRe      = regexp.MustCompile(`\bdefine\s*\(\s*['"]\\?([A-Za-z_][\w\\]*)['"]`)
	extendsRe     = regexp.MustCompile(`\bextends\s+([\w\\\s,]+?)\s*(?:\bimplements\b|$)`)
	implementsRe  = regexp.MustCompile(`\bimplements\s+([\w\\\s,]+)`)
	headerCharsRe = regexp.MustCompile(`^[\w\\\s,:]*$`)
)

var modifierWords = map[string]bool{
	"public": true, "protected": true, "private": true, "static": true,
	"abstract": true, "final": true, "readonly": true, "var": true,
}

type extractor struct {
	text  string
	file  *File
	lines *scan.LineIndex
	// excluded holds class bodies, anonymous class bodies and regions left
	// open by unbalanced braces; free declarations never start inside them.
	excluded []scan.Span
}

// Extract scans one file's text and returns its declarations. It never
// fails: regions it cannot make sense of contribute nothing.
func Extract(text string) *File {
	f := &File{
		Namespace:  scan.Namespace(text),
		Aliases:    scan.ParseAliases(text),
		namespaces: scan.Namespaces(text),
	}
	x := &extractor{text: text, file: f, lines: scan.NewLineIndex(text)}

	x.anonymousClasses()
	x.classes()
	for i := range f.Classes {
		x.members(&f.Classes[i])
	}
	x.freeFunctions()
	x.globalConstants()

	sort.SliceStable(f.Symbols, func(i, j int) bool {
		return f.Symbols[i].Offset < f.Symbols[j].Offset
	})
	return f
}

func (x *extractor) rangeOf(start, end int) Range {
	sl, sc := x.lines.Position(start)
	el, ec := x.lines.Position(end)
	return Range{Start: Position{Line: sl, Column: sc}, End: Position{Line: el, Column: ec}}
}

func (x *extractor) isExcluded(offset int) bool {
	for _, s := range x.excluded {
		if s.Contains(offset) {
			return true
		}
	}
	return false
}

func (x *extractor) anonymousClasses() {
	for _, m := range anonClassRe.FindAllStringIndex(x.text, -1) {
		if x.isExcluded(m[0]) {
			continue
		}
		brace := findBodyOpen(x.text, m[1])
		if brace == scan.NotFound {
			continue
		}
		end := scan.MatchBrace(x.text, brace)
		if end == scan.NotFound {
			end = len(x.text) - 1
		}
		x.excluded = append(x.excluded, scan.Span{Start: brace, End: end})
	}
}

func (x *extractor) classes() {
	f := x.file
	for _, m := range classHeaderRe.FindAllStringSubmatchIndex(x.text, -1) {
		start := m[0]
		name := x.text[m[4]:m[5]]
		if name == "extends" || name == "implements" || x.isExcluded(start) || precededByAccess(x.text, start) {
			continue
		}
		brace := findBodyOpen(x.text, m[5])
		if brace == scan.NotFound || !validHeader(x.text[m[5]:brace]) {
			continue
		}
		end := scan.MatchBrace(x.text, brace)
		if end == scan.NotFound {
			// Unbalanced: skip the declaration and everything after its brace.
			x.excluded = append(x.excluded, scan.Span{Start: brace, End: len(x.text) - 1})
			continue
		}

		ns := f.NamespaceAt(start)
		c := Class{
			Name:      name,
			FQN:       qualify(ns, name),
			Kind:      Kind(x.text[m[2]:m[3]]),
			Namespace: ns,
			Offset:    m[4],
			Range:     x.rangeOf(m[4], m[5]),
			Body:      scan.Span{Start: brace, End: end},
		}
		header := strings.TrimSpace(x.text[m[5]:brace])
		if em := extendsRe.FindStringSubmatch(header); em != nil {
			parents := splitNames(em[1])
			if len(parents) > 0 {
				c.Extends = f.Resolve(parents[0], start)
				// interface A extends B, C
				for _, p := range parents[1:] {
					c.Implements = append(c.Implements, f.Resolve(p, start))
				}
			}
		}
		if im := implementsRe.FindStringSubmatch(header); im != nil {
			for _, p := range splitNames(im[1]) {
				c.Implements = append(c.Implements, f.Resolve(p, start))
			}
		}

		f.Classes = append(f.Classes, c)
		f.Symbols = append(f.Symbols, Symbol{
			Name:   name,
			FQN:    c.FQN,
			Kind:   c.Kind,
			Offset: c.Offset,
			Range:  c.Range,
		})
		x.excluded = append(x.excluded, c.Body)
	}
}

func (x *extractor) members(c *Class) {
	text := x.text
	base := c.Body.Start
	seg := text[c.Body.Start:c.Body.End]
	nested := scan.NestedBlocks(text, c.Body.Start+1, c.Body.End)
	atDepthOne := func(offset int) bool {
		return offset > c.Body.Start && offset < c.Body.End && !scan.InSpans(nested, offset)
	}
	member := func(name string, kind Kind, nameStart int) Symbol {
		return Symbol{
			Name:         name,
			Kind:         kind,
			Container:    c.Name,
			ContainerFQN: c.FQN,
			Offset:       nameStart,
			Range:        x.rangeOf(nameStart, nameStart+len(name)),
		}
	}

	for _, m := range functionRe.FindAllStringSubmatchIndex(seg, -1) {
		kw := base + m[0]
		if !atDepthOne(kw) {
			continue
		}
		nameStart := base + m[2]
		name := seg[m[2]:m[3]]
		declStart, mods := modifiers(text, kw)
		sym := member(name, KindMethod, nameStart)
		sym.Static = hasWord(mods, "static")
		sym.Signature = x.signature(name, base+m[1]-1, declStart, nameStart)
		x.file.Symbols = append(x.file.Symbols, sym)
	}

	for _, m := range propertyRe.FindAllStringSubmatchIndex(seg, -1) {
		if !atDepthOne(base + m[0]) {
			continue
		}
		sym := member(seg[m[6]:m[7]], KindProperty, base+m[6]-1)
		sym.Range = x.rangeOf(base+m[6]-1, base+m[7])
		sym.Static = hasWord(seg[m[2]:m[3]], "static")
		if m[4] >= 0 {
			sym.Type = seg[m[4]:m[5]]
			sym.ResolvedType = x.file.ResolveType(sym.Type, sym.Offset)
		}
		x.file.Symbols = append(x.file.Symbols, sym)
	}

	for _, m := range constRe.FindAllStringSubmatchIndex(seg, -1) {
		if !atDepthOne(base + m[0]) {
			continue
		}
		sym := member(seg[m[2]:m[3]], KindConstant, base+m[2])
		sym.Static = true
		x.file.Symbols = append(x.file.Symbols, sym)
	}

	if c.Kind == KindEnum {
		for _, m := range caseRe.FindAllStringSubmatchIndex(seg, -1) {
			if !atDepthOne(base + m[0]) {
				continue
			}
			sym := member(seg[m[2]:m[3]], KindConstant, base+m[2])
			sym.Static = true
			x.file.Symbols = append(x.file.Symbols, sym)
		}
	}
}

func (x *extractor) freeFunctions() {
	for _, m := range functionRe.FindAllStringSubmatchIndex(x.text, -1) {
		kw := m[0]
		if x.isExcluded(kw) {
			continue
		}
		name := x.text[m[2]:m[3]]
		declStart, _ := modifiers(x.text, kw)
		x.file.Symbols = append(x.file.Symbols, Symbol{
			Name:      name,
			FQN:       qualify(x.file.NamespaceAt(kw), name),
			Kind:      KindFunction,
			Offset:    m[2],
			Range:     x.rangeOf(m[2], m[3]),
			Signature: x.signature(name, m[1]-1, declStart, m[2]),
		})
	}
}

func (x *extractor) globalConstants() {
	for _, m := range constRe.FindAllStringSubmatchIndex(x.text, -1) {
		if x.isExcluded(m[0]) {
			continue
		}
		name := x.text[m[2]:m[3]]
		x.file.Symbols = append(x.file.Symbols, Symbol{
			Name:   name,
			FQN:    qualify(x.file.NamespaceAt(m[0]), name),
			Kind:   KindConstant,
			Offset: m[2],
			Range:  x.rangeOf(m[2], m[3]),
		})
	}
	// define() ignores the current namespace.
	for _, m := range defineRe.FindAllStringSubmatchIndex(x.text, -1) {
		fqn := x.text[m[2]:m[3]]
		x.file.Symbols = append(x.file.Symbols, Symbol{
			Name:   scan.ShortName(fqn),
			FQN:    fqn,
			Kind:   KindConstant,
			Offset: m[2],
			Range:  x.rangeOf(m[2], m[3]),
		})
	}
}

// findBodyOpen returns the '{' opening a declaration body after from, or
// NotFound when a ';' ends the statement first.
func findBodyOpen(text string, from int) int {
	end := from + headerWindow
	if end > len(text) {
		end = len(text)
	}
	for i := from; i < end; i++ {
		switch text[i] {
		case '{':
			return i
		case ';':
			return scan.NotFound
		}
	}
	return scan.NotFound
}

// validHeader accepts the text between a type name and its brace only when
// it is an extends/implements clause or an enum backing type.
func validHeader(header string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return true
	}
	if !headerCharsRe.MatchString(header) {
		return false
	}
	return strings.HasPrefix(header, "extends") || strings.HasPrefix(header, "implements") || header[0] == ':'
}

// precededByAccess reports whether the keyword at offset follows :: or ->,
// as in Foo::class.
func precededByAccess(text string, offset int) bool {
	i := offset - 1
	for i >= 0 && isSpace(text[i]) {
		i--
	}
	if i < 1 {
		return false
	}
	op := text[i-1 : i+1]
	return op == "::" || op == "->"
}

// modifiers walks back from a function keyword over visibility and other
// modifier words and returns where the declaration starts.
func modifiers(text string, kw int) (int, string) {
	start := kw
	for start > 0 {
		j := start - 1
		for j >= 0 && isSpace(text[j]) {
			j--
		}
		k := j
		for k >= 0 && isWordByte(text[k]) {
			k--
		}
		if k == j || !modifierWords[strings.ToLower(text[k+1:j+1])] {
			break
		}
		start = k + 1
	}
	return start, text[start:kw]
}

func splitNames(list string) []string {
	var names []string
	for _, n := range strings.Split(list, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func qualify(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + `\` + name
}

func hasWord(s, word string) bool {
	for _, f := range strings.Fields(s) {
		if strings.EqualFold(f, word) {
			return true
		}
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
