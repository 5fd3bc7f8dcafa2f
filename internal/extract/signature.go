package extract

import (
	"regexp"
	"strings"

	"phpscope/internal/scan"
)

const (
	// signatureWindow bounds the forward scan for a parameter list's ')'.
	signatureWindow = 4000
	returnWindow    = 300
)

var (
	paramRe  = regexp.MustCompile(`(?s)^(?:#\[.*?\]\s*)*(?:(?:public|private|protected|readonly)\s+)*(?:([^$&.]*?)\s*)?(&)?\s*(\.\.\.)?\s*\$([A-Za-z_]\w*)\s*(?:=\s*(.*))?$`)
	returnRe = regexp.MustCompile(`^\s*:\s*([?\w\\|&()]+)`)
)

// signature derives the display signature of the callable whose parameter
// list opens at paren. Declared hints win over @param/@return annotations.
func (x *extractor) signature(name string, paren, declStart, offset int) *Signature {
	end := scan.MatchParen(x.text, paren, signatureWindow)
	if end == scan.NotFound {
		return nil
	}
	doc, _ := scan.ParseDocComment(x.text, declStart)

	sig := &Signature{Name: name, Doc: doc.Summary}
	for _, raw := range scan.SplitParams(x.text[paren+1 : end]) {
		p, ok := ParseParam(raw)
		if !ok {
			continue
		}
		if p.Type == "" {
			p.Type = doc.Params[p.Name]
		}
		sig.Params = append(sig.Params, p)
	}

	tailEnd := end + 1 + returnWindow
	if tailEnd > len(x.text) {
		tailEnd = len(x.text)
	}
	if m := returnRe.FindStringSubmatch(x.text[end+1 : tailEnd]); m != nil {
		sig.ReturnType = m[1]
	}
	if sig.ReturnType == "" {
		sig.ReturnType = doc.Return
	}
	sig.Label = FormatLabel(name, sig.Params, sig.ReturnType)
	sig.ResolvedReturn = x.file.ResolveType(sig.ReturnType, offset)
	return sig
}

// ParseParam parses one parameter declaration such as
// `private ?Foo &...$bar = null`.
func ParseParam(raw string) (Param, bool) {
	m := paramRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Param{}, false
	}
	return Param{
		Name:     m[4],
		Type:     strings.TrimSpace(m[1]),
		ByRef:    m[2] != "",
		Variadic: m[3] != "",
		Default:  strings.TrimSpace(m[5]),
	}, true
}

// ResolveType normalises a declared type written at offset to the single
// class or scalar name used for inference: nullability and null/false union
// members are dropped, self/static/$this become the enclosing class, array
// shorthand becomes "array", and class names are qualified.
func (f *File) ResolveType(t string, offset int) string {
	parts := strings.FieldsFunc(strings.TrimSpace(t), func(r rune) bool {
		return r == '|' || r == '&' || r == '(' || r == ')'
	})
	for _, part := range parts {
		part = strings.TrimSpace(strings.TrimPrefix(part, "?"))
		switch strings.ToLower(part) {
		case "", "null", "false":
			continue
		case "self", "static", "$this":
			if c := f.ClassAt(offset); c != nil {
				return c.FQN
			}
			return strings.ToLower(part)
		case "parent":
			if c := f.ClassAt(offset); c != nil && c.Extends != "" {
				return c.Extends
			}
			return "parent"
		}
		if strings.HasSuffix(part, "[]") {
			return "array"
		}
		return f.Resolve(part, offset)
	}
	return ""
}
