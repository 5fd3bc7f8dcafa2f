package resolve

import (
	"strings"

	"phpscope/internal/scan"
)

// Reference is the syntactic shape of the token under a cursor. It is one of
// Plain, StaticAccess or InstanceAccess.
type Reference interface {
	// Span is the byte range of the referenced name.
	Span() scan.Span
	isReference()
}

// Plain is a bare identifier: a class, function or constant name.
type Plain struct {
	Name string
	Call bool
	At   scan.Span
}

// StaticAccess is Class::member. Member keeps a leading '$' for static
// properties.
type StaticAccess struct {
	Class  string
	Member string
	Call   bool
	At     scan.Span
}

// InstanceAccess is receiver->member where receiver is $this, a variable or
// a chain of calls and property reads.
type InstanceAccess struct {
	Receiver string
	Member   string
	Call     bool
	At       scan.Span
}

func (p Plain) Span() scan.Span          { return p.At }
func (s StaticAccess) Span() scan.Span   { return s.At }
func (i InstanceAccess) Span() scan.Span { return i.At }

func (Plain) isReference()          {}
func (StaticAccess) isReference()   {}
func (InstanceAccess) isReference() {}

// Classify returns the reference under offset, or false when the cursor is
// not on a name (whitespace, a variable, a literal).
func Classify(text string, offset int) (Reference, bool) {
	start, end, ok := tokenAt(text, offset)
	if !ok {
		return nil, false
	}
	return referenceAt(text, start, end)
}

func referenceAt(text string, start, end int) (Reference, bool) {
	name := text[start:end]
	at := scan.Span{Start: start, End: end}
	call := nextNonSpace(text, end) == '('

	k := skipSpaceBack(text, start)
	switch {
	case k >= 2 && text[k-2:k] == "->":
		if strings.HasPrefix(name, "$") {
			return nil, false
		}
		opStart := k - 2
		if opStart > 0 && text[opStart-1] == '?' {
			opStart--
		}
		recv := receiverBefore(text, opStart)
		if recv == "" {
			return nil, false
		}
		return InstanceAccess{Receiver: recv, Member: name, Call: call, At: at}, true
	case k >= 2 && text[k-2:k] == "::":
		recv := receiverBefore(text, k-2)
		if recv == "" {
			return nil, false
		}
		return StaticAccess{Class: recv, Member: name, Call: call, At: at}, true
	}
	if strings.HasPrefix(name, "$") {
		return nil, false
	}
	return Plain{Name: name, Call: call, At: at}, true
}

// tokenAt finds the name token touching offset. A cursor just past the last
// character still counts.
func tokenAt(text string, offset int) (int, int, bool) {
	if offset < 0 || offset > len(text) {
		return 0, 0, false
	}
	if offset == len(text) || !isNameByte(text[offset]) {
		if offset == 0 || !isNameByte(text[offset-1]) {
			return 0, 0, false
		}
		offset--
	}
	start, end := offset, offset
	for start > 0 && isNameByte(text[start-1]) {
		start--
	}
	for end < len(text) && isNameByte(text[end]) {
		end++
	}
	if start > 0 && text[start-1] == '$' {
		start--
	}
	body := strings.TrimLeft(text[start:end], `$\`)
	if body == "" || !isIdentStart(body[0]) {
		return 0, 0, false
	}
	return start, end, true
}

// receiverBefore returns the receiver expression ending at end: a name, a
// variable, a parenthesised expression, or a chain of those joined by ->,
// ?-> and ::, each link optionally followed by call arguments.
func receiverBefore(text string, end int) string {
	i := skipSpaceBack(text, end)
	for {
		grouped := false
		if i > 0 && text[i-1] == ')' {
			open := matchParenBack(text, i-1)
			if open == scan.NotFound {
				return ""
			}
			i = open
			grouped = true
		}
		j := i
		for j > 0 && isNameByte(text[j-1]) {
			j--
		}
		if j > 0 && text[j-1] == '$' {
			j--
		}
		if j == i && !grouped {
			return ""
		}
		if j == i {
			// (new Foo)->bar
			break
		}
		i = j
		k := skipSpaceBack(text, i)
		if k >= 2 && scan.ClassifyCursor(text, k-2).InComment {
			// an operator ending a comment does not link to the next line
			break
		}
		if k >= 2 && text[k-2:k] == "->" {
			i = k - 2
			if i > 0 && text[i-1] == '?' {
				i--
			}
			continue
		}
		if k >= 2 && text[k-2:k] == "::" {
			i = k - 2
			continue
		}
		if w := wordBefore(text, i); w == "new" {
			i = skipSpaceBack(text, i) - len(w)
		}
		break
	}
	return strings.TrimSpace(text[i:end])
}

// matchParenBack finds the '(' balancing the ')' at close.
func matchParenBack(text string, close int) int {
	depth := 0
	for i := close; i >= 0; i-- {
		switch text[i] {
		case ')':
			depth++
		case '(':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return scan.NotFound
}

func wordBefore(text string, end int) string {
	k := skipSpaceBack(text, end)
	j := k
	for j > 0 && isWordByte(text[j-1]) {
		j--
	}
	return text[j:k]
}

func skipSpaceBack(text string, i int) int {
	for i > 0 && isSpace(text[i-1]) {
		i--
	}
	return i
}

func nextNonSpace(text string, i int) byte {
	for i < len(text) && isSpace(text[i]) {
		i++
	}
	if i < len(text) {
		return text[i]
	}
	return 0
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

func isNameByte(c byte) bool {
	return isWordByte(c) || c == '\\'
}

func isIdentStart(c byte) bool {
	return isWordByte(c) && (c < '0' || c > '9')
}
