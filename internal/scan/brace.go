// Package scan locates syntactic landmarks in raw PHP source without a parser.
//
// Every helper is best-effort: malformed or half-edited input yields an empty
// result or NotFound, never a panic or an error.
package scan

import "sort"

// NotFound is returned by the matching helpers when no balancing delimiter exists.
const NotFound = -1

// Span is an inclusive byte range, typically a brace-delimited block.
type Span struct {
	Start int
	End   int
}

// Contains reports whether offset lies within the span.
func (s Span) Contains(offset int) bool {
	return offset >= s.Start && offset <= s.End
}

// MatchBrace returns the index of the '}' balancing the '{' at open.
// Strings and comments are not skipped: callers always start from a brace
// known to open a declaration body.
func MatchBrace(text string, open int) int {
	if open < 0 || open >= len(text) || text[open] != '{' {
		return NotFound
	}
	depth := 0
	for i := open; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return NotFound
}

// MatchParen returns the index of the ')' balancing the '(' at open, skipping
// quoted strings. limit bounds the scan length; zero means unbounded.
func MatchParen(text string, open, limit int) int {
	if open < 0 || open >= len(text) || text[open] != '(' {
		return NotFound
	}
	end := len(text)
	if limit > 0 && open+limit < end {
		end = open + limit
	}
	depth := 0
	var quote byte
	for i := open; i < end; i++ {
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
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return NotFound
}

// NestedBlocks returns the outermost brace blocks found in text[start:end].
// A block left open at end is reported as extending to end-1.
func NestedBlocks(text string, start, end int) []Span {
	if end > len(text) {
		end = len(text)
	}
	var spans []Span
	depth := 0
	open := -1
	for i := start; i < end; i++ {
		switch text[i] {
		case '{':
			if depth == 0 {
				open = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				spans = append(spans, Span{Start: open, End: i})
			}
		}
	}
	if depth > 0 && open >= 0 {
		spans = append(spans, Span{Start: open, End: end - 1})
	}
	return spans
}

// InSpans reports whether offset falls inside any of spans, which must be
// sorted by Start and non-overlapping.
func InSpans(spans []Span, offset int) bool {
	i := sort.Search(len(spans), func(i int) bool { return spans[i].End >= offset })
	return i < len(spans) && spans[i].Contains(offset)
}
