package resolve

import (
	"strings"

	"phpscope/internal/extract"
	"phpscope/internal/scan"
	"phpscope/internal/search/symbols"
)

// Document is one file's text with its extraction result, prepared once and
// shared by every query against that text.
type Document struct {
	ID   string
	Text string
	File *extract.File

	lines *scan.LineIndex
}

// NewDocument parses text.
func NewDocument(id, text string) *Document {
	return &Document{
		ID:    id,
		Text:  text,
		File:  extract.Extract(text),
		lines: scan.NewLineIndex(text),
	}
}

// Offset converts a position to a byte offset.
func (d *Document) Offset(pos extract.Position) int {
	return d.lines.Offset(pos.Line, pos.Column)
}

// Position converts a byte offset to a position.
func (d *Document) Position(offset int) extract.Position {
	line, col := d.lines.Position(offset)
	return extract.Position{Line: line, Column: col}
}

// Range converts a span to a range.
func (d *Document) Range(s scan.Span) extract.Range {
	return extract.Range{Start: d.Position(s.Start), End: d.Position(s.End)}
}

func (d *Document) location(sym extract.Symbol) symbols.Location {
	return symbols.Location{File: d.ID, Range: sym.Range}
}

// enclosingClass returns the class whose body contains offset.
func (d *Document) enclosingClass(offset int) *extract.Class {
	return d.File.ClassAt(offset)
}

// enclosingCallable returns the innermost named function or method whose
// body contains offset.
func (d *Document) enclosingCallable(offset int) *extract.Symbol {
	var best *extract.Symbol
	for i := range d.File.Symbols {
		sym := &d.File.Symbols[i]
		if sym.Signature == nil || sym.Offset >= offset {
			continue
		}
		body, ok := d.callableBody(sym.Offset)
		if ok && body.Contains(offset) && (best == nil || sym.Offset > best.Offset) {
			best = sym
		}
	}
	return best
}

func (d *Document) callableBody(nameOffset int) (scan.Span, bool) {
	open := strings.IndexByte(d.Text[nameOffset:], '(')
	if open < 0 {
		return scan.Span{}, false
	}
	close := scan.MatchParen(d.Text, nameOffset+open, signatureWindow)
	if close == scan.NotFound {
		return scan.Span{}, false
	}
	rest := d.Text[close:]
	brace := strings.IndexAny(rest, "{;")
	if brace < 0 || rest[brace] == ';' {
		return scan.Span{}, false
	}
	end := scan.MatchBrace(d.Text, close+brace)
	if end == scan.NotFound {
		return scan.Span{}, false
	}
	return scan.Span{Start: close + brace, End: end}, true
}

// localSymbols returns the declarations in this file matching pred.
func (d *Document) localSymbols(pred func(extract.Symbol) bool) []symbols.Location {
	var out []symbols.Location
	for _, sym := range d.File.Symbols {
		if pred(sym) {
			out = append(out, d.location(sym))
		}
	}
	return out
}
