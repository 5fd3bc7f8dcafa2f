package scan

import "sort"

// LineIndex converts between byte offsets and zero-based line/column
// positions. Columns are byte columns.
type LineIndex struct {
	starts []int
	size   int
}

// NewLineIndex records the start offset of every line in text.
func NewLineIndex(text string) *LineIndex {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{starts: starts, size: len(text)}
}

// Position returns the line and column of offset, clamped to the text.
func (l *LineIndex) Position(offset int) (line, col int) {
	if offset < 0 {
		offset = 0
	}
	if offset > l.size {
		offset = l.size
	}
	line = sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > offset }) - 1
	return line, offset - l.starts[line]
}

// Offset returns the byte offset of line/col, clamped to the text.
func (l *LineIndex) Offset(line, col int) int {
	if line < 0 {
		return 0
	}
	if line >= len(l.starts) {
		return l.size
	}
	off := l.starts[line] + col
	if col < 0 {
		off = l.starts[line]
	}
	end := l.size
	if line+1 < len(l.starts) {
		end = l.starts[line+1] - 1
	}
	if off > end {
		off = end
	}
	return off
}
