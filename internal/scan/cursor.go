package scan

// cursorWindow bounds how far back ClassifyCursor scans.
const cursorWindow = 8000

// CursorContext describes the lexical state at a cursor position.
type CursorContext struct {
	InComment            bool
	InString             bool
	InInterpolatedString bool
}

// SuppressCompletion reports whether member completion should be offered at
// all: never inside comments or non-interpolated strings.
func (c CursorContext) SuppressCompletion() bool {
	return c.InComment || (c.InString && !c.InInterpolatedString)
}

const (
	stateCode = iota
	stateSingle
	stateDouble
	stateLineComment
	stateBlockComment
)

// ClassifyCursor scans the trailing window before position and reports
// whether the cursor sits in a comment or a string. Double-quoted and
// backtick strings count as interpolated.
func ClassifyCursor(text string, position int) CursorContext {
	if position > len(text) {
		position = len(text)
	}
	if position < 0 {
		position = 0
	}
	start := position - cursorWindow
	if start < 0 {
		start = 0
	}

	state := stateCode
	var closing byte
	for i := start; i < position; i++ {
		c := text[i]
		switch state {
		case stateCode:
			switch {
			case c == '\'':
				state = stateSingle
			case c == '"' || c == '`':
				state = stateDouble
				closing = c
			case c == '#':
				// #[ opens an attribute, not a comment.
				if i+1 >= len(text) || text[i+1] != '[' {
					state = stateLineComment
				}
			case c == '/' && i+1 < position && text[i+1] == '/':
				state = stateLineComment
				i++
			case c == '/' && i+1 < position && text[i+1] == '*':
				state = stateBlockComment
				i++
			}
		case stateSingle:
			if c == '\\' {
				i++
			} else if c == '\'' {
				state = stateCode
			}
		case stateDouble:
			if c == '\\' {
				i++
			} else if c == closing {
				state = stateCode
			}
		case stateLineComment:
			if c == '\n' {
				state = stateCode
			}
		case stateBlockComment:
			if c == '*' && i+1 < position && text[i+1] == '/' {
				state = stateCode
				i++
			}
		}
	}

	switch state {
	case stateSingle:
		return CursorContext{InString: true}
	case stateDouble:
		return CursorContext{InString: true, InInterpolatedString: true}
	case stateLineComment, stateBlockComment:
		return CursorContext{InComment: true}
	}
	return CursorContext{}
}
