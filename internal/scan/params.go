package scan

import "strings"

// SplitParams splits a parameter or argument list on top-level commas.
// Nested (), [] and {} as well as quoted strings are kept intact, so default
// values such as `array(1, 2)` or `['a', 'b']` survive as one element.
// Empty elements are dropped.
func SplitParams(text string) []string {
	var parts []string
	depth := 0
	var quote byte
	last := 0
	for i := 0; i < len(text); i++ {
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
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = appendTrimmed(parts, text[last:i])
				last = i + 1
			}
		}
	}
	return appendTrimmed(parts, text[last:])
}

func appendTrimmed(parts []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return parts
	}
	return append(parts, s)
}
