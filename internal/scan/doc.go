package scan

import (
	"regexp"
	"strings"
)

var (
	paramTagRe  = regexp.MustCompile(`@param\s+([^\s$]+)\s+(?:\.\.\.)?&?\$([A-Za-z_]\w*)`)
	returnTagRe = regexp.MustCompile(`@return\s+([^\s*]+)`)
)

// DocComment holds the annotations pulled from a /** ... */ block.
type DocComment struct {
	Summary string
	Params  map[string]string // parameter name without '$' -> type
	Return  string
}

// ParseDocComment returns the doc comment directly preceding declStart.
// Only whitespace and whole-line #[...] attributes may separate the closing
// */ from the declaration.
func ParseDocComment(text string, declStart int) (DocComment, bool) {
	if declStart > len(text) {
		declStart = len(text)
	}
	i := skipAttributesBack(text, declStart) - 1
	if i < 1 || text[i] != '/' || text[i-1] != '*' {
		return DocComment{}, false
	}
	end := i + 1
	start := strings.LastIndex(text[:i-1], "/**")
	if start < 0 || strings.Contains(text[start+3:i-1], "*/") {
		return DocComment{}, false
	}
	return parseDocBody(text[start:end]), true
}

// skipAttributesBack moves end back over whitespace and any lines that hold
// only attributes, and returns the new end.
func skipAttributesBack(text string, end int) int {
	for {
		for end > 0 && isSpace(text[end-1]) {
			end--
		}
		lineStart := strings.LastIndexByte(text[:end], '\n') + 1
		line := strings.TrimSpace(text[lineStart:end])
		if !strings.HasPrefix(line, "#[") || !strings.HasSuffix(line, "]") {
			return end
		}
		end = lineStart
	}
}

func parseDocBody(raw string) DocComment {
	doc := DocComment{Params: make(map[string]string)}
	for _, m := range paramTagRe.FindAllStringSubmatch(raw, -1) {
		if _, seen := doc.Params[m[2]]; !seen {
			doc.Params[m[2]] = m[1]
		}
	}
	if m := returnTagRe.FindStringSubmatch(raw); m != nil {
		doc.Return = m[1]
	}

	body := strings.TrimSuffix(strings.TrimPrefix(raw, "/**"), "*/")
	var summary []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "*"))
		if strings.HasPrefix(line, "@") {
			break
		}
		if line != "" {
			summary = append(summary, line)
		}
	}
	doc.Summary = strings.Join(summary, " ")
	return doc
}

// VarAnnotation finds the nearest `@var Type $name` (or `/** @var Type */`
// immediately before `$name`) in window and returns Type.
func VarAnnotation(window, variable string) (string, bool) {
	name := regexp.QuoteMeta(strings.TrimPrefix(variable, "$"))
	named := regexp.MustCompile(`@var\s+([^\s*$]+)\s+\$` + name + `\b`)
	inline := regexp.MustCompile(`@var\s+([^\s*$]+)\s*\*/\s*\$` + name + `\b`)

	best, bestAt := "", -1
	for _, re := range []*regexp.Regexp{named, inline} {
		for _, m := range re.FindAllStringSubmatchIndex(window, -1) {
			if m[0] > bestAt {
				best, bestAt = window[m[2]:m[3]], m[0]
			}
		}
	}
	return best, bestAt >= 0
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
