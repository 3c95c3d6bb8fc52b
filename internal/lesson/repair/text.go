package repair

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	fenceRe    = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\r?\n?(.*?)(?:```|$)")
	bareKeyRe  = regexp.MustCompile(`([{,]\s*)([A-Za-z_$\p{Han}][A-Za-z0-9_$\-\p{Han}]*)(\s*:)`)
	lineKeyRe  = regexp.MustCompile(`^(\s*)([A-Za-z_$\p{Han}][A-Za-z0-9_$\-\p{Han}]*)(\s*:)`)
	loneKeyRe  = regexp.MustCompile(`^(\s*)([A-Za-z_$\p{Han}][A-Za-z0-9_$\-\p{Han}]*)\s*$`)
	trailingRe = regexp.MustCompile(`,(\s*[}\]])`)
	doubleRe   = regexp.MustCompile(`,(\s*,)+`)
	leadingRe  = regexp.MustCompile(`([\[{]\s*),`)

	quotedKeyRe = regexp.MustCompile(`^\s*"(?:[^"\\]|\\.)*"\s*:`)
)

// window is the naive first-"{" to last-"}" slice.
func window(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", errNoObject
	}
	return s[start : end+1], nil
}

func fromFirstBrace(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errNoObject
	}
	return s[start:], nil
}

// stripFences unwraps the first fenced block that holds an object. Unterminated
// fences run to the end of the input.
func stripFences(s string) string {
	if !strings.Contains(s, "```") {
		return strings.TrimSpace(s)
	}
	for _, m := range fenceRe.FindAllStringSubmatch(s, -1) {
		if strings.Contains(m[1], "{") {
			return strings.TrimSpace(m[1])
		}
	}
	return strings.TrimSpace(strings.ReplaceAll(s, "```", ""))
}

// sanitize drops the BOM and control characters outside strings, and escapes
// raw control characters found inside double-quoted strings.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	inString, escaped := false, false
	for _, r := range s {
		if r == '\uFEFF' {
			continue
		}
		if inString {
			switch {
			case escaped:
				escaped = false
				if r < 0x20 {
					// backslash already written
					b.WriteString(escapeControl(r)[1:])
					continue
				}
				b.WriteRune(r)
			case r == '\\':
				escaped = true
				b.WriteRune(r)
			case r == '"':
				inString = false
				b.WriteRune(r)
			case r < 0x20:
				b.WriteString(escapeControl(r))
			default:
				b.WriteRune(r)
			}
			continue
		}
		switch {
		case r == '"':
			inString = true
			b.WriteRune(r)
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func escapeControl(r rune) string {
	switch r {
	case '\n':
		return `\n`
	case '\r':
		return `\r`
	case '\t':
		return `\t`
	case '\b':
		return `\b`
	case '\f':
		return `\f`
	default:
		return fmt.Sprintf(`\u%04x`, r)
	}
}

// stripComments removes // and /* */ comments outside single- and double-quoted strings.
func stripComments(s string) string {
	if !strings.Contains(s, "/") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	var quote byte
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		if c == '"' || c == '\'' {
			quote = c
			b.WriteByte(c)
			continue
		}
		if c == '/' && i+1 < len(s) {
			switch s[i+1] {
			case '/':
				j := strings.IndexByte(s[i:], '\n')
				if j < 0 {
					return b.String()
				}
				i += j - 1
				continue
			case '*':
				j := strings.Index(s[i+2:], "*/")
				if j < 0 {
					return b.String()
				}
				i += j + 3
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// convertSingleQuotes rewrites single-quoted strings as double-quoted ones.
// Double-quoted strings are copied verbatim. Inside a single-quoted string a
// quote only closes the string when the next significant character could
// follow a value, so apostrophes survive.
func convertSingleQuotes(s string) string {
	if !strings.Contains(s, "'") {
		return s
	}
	const (
		normal = iota
		inDouble
		inSingle
	)
	var b strings.Builder
	b.Grow(len(s) + 8)
	state, escaped := normal, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch state {
		case inDouble:
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				state = normal
			}
		case inSingle:
			if escaped {
				escaped = false
				if c != '\'' {
					b.WriteByte('\\')
				}
				b.WriteByte(c)
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case '"':
				b.WriteString(`\"`)
			case '\'':
				if closesValue(s, i+1) {
					b.WriteByte('"')
					state = normal
				} else {
					b.WriteByte('\'')
				}
			default:
				b.WriteByte(c)
			}
		default:
			switch c {
			case '"':
				state = inDouble
			case '\'':
				state = inSingle
				c = '"'
			}
			b.WriteByte(c)
		}
	}
	if state == inSingle && escaped {
		b.WriteByte('\\')
	}
	return b.String()
}

func closesValue(s string, from int) bool {
	for j := from; j < len(s); j++ {
		switch s[j] {
		case ' ', '\t', '\r', '\n':
			continue
		case ',', '}', ']', ':':
			return true
		default:
			return false
		}
	}
	return true
}

// mapOutsideStrings applies fn to every region of s that is not a double-quoted string.
func mapOutsideStrings(s string, fn func(string) string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	start := 0
	for i := 0; i < len(s); {
		if s[i] != '"' {
			i++
			continue
		}
		b.WriteString(fn(s[start:i]))
		j := endOfString(s, i)
		b.WriteString(s[i:j])
		start, i = j, j
	}
	b.WriteString(fn(s[start:]))
	return b.String()
}

// endOfString returns the index just past the string literal starting at s[i].
func endOfString(s string, i int) int {
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '"':
			return j + 1
		}
	}
	return len(s)
}

func quoteBareKeys(s string) string {
	return mapOutsideStrings(s, func(seg string) string {
		return bareKeyRe.ReplaceAllString(seg, `$1"$2"$3`)
	})
}

func tidyCommas(s string) string {
	return mapOutsideStrings(s, func(seg string) string {
		seg = doubleRe.ReplaceAllString(seg, ",")
		seg = leadingRe.ReplaceAllString(seg, "$1")
		return trailingRe.ReplaceAllString(seg, "$1")
	})
}

// quoteLineKeys quotes property names that start a line, including a name
// left alone on its line with the colon on the next one. A line ending in a
// value followed by a line starting with a key gets the missing comma.
func quoteLineKeys(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if lineKeyRe.MatchString(line) {
			lines[i] = lineKeyRe.ReplaceAllString(line, `$1"$2"$3`)
			continue
		}
		if m := loneKeyRe.FindStringSubmatch(line); m != nil && i+1 < len(lines) &&
			strings.HasPrefix(strings.TrimSpace(lines[i+1]), ":") {
			lines[i] = m[1] + `"` + m[2] + `"`
		}
	}
	for i := range lines {
		j := i + 1
		for j < len(lines) && strings.TrimSpace(lines[j]) == "" {
			j++
		}
		if j < len(lines) && endsWithValue(lines[i]) && quotedKeyRe.MatchString(lines[j]) {
			lines[i] = strings.TrimRight(lines[i], " \t\r") + ","
		}
	}
	return strings.Join(lines, "\n")
}

func endsWithValue(line string) bool {
	t := strings.TrimRight(line, " \t\r")
	if t == "" {
		return false
	}
	switch c := t[len(t)-1]; {
	case c == '"' || c == '}' || c == ']' || (c >= '0' && c <= '9'):
		return true
	}
	return strings.HasSuffix(t, "true") || strings.HasSuffix(t, "false") || strings.HasSuffix(t, "null")
}

// quoteKeysByScan walks s once, tracking string state. After "{" or "," it
// consumes an identifier-like run and quotes it only when ":" follows.
func quoteKeysByScan(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 16)
	inString, escaped, expectKey := false, false, false
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if inString {
			b.WriteRune(r)
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch {
		case r == '"':
			inString, expectKey = true, false
			b.WriteRune(r)
		case r == '{' || r == ',':
			expectKey = true
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(r)
		case expectKey && isIdentRune(r):
			j := i
			for j < len(rs) && isIdentRune(rs[j]) {
				j++
			}
			k := j
			for k < len(rs) && unicode.IsSpace(rs[k]) {
				k++
			}
			ident := string(rs[i:j])
			if k < len(rs) && rs[k] == ':' {
				b.WriteByte('"')
				b.WriteString(ident)
				b.WriteByte('"')
			} else {
				b.WriteString(ident)
			}
			i = j - 1
			expectKey = false
		default:
			expectKey = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '$' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// normalize is the full non-truncation repair used by the scanner stage and
// as input to extraction and completion.
func normalize(s string) string {
	return tidyCommas(quoteKeysByScan(convertSingleQuotes(stripComments(s))))
}
