package repair

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// firstBalancedObject returns the first brace-balanced object in s. Braces
// inside string literals do not count.
func firstBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

type containerState int

const (
	objKey containerState = iota
	objColon
	objValue
	objNext
	arrValue
	arrNext
)

type frame struct {
	open    byte
	state   containerState
	members int
}

var errMismatched = errors.New("mismatched closer")

// completeTruncated closes a truncated object. It keeps everything up to the
// last point where the text is a valid JSON prefix whose only defect is
// missing closers, then appends those closers in stack order. A value string
// cut mid-way is closed rather than dropped.
func completeTruncated(s string) (string, error) {
	s, err := fromFirstBrace(s)
	if err != nil {
		return "", err
	}

	var stack []frame
	safe, safeClosers := 0, ""
	markSafe := func(pos int) {
		safe, safeClosers = pos, closersFor(stack)
	}
	valueDone := func() {
		top := &stack[len(stack)-1]
		top.members++
		if top.state == objValue {
			top.state = objNext
		} else {
			top.state = arrNext
		}
	}
	expectValue := func() bool {
		if len(stack) == 0 {
			return false
		}
		st := stack[len(stack)-1].state
		return st == objValue || st == arrValue
	}

	i := 0
scan:
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++

		case c == '"':
			end, closed := scanString(s, i)
			if !closed {
				if !expectValue() {
					break scan
				}
				body := trimPartialEscape(s[i+1:])
				out := s[:i+1] + body + `"`
				valueDone()
				return out + closersFor(stack), nil
			}
			top := &stack[len(stack)-1]
			switch top.state {
			case objKey:
				top.state = objColon
			case objValue, arrValue:
				valueDone()
				markSafe(end)
			default:
				return "", fmt.Errorf("unexpected string at %d", i)
			}
			i = end

		case c == '{' || c == '[':
			if len(stack) > 0 && !expectValue() {
				return "", fmt.Errorf("unexpected %q at %d", c, i)
			}
			st := objKey
			if c == '[' {
				st = arrValue
			}
			stack = append(stack, frame{open: c, state: st})
			markSafe(i + 1)
			i++

		case c == '}' || c == ']':
			if len(stack) == 0 {
				return "", errMismatched
			}
			top := stack[len(stack)-1]
			switch {
			case c == '}' && top.open == '{' && (top.state == objNext || (top.state == objKey && top.members == 0)):
			case c == ']' && top.open == '[' && (top.state == arrNext || (top.state == arrValue && top.members == 0)):
			default:
				return "", errMismatched
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				markSafe(i + 1)
				break scan
			}
			valueDone()
			markSafe(i + 1)
			i++

		case c == ':':
			top := &stack[len(stack)-1]
			if top.state != objColon {
				return "", fmt.Errorf("unexpected ':' at %d", i)
			}
			top.state = objValue
			i++

		case c == ',':
			top := &stack[len(stack)-1]
			switch top.state {
			case objNext:
				top.state = objKey
			case arrNext:
				top.state = arrValue
			default:
				return "", fmt.Errorf("unexpected ',' at %d", i)
			}
			i++

		default:
			j := i
			for j < len(s) && !strings.ContainsRune(",:{}[] \t\r\n\"", rune(s[j])) {
				j++
			}
			tok := s[i:j]
			if len(stack) > 0 && stack[len(stack)-1].state == objKey && strings.TrimSpace(s[j:]) == "" {
				// a bare property name cut off before its colon
				break scan
			}
			if !expectValue() {
				return "", fmt.Errorf("unexpected token %q at %d", tok, i)
			}
			if !json.Valid([]byte(tok)) {
				if j == len(s) {
					break scan
				}
				return "", fmt.Errorf("invalid literal %q at %d", tok, i)
			}
			valueDone()
			markSafe(j)
			i = j
		}
	}
	if safe == 0 {
		return "", errNoObject
	}
	return s[:safe] + safeClosers, nil
}

func closersFor(stack []frame) string {
	var b strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].open == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// scanString returns the index just past the closing quote of the string at
// s[i] and whether it was closed.
func scanString(s string, i int) (int, bool) {
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '"':
			return j + 1, true
		}
	}
	return len(s), false
}

// trimPartialEscape drops an escape sequence cut off at the end of a string body.
func trimPartialEscape(body string) string {
	n := 0
	for n < len(body) && body[len(body)-1-n] == '\\' {
		n++
	}
	if n%2 == 1 {
		return body[:len(body)-1]
	}
	idx := strings.LastIndex(body, `\u`)
	if idx < 0 || len(body)-idx >= 6 {
		return body
	}
	run := 0
	for k := idx - 1; k >= 0 && body[k] == '\\'; k-- {
		run++
	}
	if run%2 == 1 {
		return body
	}
	return body[:idx]
}
