package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Raw mirrors the plan as a model emits it. Field types are lenient: numbers
// may arrive as strings, options and items as bare strings, objectives as
// objects, and lists as a single object.
type Raw struct {
	Title       flexString      `json:"title"`
	Description flexString      `json:"description"`
	Domain      flexString      `json:"domain"`
	AgeGroup    flexString      `json:"ageGroup"`
	Duration    flexInt         `json:"duration"`
	Objectives  flexStrings     `json:"objectives"`
	Style       flexString      `json:"style"`
	ColorScheme flexString      `json:"colorScheme"`
	Images      json.RawMessage `json:"images"`
	Activities  json.RawMessage `json:"activities"`
}

type rawImage struct {
	ID          flexString `json:"id"`
	Description flexString `json:"description"`
	Prompt      flexString `json:"prompt"`
}

type rawActivity struct {
	ID           flexString      `json:"id"`
	Type         flexString      `json:"type"`
	Title        flexString      `json:"title"`
	Instruction  flexString      `json:"instruction"`
	Question     flexString      `json:"question"`
	Options      json.RawMessage `json:"options"`
	Items        json.RawMessage `json:"items"`
	CorrectOrder flexStrings     `json:"correctOrder"`
	Answer       flexStrings     `json:"answer"`
	Answers      flexStrings     `json:"answers"`
	ImageSrc     flexString      `json:"imageSrc"`
	GridSize     flexInt         `json:"gridSize"`
	TimeLimit    flexInt         `json:"timeLimit"`
	Points       flexInt         `json:"points"`
}

type rawOption struct {
	ID        flexString `json:"id"`
	Text      flexString `json:"text"`
	Content   flexString `json:"content"`
	Label     flexString `json:"label"`
	IsCorrect flexBool   `json:"isCorrect"`
	Correct   flexBool   `json:"correct"`
}

func (o *rawOption) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] != '{' {
		var s flexString
		if err := s.UnmarshalJSON(b); err != nil {
			return err
		}
		*o = rawOption{Text: s}
		return nil
	}
	type alias rawOption
	return json.Unmarshal(b, (*alias)(o))
}

func (o rawOption) text() string {
	for _, s := range []flexString{o.Text, o.Content, o.Label} {
		if t := strings.TrimSpace(string(s)); t != "" {
			return t
		}
	}
	return ""
}

// Decode parses a repaired plan object.
func Decode(data []byte) (*Raw, error) {
	var r Raw
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &r, nil
}

// decodeList accepts an array or a single object. Elements that fail to
// decode are dropped. A nil result means the field was absent or unusable.
func decodeList[T any](raw json.RawMessage) []T {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	switch raw[0] {
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil
		}
		out := make([]T, 0, len(elems))
		for _, e := range elems {
			var v T
			if err := json.Unmarshal(e, &v); err == nil {
				out = append(out, v)
			}
		}
		return out
	case '{':
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil
		}
		return []T{v}
	default:
		return nil
	}
}

type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	if b[0] == '{' || b[0] == '[' {
		*s = ""
		return nil
	}
	// numbers and booleans keep their literal text
	*s = flexString(b)
	return nil
}

type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	*n = flexInt(parseLeadingInt(string(s)))
	return nil
}

// parseLeadingInt reads the number at the start of s, so "15 minutes" is 15.
// Fractions are truncated and magnitudes saturate at 32 bits. Unparseable
// input is zero.
func parseLeadingInt(s string) int {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		switch {
		case math.IsNaN(f):
			return 0
		case f > math.MaxInt32:
			return math.MaxInt32
		case f < math.MinInt32:
			return math.MinInt32
		}
		return int(f)
	}
	end := 0
	for end < len(s) && (unicode.IsDigit(rune(s[end])) || (end == 0 && s[end] == '-')) {
		end++
	}
	v, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return v
}

type flexBool bool

func (v *flexBool) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(string(s))) {
	case "true", "1", "yes", "y":
		*v = true
	default:
		*v = false
	}
	return nil
}

// flexStrings accepts an array of strings or of objects carrying text, or a
// single string.
type flexStrings []string

func (l *flexStrings) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*l = nil
		return nil
	}
	if b[0] != '[' {
		var s flexString
		if err := s.UnmarshalJSON(b); err != nil {
			return err
		}
		if strings.TrimSpace(string(s)) == "" {
			*l = nil
		} else {
			*l = flexStrings{string(s)}
		}
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(b, &elems); err != nil {
		return err
	}
	out := make(flexStrings, 0, len(elems))
	for _, e := range elems {
		e = bytes.TrimSpace(e)
		if len(e) > 0 && e[0] == '{' {
			var obj struct {
				Text        flexString `json:"text"`
				Title       flexString `json:"title"`
				Content     flexString `json:"content"`
				Description flexString `json:"description"`
			}
			if err := json.Unmarshal(e, &obj); err != nil {
				continue
			}
			for _, c := range []flexString{obj.Text, obj.Title, obj.Content, obj.Description} {
				if strings.TrimSpace(string(c)) != "" {
					out = append(out, string(c))
					break
				}
			}
			continue
		}
		var s flexString
		if err := s.UnmarshalJSON(e); err == nil {
			out = append(out, string(s))
		}
	}
	*l = out
	return nil
}
