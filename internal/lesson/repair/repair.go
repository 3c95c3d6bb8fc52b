// Package repair recovers one JSON object from unreliable model output.
//
// Repair tries an ordered cascade of stages against the original input. Each
// stage is a pure function producing a candidate text; the first candidate
// that decodes to a JSON object wins. Individual stage failures are never
// surfaced, only exhaustion of the whole cascade is.
package repair

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/kaptinlin/jsonrepair"

	"github.com/yungbote/lessonstream/internal/platform/logger"
)

type StageName string

const (
	StageDirect     StageName = "direct"
	StageFences     StageName = "fences"
	StageSanitize   StageName = "sanitize"
	StageStructural StageName = "structural"
	StageLinewise   StageName = "linewise"
	StageScanner    StageName = "scanner"
	StageExtract    StageName = "extract"
	StageComplete   StageName = "complete"
	StageLibrary    StageName = "library"
)

const excerptRunes = 500

var (
	errNoObject  = errors.New("no object found")
	errNotObject = errors.New("top-level value is not an object")
	errTrailing  = errors.New("trailing data after object")
)

// Result is a successfully repaired object.
type Result struct {
	Stage StageName
	// Text is the candidate that decoded, always valid JSON.
	Text  string
	Value map[string]any
}

type Attempt struct {
	Stage StageName
	Err   error
}

// ParseError reports that every stage failed.
type ParseError struct {
	Excerpt  string
	Attempts []Attempt
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	last := "no stages"
	if n := len(e.Attempts); n > 0 {
		last = fmt.Sprintf("%s: %v", e.Attempts[n-1].Stage, e.Attempts[n-1].Err)
	}
	return fmt.Sprintf("structured output unrecoverable after %d stages (%s)", len(e.Attempts), last)
}

type stage struct {
	name StageName
	fn   func(string) (string, error)
}

type Option func(*Engine)

// WithObserver registers a callback invoked with the winning stage of every
// successful repair.
func WithObserver(fn func(StageName)) Option {
	return func(e *Engine) { e.observe = fn }
}

// WithoutLibrary drops the third-party last-resort stage.
func WithoutLibrary() Option {
	return func(e *Engine) {
		out := e.stages[:0]
		for _, st := range e.stages {
			if st.name != StageLibrary {
				out = append(out, st)
			}
		}
		e.stages = out
	}
}

type Engine struct {
	log     *logger.Logger
	stages  []stage
	observe func(StageName)
}

func New(log *logger.Logger, opts ...Option) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	e := &Engine{
		log: log.With("component", "RepairEngine"),
		stages: []stage{
			{StageDirect, directStage},
			{StageFences, fencesStage},
			{StageSanitize, sanitizeStage},
			{StageStructural, structuralStage},
			{StageLinewise, linewiseStage},
			{StageScanner, scannerStage},
			{StageExtract, extractStage},
			{StageComplete, completeStage},
			{StageLibrary, libraryStage},
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stages lists the cascade in order.
func (e *Engine) Stages() []StageName {
	out := make([]StageName, 0, len(e.stages))
	for _, st := range e.stages {
		out = append(out, st.name)
	}
	return out
}

func (e *Engine) Repair(input string) (*Result, error) {
	attempts := make([]Attempt, 0, len(e.stages))
	for _, st := range e.stages {
		candidate, err := st.fn(input)
		if err == nil {
			var value map[string]any
			if value, err = decodeObject(candidate); err == nil {
				if st.name == StageDirect {
					e.log.Debug("structured output parsed", "stage", st.name, "bytes", len(candidate))
				} else {
					e.log.Info("structured output repaired", "stage", st.name, "attempts", len(attempts)+1, "bytes", len(candidate))
				}
				if e.observe != nil {
					e.observe(st.name)
				}
				return &Result{Stage: st.name, Text: candidate, Value: value}, nil
			}
		}
		attempts = append(attempts, Attempt{Stage: st.name, Err: err})
	}
	perr := &ParseError{Excerpt: Excerpt(input, excerptRunes), Attempts: attempts}
	e.log.Warn("structured output unrecoverable", "stages", len(attempts), "excerpt", perr.Excerpt)
	return nil, perr
}

// decodeObject requires exactly one JSON object with nothing after it.
func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailing
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}

// Excerpt returns at most n runes of s.
func Excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func directStage(in string) (string, error) {
	return window(in)
}

func fencesStage(in string) (string, error) {
	return window(stripFences(in))
}

func sanitizeStage(in string) (string, error) {
	return window(sanitize(stripFences(in)))
}

func structuralStage(in string) (string, error) {
	w, err := window(sanitize(stripFences(in)))
	if err != nil {
		return "", err
	}
	return tidyCommas(quoteBareKeys(convertSingleQuotes(stripComments(w)))), nil
}

func linewiseStage(in string) (string, error) {
	w, err := window(sanitize(stripFences(in)))
	if err != nil {
		return "", err
	}
	t := convertSingleQuotes(stripComments(w))
	return tidyCommas(quoteBareKeys(quoteLineKeys(t))), nil
}

func scannerStage(in string) (string, error) {
	w, err := window(sanitize(stripFences(in)))
	if err != nil {
		return "", err
	}
	return normalize(w), nil
}

func extractStage(in string) (string, error) {
	text := sanitize(stripFences(in))
	if obj, ok := firstBalancedObject(text); ok {
		if json.Valid([]byte(obj)) {
			return obj, nil
		}
		return normalize(obj), nil
	}
	if obj, ok := firstBalancedObject(normalize(text)); ok {
		return obj, nil
	}
	return "", errNoObject
}

func completeStage(in string) (string, error) {
	t, err := fromFirstBrace(sanitize(stripFences(in)))
	if err != nil {
		return "", err
	}
	return completeTruncated(normalize(t))
}

func libraryStage(in string) (string, error) {
	t, err := fromFirstBrace(stripFences(in))
	if err != nil {
		return "", err
	}
	return jsonrepair.JSONRepair(t)
}
