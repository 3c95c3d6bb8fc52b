package plan

import (
	"fmt"
	"strings"
)

const (
	DefaultDuration    = 15
	MaxDuration        = 120
	DefaultPoints      = 10
	DefaultGridSize    = 3
	DefaultStyle       = "cartoon"
	DefaultColorScheme = "bright"
)

var DefaultObjectives = []string{"Learn new knowledge", "Cultivate interest"}

// Defaults carries request-level values used when the plan omits them.
type Defaults struct {
	Domain   string
	AgeGroup string
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "plan validation failed"
	}
	return fmt.Sprintf("plan validation failed: %s %s", e.Field, e.Reason)
}

var kindSynonyms = map[string]Kind{
	"choice":            KindChoice,
	"single-choice":     KindChoice,
	"multiple-choice":   KindChoice,
	"multi-choice":      KindChoice,
	"quiz":              KindChoice,
	"select":            KindChoice,
	"mcq":               KindChoice,
	"fill-blank":        KindFillBlank,
	"fillblank":         KindFillBlank,
	"fill-in":           KindFillBlank,
	"fill-in-blank":     KindFillBlank,
	"fill-in-the-blank": KindFillBlank,
	"blank":             KindFillBlank,
	"cloze":             KindFillBlank,
	"drag-sort":         KindDragSort,
	"dragsort":          KindDragSort,
	"drag-and-sort":     KindDragSort,
	"drag":              KindDragSort,
	"sort":              KindDragSort,
	"sorting":           KindDragSort,
	"order":             KindDragSort,
	"ordering":          KindDragSort,
	"sequence":          KindDragSort,
	"puzzle":            KindPuzzle,
	"jigsaw":            KindPuzzle,
	"drawing":           KindDrawing,
	"draw":              KindDrawing,
	"paint":             KindDrawing,
	"painting":          KindDrawing,
	"whiteboard":        KindDrawing,
}

// ParseKind maps a model-supplied type to a Kind. Unknown types are choice.
func ParseKind(s string) Kind {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", "-", " ", "-").Replace(key)
	if k, ok := kindSynonyms[key]; ok {
		return k
	}
	return KindChoice
}

// Normalize backfills raw with defaults. It fails only when the title is empty.
func Normalize(raw *Raw, d Defaults) (*Plan, error) {
	if raw == nil {
		return nil, &ValidationError{Field: "title", Reason: "missing"}
	}
	title := trim(raw.Title)
	if title == "" {
		return nil, &ValidationError{Field: "title", Reason: "missing"}
	}

	p := &Plan{
		Title:       title,
		Description: orDefault(trim(raw.Description), title),
		Domain:      orDefault(trim(raw.Domain), strings.TrimSpace(d.Domain)),
		AgeGroup:    orDefault(trim(raw.AgeGroup), strings.TrimSpace(d.AgeGroup)),
		Duration:    int(raw.Duration),
		Style:       orDefault(trim(raw.Style), DefaultStyle),
		ColorScheme: orDefault(trim(raw.ColorScheme), DefaultColorScheme),
	}
	switch {
	case p.Duration <= 0:
		p.Duration = DefaultDuration
	case p.Duration > MaxDuration:
		p.Duration = MaxDuration
	}

	for _, o := range raw.Objectives {
		if o = strings.TrimSpace(o); o != "" {
			p.Objectives = append(p.Objectives, o)
		}
	}
	if len(p.Objectives) == 0 {
		p.Objectives = append([]string(nil), DefaultObjectives...)
	}

	p.Images = normalizeImages(decodeList[rawImage](raw.Images), p.Description)
	p.Activities = normalizeActivities(decodeList[rawActivity](raw.Activities))
	return p, nil
}

func normalizeImages(in []rawImage, fallbackPrompt string) []ImageRequest {
	out := make([]ImageRequest, 0, len(in))
	ids := newIDSet()
	for i, img := range in {
		desc := trim(img.Description)
		out = append(out, ImageRequest{
			ID:          ids.claim(trim(img.ID), fmt.Sprintf("img_%d", i+1)),
			Description: desc,
			Prompt:      orDefault(trim(img.Prompt), orDefault(desc, fallbackPrompt)),
		})
	}
	return out
}

// DefaultActivity is used when the plan carries no usable activities.
func DefaultActivity() Activity {
	return &ChoiceActivity{
		ActivityBase: ActivityBase{
			ID:          "act_default_1",
			Title:       "Recognition game",
			Instruction: "Choose the right answer",
			Points:      DefaultPoints,
		},
		Question: "What did you learn?",
		Options: []Option{
			{ID: "opt_1", Text: "Lots of new things", IsCorrect: true},
			{ID: "opt_2", Text: "Not sure", IsCorrect: false},
		},
	}
}

func normalizeActivities(in []rawActivity) []Activity {
	if len(in) == 0 {
		return []Activity{DefaultActivity()}
	}
	out := make([]Activity, 0, len(in))
	ids := newIDSet()
	for i, ra := range in {
		base := ActivityBase{
			ID:        ids.claim(trim(ra.ID), fmt.Sprintf("act_%d", i+1)),
			Title:     orDefault(trim(ra.Title), fmt.Sprintf("Activity %d", i+1)),
			Points:    int(ra.Points),
			TimeLimit: int(ra.TimeLimit),
		}
		base.Instruction = orDefault(trim(ra.Instruction), base.Title)
		if base.Points <= 0 {
			base.Points = DefaultPoints
		}
		if base.TimeLimit < 0 {
			base.TimeLimit = 0
		}

		switch ParseKind(string(ra.Type)) {
		case KindFillBlank:
			answers := append(trimAll(ra.Answers), trimAll(ra.Answer)...)
			out = append(out, &FillBlankActivity{
				ActivityBase: base,
				Question:     orDefault(trim(ra.Question), base.Title),
				Answers:      answers,
			})
		case KindDragSort:
			items := normalizeItems(decodeList[rawOption](ra.Items))
			out = append(out, &DragSortActivity{
				ActivityBase: base,
				Items:        items,
				CorrectOrder: normalizeOrder(ra.CorrectOrder, items),
			})
		case KindPuzzle:
			grid := int(ra.GridSize)
			if grid < 2 || grid > 4 {
				grid = DefaultGridSize
			}
			out = append(out, &PuzzleActivity{ActivityBase: base, ImageSrc: trim(ra.ImageSrc), GridSize: grid})
		case KindDrawing:
			out = append(out, &DrawingActivity{ActivityBase: base})
		default:
			out = append(out, &ChoiceActivity{
				ActivityBase: base,
				Question:     orDefault(trim(ra.Question), base.Title),
				Options:      normalizeOptions(decodeList[rawOption](ra.Options)),
			})
		}
	}
	return out
}

func normalizeOptions(in []rawOption) []Option {
	out := make([]Option, 0, len(in))
	ids := newIDSet()
	for j, o := range in {
		out = append(out, Option{
			ID:        ids.claim(trim(o.ID), fmt.Sprintf("opt_%d", j+1)),
			Text:      o.text(),
			IsCorrect: bool(o.IsCorrect) || bool(o.Correct),
		})
	}
	return out
}

func normalizeItems(in []rawOption) []Item {
	out := make([]Item, 0, len(in))
	ids := newIDSet()
	for j, o := range in {
		out = append(out, Item{ID: ids.claim(trim(o.ID), fmt.Sprintf("item_%d", j+1)), Text: o.text()})
	}
	return out
}

// normalizeOrder keeps only known item ids, each once. An order that does not
// mention every item falls back to the item order.
func normalizeOrder(order []string, items []Item) []string {
	known := make(map[string]bool, len(items))
	for _, it := range items {
		known[it.ID] = true
	}
	seen := make(map[string]bool, len(order))
	out := make([]string, 0, len(items))
	for _, id := range order {
		id = strings.TrimSpace(id)
		if known[id] && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if len(out) != len(items) {
		out = out[:0]
		for _, it := range items {
			out = append(out, it.ID)
		}
	}
	return out
}

type idSet map[string]bool

func newIDSet() idSet { return idSet{} }

// claim returns id when it is non-empty and unused, otherwise fallback made
// unique.
func (s idSet) claim(id, fallback string) string {
	if id == "" || s[id] {
		id = fallback
		for n := 2; s[id]; n++ {
			id = fmt.Sprintf("%s_%d", fallback, n)
		}
	}
	s[id] = true
	return id
}

func trim(s flexString) string { return strings.TrimSpace(string(s)) }

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
