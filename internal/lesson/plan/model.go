// Package plan decodes repaired model output into a lesson plan and
// backfills it with deterministic defaults.
package plan

import "encoding/json"

type Kind string

const (
	KindChoice    Kind = "choice"
	KindFillBlank Kind = "fill-blank"
	KindDragSort  Kind = "drag-sort"
	KindPuzzle    Kind = "puzzle"
	KindDrawing   Kind = "drawing"
)

// Plan is immutable once Normalize returns it.
type Plan struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Domain      string         `json:"domain"`
	AgeGroup    string         `json:"ageGroup"`
	Duration    int            `json:"duration"`
	Objectives  []string       `json:"objectives"`
	Style       string         `json:"style"`
	ColorScheme string         `json:"colorScheme"`
	Images      []ImageRequest `json:"images"`
	Activities  []Activity     `json:"activities"`
}

type ImageRequest struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

// Activity is implemented only by the activity types of this package.
type Activity interface {
	Kind() Kind
	Base() ActivityBase
	activity()
}

type ActivityBase struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Instruction string `json:"instruction"`
	Points      int    `json:"points"`
	// TimeLimit is in seconds; zero means untimed.
	TimeLimit int `json:"timeLimit,omitempty"`
}

func (b ActivityBase) Base() ActivityBase { return b }
func (ActivityBase) activity()            {}

type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

type Item struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type ChoiceActivity struct {
	ActivityBase
	Question string   `json:"question"`
	Options  []Option `json:"options"`
}

type FillBlankActivity struct {
	ActivityBase
	Question string   `json:"question"`
	Answers  []string `json:"answers"`
}

type DragSortActivity struct {
	ActivityBase
	Items        []Item   `json:"items"`
	CorrectOrder []string `json:"correctOrder"`
}

type PuzzleActivity struct {
	ActivityBase
	ImageSrc string `json:"imageSrc"`
	GridSize int    `json:"gridSize"`
}

type DrawingActivity struct {
	ActivityBase
}

func (*ChoiceActivity) Kind() Kind    { return KindChoice }
func (*FillBlankActivity) Kind() Kind { return KindFillBlank }
func (*DragSortActivity) Kind() Kind  { return KindDragSort }
func (*PuzzleActivity) Kind() Kind    { return KindPuzzle }
func (*DrawingActivity) Kind() Kind   { return KindDrawing }

func (a *ChoiceActivity) MarshalJSON() ([]byte, error) {
	type alias ChoiceActivity
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{KindChoice, (*alias)(a)})
}

func (a *FillBlankActivity) MarshalJSON() ([]byte, error) {
	type alias FillBlankActivity
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{KindFillBlank, (*alias)(a)})
}

func (a *DragSortActivity) MarshalJSON() ([]byte, error) {
	type alias DragSortActivity
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{KindDragSort, (*alias)(a)})
}

func (a *PuzzleActivity) MarshalJSON() ([]byte, error) {
	type alias PuzzleActivity
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{KindPuzzle, (*alias)(a)})
}

func (a *DrawingActivity) MarshalJSON() ([]byte, error) {
	type alias DrawingActivity
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{KindDrawing, (*alias)(a)})
}
