package emitter

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/yungbote/lessonstream/internal/lesson/plan"
)

const (
	PageContainerID = "page-container-main"
	HeaderID        = "course-header"
	ObjectivesID    = "course-objectives"
	MediaID         = "course-media"
	CarouselID      = "media-carousel"
	AudioID         = "course-audio"
	ScoreBoardID    = "score-board"

	WelcomeAudioID = "audio-welcome"
	IntroAudioID   = "audio-intro"

	carouselInterval = 4000
	whiteboardWidth  = 800
	whiteboardHeight = 400
	welcomeDelayMs   = 1000
	maxScore         = 100
)

func ActivityCardID(i int) string  { return fmt.Sprintf("activity-%d-card", i) }
func ActivityAudioID(i int) string { return fmt.Sprintf("audio-activity-%d", i) }
func SlideID(imageID string) string { return "media-slide-" + imageID }

func textNode(id, content, variant string) *Node {
	return &Node{ID: id, Type: "Text", Props: map[string]any{"content": content, "variant": variant}}
}

func tagNode(id, text, color string) *Node {
	return &Node{ID: id, Type: "Tag", Props: map[string]any{"text": text, "color": color}}
}

func buttonNode(id, label, variant string) *Node {
	return &Node{ID: id, Type: "Button", Props: map[string]any{"text": label, "variant": variant}}
}

func cardNode(id, title string, children ...*Node) *Node {
	props := map[string]any{"padding": "large"}
	if title != "" {
		props["title"] = title
	}
	return &Node{ID: id, Type: "Card", Props: props, Children: children}
}

func pageContainer(title, subtitle string, children ...*Node) *Node {
	return &Node{
		ID:       PageContainerID,
		Type:     "PageContainer",
		Props:    map[string]any{"title": title, "subtitle": subtitle},
		Children: children,
	}
}

func headerCard(p *plan.Plan, domainLabel, ageLabel string) *Node {
	tags := &Node{
		ID:   "course-tags",
		Type: "Group",
		Props: map[string]any{"direction": "horizontal", "gap": "small"},
		Children: []*Node{
			tagNode("tag-domain", domainLabel, "blue"),
			tagNode("tag-age", ageLabel, "green"),
			tagNode("tag-duration", fmt.Sprintf("%d min", p.Duration), "orange"),
		},
	}
	return cardNode(HeaderID, "",
		textNode("course-title-text", p.Title, "h1"),
		textNode("course-desc-text", p.Description, "body"),
		tags,
	)
}

func objectivesCard(objectives []string) *Node {
	card := cardNode(ObjectivesID, "Learning objectives")
	for i, obj := range objectives {
		card.Children = append(card.Children, textNode(fmt.Sprintf("objective-%d", i), fmt.Sprintf("%d. %s", i+1, obj), "body"))
	}
	return card
}

// placeholderSVG renders an inline image shown until the real slide arrives.
func placeholderSVG(label string) string {
	svg := `<svg xmlns="http://www.w3.org/2000/svg" width="800" height="450" viewBox="0 0 800 450">` +
		`<rect width="800" height="450" fill="#f0f4ff"/>` +
		`<text x="400" y="225" font-size="28" text-anchor="middle" fill="#8090b0">` +
		xmlEscape(label) + `</text></svg>`
	return "data:image/svg+xml;charset=utf-8," + url.PathEscape(svg)
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}

// Slide is one carousel entry.
type Slide struct {
	ImageID string
	URL     string
	Caption string
}

func carousel(slides []Slide, autoplay bool) *Node {
	node := &Node{ID: CarouselID, Type: "ImageCarousel", Props: map[string]any{"autoplay": autoplay}}
	if autoplay {
		node.Props["interval"] = carouselInterval
	}
	images := make([]any, 0, len(slides))
	for _, s := range slides {
		images = append(images, map[string]any{"id": SlideID(s.ImageID), "src": s.URL, "alt": s.Caption})
	}
	node.Props["images"] = images
	return node
}

func mediaCard(c *Node) *Node {
	return cardNode(MediaID, "Picture gallery", c)
}

// Narration is one spoken clip of the lesson.
type Narration struct {
	ID       string
	Text     string
	AutoPlay bool
}

// Narrations lists the clips spoken for p: a welcome, the introduction, and
// one per activity with an instruction or question.
func Narrations(p *plan.Plan) []Narration {
	out := []Narration{{ID: WelcomeAudioID, Text: fmt.Sprintf("Welcome to %s!", p.Title), AutoPlay: true}}
	if strings.TrimSpace(p.Description) != "" {
		out = append(out, Narration{ID: IntroAudioID, Text: p.Description})
	}
	for i, a := range p.Activities {
		if text := narrationText(a); text != "" {
			out = append(out, Narration{ID: ActivityAudioID(i), Text: text})
		}
	}
	return out
}

func narrationText(a plan.Activity) string {
	parts := []string{strings.TrimSpace(a.Base().Instruction)}
	switch t := a.(type) {
	case *plan.ChoiceActivity:
		parts = append(parts, strings.TrimSpace(t.Question))
	case *plan.FillBlankActivity:
		parts = append(parts, strings.TrimSpace(t.Question))
	}
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

// Clip is a narration with its synthesized URL, empty while pending or failed.
type Clip struct {
	Narration
	URL    string
	Failed bool
}

func audioCard(clips []Clip) *Node {
	card := cardNode(AudioID, "Narration")
	for _, c := range clips {
		status := "pending"
		switch {
		case c.URL != "":
			status = "ready"
		case c.Failed:
			status = "failed"
		}
		binding := &AudioBinding{TTSURL: c.URL, TTSText: c.Text}
		if c.AutoPlay {
			binding.AutoPlay = true
			binding.DelayMs = welcomeDelayMs
		}
		card.Children = append(card.Children, &Node{
			ID:    c.ID,
			Type:  "AudioClip",
			Props: map[string]any{"status": status},
			Audio: binding,
		})
	}
	return card
}

func activityCard(i int, a plan.Activity, sfx bool) (*Node, error) {
	prefix := fmt.Sprintf("activity-%d", i)
	base := a.Base()
	body, err := activityBody(prefix, a)
	if err != nil {
		return nil, err
	}
	card := cardNode(ActivityCardID(i), base.Title,
		textNode(prefix+"-instruction", base.Instruction, "body"),
		body,
	)
	card.Props["activityId"] = base.ID
	card.Props["activityType"] = string(a.Kind())
	card.Props["audioRef"] = ActivityAudioID(i)
	if a.Kind() != plan.KindDrawing {
		card.Children = append(card.Children, buttonNode(prefix+"-submit", "Submit answer", "primary"))
	}
	card.Audio = &AudioBinding{TTSText: narrationText(a)}
	if sfx {
		card.Audio.ClickEffect = "click"
	}
	return card, nil
}

func activityBody(prefix string, a plan.Activity) (*Node, error) {
	id := prefix + "-body"
	switch t := a.(type) {
	case *plan.ChoiceActivity:
		options := make([]any, 0, len(t.Options))
		for _, o := range t.Options {
			options = append(options, map[string]any{"id": o.ID, "content": o.Text, "isCorrect": o.IsCorrect})
		}
		props := map[string]any{"question": t.Question, "options": options, "points": t.Points}
		if t.TimeLimit > 0 {
			props["timeLimit"] = t.TimeLimit
		}
		return &Node{ID: id, Type: "ChoiceQuestion", Props: props}, nil
	case *plan.FillBlankActivity:
		return &Node{ID: id, Type: "FillBlank", Props: map[string]any{
			"question": t.Question,
			"answers":  append([]string(nil), t.Answers...),
			"points":   t.Points,
		}}, nil
	case *plan.DragSortActivity:
		items := make([]any, 0, len(t.Items))
		for _, it := range t.Items {
			items = append(items, map[string]any{"id": it.ID, "content": it.Text})
		}
		return &Node{ID: id, Type: "DragSort", Props: map[string]any{
			"items":        items,
			"correctOrder": append([]string(nil), t.CorrectOrder...),
			"showFeedback": true,
			"points":       t.Points,
		}}, nil
	case *plan.PuzzleActivity:
		props := map[string]any{"imageSrc": t.ImageSrc, "gridSize": t.GridSize, "successScore": t.Points}
		if t.TimeLimit > 0 {
			props["timeLimit"] = t.TimeLimit
		}
		return &Node{ID: id, Type: "PuzzleGame", Props: props}, nil
	case *plan.DrawingActivity:
		return &Node{
			ID:    id,
			Type:  "Group",
			Props: map[string]any{"direction": "vertical", "gap": "medium"},
			Children: []*Node{
				{ID: prefix + "-whiteboard", Type: "Whiteboard", Props: map[string]any{
					"width":        whiteboardWidth,
					"height":       whiteboardHeight,
					"tools":        []string{"pen", "eraser", "color"},
					"defaultColor": "#000000",
					"points":       t.Points,
				}},
				{ID: prefix + "-actions", Type: "Group", Props: map[string]any{"direction": "horizontal", "gap": "small"}, Children: []*Node{
					buttonNode(prefix+"-save", "Save artwork", "primary"),
					buttonNode(prefix+"-clear", "Clear", "secondary"),
				}},
			},
		}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownActivity, a)
	}
}

func scoreBoard(durationMinutes int, sfx bool) *Node {
	n := &Node{ID: ScoreBoardID, Type: "ScoreBoard", Props: map[string]any{
		"score":      0,
		"showTimer":  true,
		"timerValue": durationMinutes * 60,
		"maxScore":   maxScore,
	}}
	if sfx {
		n.Audio = &AudioBinding{CorrectEffect: "correct", WrongEffect: "wrong", ClickEffect: "click", CompleteEffect: "complete"}
	}
	return n
}
