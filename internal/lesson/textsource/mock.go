package textsource

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Mock replays scripted output in fixed-size rune chunks. Reasoning is sent
// before Content. When Content is empty a small lesson plan derived from the
// prompt is replayed.
type Mock struct {
	Reasoning string
	Content   string
	Chunk     int
	Delay     time.Duration
	// Err, when set, is returned as a transport failure after all chunks.
	Err error
}

func NewMock() *Mock {
	return &Mock{Chunk: 16}
}

func (m *Mock) Stream(ctx context.Context, req Request, onDelta func(Delta) error) error {
	content := m.Content
	if content == "" {
		content = samplePlanJSON(req.Prompt)
	}
	if err := m.replay(ctx, m.Reasoning, true, onDelta); err != nil {
		return err
	}
	if err := m.replay(ctx, content, false, onDelta); err != nil {
		return err
	}
	if m.Err != nil {
		return transport("mock", m.Err)
	}
	return nil
}

func (m *Mock) replay(ctx context.Context, text string, reasoning bool, onDelta func(Delta) error) error {
	chunk := m.Chunk
	if chunk <= 0 {
		chunk = 16
	}
	rs := []rune(text)
	for i := 0; i < len(rs); i += chunk {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		end := i + chunk
		if end > len(rs) {
			end = len(rs)
		}
		d := Delta{Content: string(rs[i:end])}
		if reasoning {
			d = Delta{Reasoning: d.Content}
		}
		if err := onDelta(d); err != nil {
			return err
		}
		if m.Delay > 0 {
			time.Sleep(m.Delay)
		}
	}
	return nil
}

func samplePlanJSON(prompt string) string {
	// the first line of a rendered user prompt is "Request: <text>"
	title, _, _ := strings.Cut(prompt, "\n")
	title = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(title), "Request:"))
	if title == "" {
		title = "Exploring Colors"
	}
	if r := []rune(title); len(r) > 40 {
		title = string(r[:40])
	}
	plan := map[string]any{
		"title":       title,
		"description": "A short interactive lesson about " + title + ".",
		"duration":    15,
		"objectives":  []string{"Recognize the key ideas", "Practice through play"},
		"style":       "cartoon",
		"colorScheme": "bright",
		"images": []map[string]any{
			{"id": "img_1", "description": "Cover picture", "prompt": "A friendly illustration of " + title},
		},
		"activities": []map[string]any{
			{
				"id": "act_1", "type": "choice", "title": "Quick quiz",
				"question": "Which one fits " + title + "?",
				"options": []map[string]any{
					{"id": "opt_1", "text": "This one", "isCorrect": true},
					{"id": "opt_2", "text": "That one", "isCorrect": false},
				},
			},
			{
				"id": "act_2", "type": "drag-sort", "title": "Put in order",
				"items": []map[string]any{
					{"id": "item_1", "text": "First"},
					{"id": "item_2", "text": "Second"},
				},
				"correctOrder": []string{"item_1", "item_2"},
			},
		},
	}
	b, _ := json.Marshal(plan)
	return "<thinking>Plan a short lesson.</thinking>" + string(b)
}
