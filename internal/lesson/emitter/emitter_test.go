package emitter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/lessonstream/internal/lesson/plan"
)

func samplePlan() *plan.Plan {
	return &plan.Plan{
		Title:       "Colors",
		Description: "Find colors around you",
		Domain:      "art",
		AgeGroup:    "4-5",
		Duration:    15,
		Objectives:  []string{"see red", "find blue"},
		Images:      []plan.ImageRequest{{ID: "img_1", Description: "a red ball"}, {ID: "img_2", Description: "blue sky"}},
		Activities: []plan.Activity{
			&plan.ChoiceActivity{
				ActivityBase: plan.ActivityBase{ID: "act_1", Title: "Pick", Instruction: "Choose the red one", Points: 10},
				Question:     "Which is red?",
				Options:      []plan.Option{{ID: "opt_1", Text: "Apple", IsCorrect: true}, {ID: "opt_2", Text: "Sky"}},
			},
			&plan.DragSortActivity{
				ActivityBase: plan.ActivityBase{ID: "act_2", Title: "Sort", Instruction: "Small to big", Points: 10},
				Items:        []plan.Item{{ID: "item_1", Text: "ant"}, {ID: "item_2", Text: "cow"}},
				CorrectOrder: []string{"item_1", "item_2"},
			},
			&plan.DrawingActivity{ActivityBase: plan.ActivityBase{ID: "act_3", Title: "Draw", Instruction: "Draw a rainbow", Points: 10}},
		},
	}
}

func fixedClock() func() time.Time {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time { return ts }
}

func runToScoreboard(t *testing.T, e *Emitter, p *plan.Plan) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.Skeleton(ctx))
	require.NoError(t, e.TitleCard(ctx, p, "Art", "Middle class"))
	require.NoError(t, e.Objectives(ctx, p.Objectives))
	require.NoError(t, e.MediaPlaceholders(ctx, p.Images))
	require.NoError(t, e.AudioPlaceholder(ctx, Narrations(p)))
	require.NoError(t, e.Activities(ctx, p.Activities, true))
	require.NoError(t, e.Scoreboard(ctx, p.Duration, true))
}

func TestFullSequence(t *testing.T) {
	rec := &Recorder{}
	e := New(rec, WithClock(fixedClock()))
	p := samplePlan()
	ctx := context.Background()
	runToScoreboard(t, e, p)

	require.NoError(t, e.ImageReady(ctx, "img_1", "http://cdn/1.png"))
	require.NoError(t, e.ImagesJoined(ctx, []Slide{{ImageID: "img_1", URL: "http://cdn/1.png"}}))
	require.NoError(t, e.AudioJoined(ctx, map[string]string{WelcomeAudioID: "http://cdn/w.mp3"}))
	require.NoError(t, e.Complete(ctx, "done"))
	assert.Equal(t, PhaseComplete, e.Phase())

	msgs := rec.Messages()
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Seq)
	}
	assert.Len(t, rec.ByType(TypeComplete), 1)
	assert.Len(t, rec.ByType(TypeImageReady), 1)

	snap := e.Snapshot()
	page := snap.Children[0]
	ids := make([]string, 0, len(page.Children))
	for _, c := range page.Children {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{HeaderID, ObjectivesID, MediaID, AudioID, "activity-0-card", "activity-1-card", "activity-2-card", ScoreBoardID}, ids)

	// replaying the stream on a fresh tree reproduces the server state
	tr := NewTree()
	for _, m := range rec.ByType(TypeComponent) {
		require.NoError(t, tr.Apply(m))
	}
	assert.Equal(t, snap, tr.Snapshot())

	gallery := tr.Find(CarouselID)
	assert.Equal(t, true, gallery.Props["autoplay"])
	assert.Equal(t, carouselInterval, gallery.Props["interval"])
	assert.Len(t, gallery.Props["images"], 1)

	welcome := tr.Find(WelcomeAudioID)
	assert.Equal(t, "ready", welcome.Props["status"])
	assert.True(t, welcome.Audio.AutoPlay)
	assert.Equal(t, welcomeDelayMs, welcome.Audio.DelayMs)
	assert.Equal(t, "failed", tr.Find(IntroAudioID).Props["status"])

	board := tr.Find(ScoreBoardID)
	assert.Equal(t, 900, board.Props["timerValue"])
	assert.Equal(t, "complete", board.Audio.CompleteEffect)

	assert.True(t, tr.Has("activity-2-whiteboard"))
	assert.True(t, tr.Has("activity-2-save"))
	assert.True(t, tr.Has("activity-0-submit"))
	assert.Equal(t, "click", tr.Find("activity-0-card").Audio.ClickEffect)
}

func TestCompleteRequiresJoins(t *testing.T) {
	rec := &Recorder{}
	e := New(rec)
	runToScoreboard(t, e, samplePlan())
	ctx := context.Background()

	err := e.Complete(ctx, "done")
	assert.True(t, errors.Is(err, ErrPending))
	require.NoError(t, e.ImagesJoined(ctx, nil))
	assert.True(t, errors.Is(e.Complete(ctx, "done"), ErrPending))
	require.NoError(t, e.AudioJoined(ctx, nil))
	require.NoError(t, e.Complete(ctx, "done"))
}

func TestNothingAfterTerminal(t *testing.T) {
	rec := &Recorder{}
	e := New(rec)
	ctx := context.Background()
	require.NoError(t, e.Skeleton(ctx))
	require.NoError(t, e.TitleCard(ctx, samplePlan(), "Art", "Middle"))
	require.NoError(t, e.MediaPlaceholders(ctx, samplePlan().Images))
	require.NoError(t, e.Fail(ctx, "transport", "upstream closed", ""))

	assert.ErrorIs(t, e.ImageReady(ctx, "img_1", "u"), ErrTerminated)
	assert.ErrorIs(t, e.Progress(ctx, "late"), ErrTerminated)
	assert.ErrorIs(t, e.Fail(ctx, "internal", "again", ""), ErrTerminated)
	assert.ErrorIs(t, e.Complete(ctx, "done"), ErrTerminated)

	terminal := 0
	for _, m := range rec.Messages() {
		if m.Terminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
	assert.Equal(t, PhaseError, e.Phase())
}

func TestPhaseOrderEnforced(t *testing.T) {
	e := New(&Recorder{})
	ctx := context.Background()
	assert.ErrorIs(t, e.Objectives(ctx, nil), ErrPhase)
	assert.ErrorIs(t, e.MediaPlaceholders(ctx, nil), ErrPhase)
	require.NoError(t, e.Skeleton(ctx))
	assert.ErrorIs(t, e.Skeleton(ctx), ErrPhase)
	require.NoError(t, e.TitleCard(ctx, samplePlan(), "", ""))
	assert.ErrorIs(t, e.Activities(ctx, nil, false), ErrPhase)
	require.NoError(t, e.MediaPlaceholders(ctx, nil))
	assert.ErrorIs(t, e.MediaPlaceholders(ctx, nil), ErrAlreadyPlaced)
	assert.ErrorIs(t, e.AudioJoined(ctx, nil), ErrNotPending)
}

type oddActivity struct{ plan.ActivityBase }

func (*oddActivity) Kind() plan.Kind { return "odd" }

func TestUnknownActivityEmitsNothing(t *testing.T) {
	rec := &Recorder{}
	e := New(rec)
	ctx := context.Background()
	require.NoError(t, e.Skeleton(ctx))
	require.NoError(t, e.TitleCard(ctx, samplePlan(), "", ""))
	require.NoError(t, e.Objectives(ctx, nil))
	before := len(rec.Messages())

	acts := []plan.Activity{samplePlan().Activities[0], &oddActivity{}}
	assert.ErrorIs(t, e.Activities(ctx, acts, false), ErrUnknownActivity)
	assert.Len(t, rec.Messages(), before)
}

func TestFailDetachesFromCancelledContext(t *testing.T) {
	var gotErr error
	sink := SinkFunc(func(ctx context.Context, m Message) error {
		if m.Type == TypeError {
			gotErr = ctx.Err()
		}
		return nil
	})
	e := New(sink)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Skeleton(ctx))
	cancel()
	require.NoError(t, e.Fail(ctx, "cancelled", "run cancelled", ""))
	assert.NoError(t, gotErr)
}

func TestNarrations(t *testing.T) {
	got := Narrations(samplePlan())
	require.Len(t, got, 5)
	assert.Equal(t, WelcomeAudioID, got[0].ID)
	assert.True(t, got[0].AutoPlay)
	assert.Equal(t, "Welcome to Colors!", got[0].Text)
	assert.Equal(t, IntroAudioID, got[1].ID)
	assert.Equal(t, "Choose the red one Which is red?", got[2].Text)
	assert.Equal(t, ActivityAudioID(2), got[4].ID)
}

func TestChannelSinkDropsOnlyDroppable(t *testing.T) {
	s := NewChannelSink(1)
	ctx := context.Background()
	require.NoError(t, s.Send(ctx, Message{Type: TypeProgress}))
	require.NoError(t, s.Send(ctx, Message{Type: TypeThinking}))
	assert.Equal(t, int64(1), s.Dropped())

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := s.Send(short, Message{Type: TypeComponent})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	<-s.C()
	require.NoError(t, s.Send(ctx, Message{Type: TypeComplete}))
	assert.Equal(t, TypeComplete, (<-s.C()).Type)
}

func TestJSONLinesSink(t *testing.T) {
	var buf bytes.Buffer
	e := New(NewJSONLinesSink(&buf), WithClock(fixedClock()))
	ctx := context.Background()
	require.NoError(t, e.Skeleton(ctx))
	require.NoError(t, e.Progress(ctx, "thinking <hard>"))

	sc := bufio.NewScanner(&buf)
	var lines []map[string]any
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "component", lines[0]["type"])
	assert.Equal(t, "replace", lines[0]["action"])
	assert.Equal(t, "root", lines[0]["targetId"])
	assert.Equal(t, "thinking <hard>", lines[1]["message"])
	assert.NotContains(t, lines[1], "component")
	assert.Equal(t, "2026-01-02T03:04:05Z", lines[1]["timestamp"])
}
