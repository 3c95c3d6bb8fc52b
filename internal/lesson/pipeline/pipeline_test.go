package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/lessonstream/internal/lesson/assets"
	"github.com/yungbote/lessonstream/internal/lesson/emitter"
	"github.com/yungbote/lessonstream/internal/lesson/enrich"
	"github.com/yungbote/lessonstream/internal/lesson/push"
	"github.com/yungbote/lessonstream/internal/lesson/runs"
	"github.com/yungbote/lessonstream/internal/lesson/textsource"
	"github.com/yungbote/lessonstream/internal/lesson/trace"
	"github.com/yungbote/lessonstream/internal/platform/dbctx"
)

type fakeImages struct {
	calls atomic.Int32
}

// GenerateImage fails every prompt mentioning "broken".
func (f *fakeImages) GenerateImage(_ context.Context, prompt string) (assets.Asset, error) {
	f.calls.Add(1)
	if strings.Contains(prompt, "broken") {
		return assets.Asset{}, errors.New("content policy")
	}
	return assets.Asset{URL: "https://cdn.test/img/" + strings.ReplaceAll(prompt, " ", "-")}, nil
}

type fakeSpeech struct {
	calls atomic.Int32
}

func (f *fakeSpeech) Synthesize(_ context.Context, text string) (assets.Asset, error) {
	f.calls.Add(1)
	return assets.Asset{Data: []byte("ID3" + text), ContentType: "audio/mpeg"}, nil
}

const twoImagePlan = `<thinking>Two pictures, one activity.</thinking>{
  "title": "Sea Life",
  "description": "Meet the animals of the ocean.",
  "duration": 10,
  "objectives": ["Name three sea animals"],
  "images": [
    {"id": "img_ok", "description": "A whale", "prompt": "a friendly whale"},
    {"id": "img_bad", "description": "A shark", "prompt": "a broken shark"}
  ],
  "activities": [
    {"id": "a1", "type": "choice", "question": "Which one is a fish?",
     "options": [{"id": "o1", "text": "Shark", "isCorrect": true}, {"id": "o2", "text": "Whale", "isCorrect": false}]}
  ]
}`

type harness struct {
	runner *Runner
	repo   *runs.MemoryRepo
	traces *trace.MemoryStore
	images *fakeImages
	speech *fakeSpeech
}

func newHarness(t *testing.T, src textsource.Source, configured bool) *harness {
	t.Helper()
	h := &harness{
		repo:   runs.NewMemoryRepo(),
		traces: trace.NewMemoryStore(16, time.Minute),
		images: &fakeImages{},
		speech: &fakeSpeech{},
	}
	var pools enrich.Pools
	if configured {
		pool := enrich.Pool{Images: h.images, Speech: h.speech}
		pools = enrich.Pools{Demo: pool, Tenant: pool}
	}
	r, err := NewRunner(Deps{
		Source:      src,
		Assets:      assets.NewOrchestrator(nil, assets.NewStore(64, time.Minute, "http://lessons.test"), assets.Config{MaxConcurrency: 2}, nil),
		Pools:       pools,
		Traces:      h.traces,
		Runs:        h.repo,
		FailTimeout: time.Second,
	})
	require.NoError(t, err)
	h.runner = r
	return h
}

func (h *harness) record(t *testing.T, id string) *runs.RunRecord {
	t.Helper()
	rec, err := h.repo.Get(dbctx.New(context.Background()), id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec
}

func skippedCodes(msgs []emitter.Message) []string {
	var out []string
	for _, m := range msgs {
		if m.Type == emitter.TypeProgress && strings.HasPrefix(m.Code, "skipped:") {
			out = append(out, m.Code)
		}
	}
	return out
}

func terminals(msgs []emitter.Message) []emitter.Message {
	var out []emitter.Message
	for _, m := range msgs {
		if m.Terminal() {
			out = append(out, m)
		}
	}
	return out
}

func replay(t *testing.T, msgs []emitter.Message) *emitter.Tree {
	t.Helper()
	tree := emitter.NewTree()
	for _, m := range msgs {
		if m.Type == emitter.TypeComponent {
			require.NoError(t, tree.Apply(m), "seq %d", m.Seq)
		}
	}
	return tree
}

func TestRunDeliversCompleteLesson(t *testing.T) {
	h := newHarness(t, textsource.NewMock(), true)
	rec := &emitter.Recorder{}

	res, err := h.runner.Run(context.Background(), "run-1", Request{Prompt: "Colors of the rainbow", Media: DefaultMedia()}, rec)
	require.NoError(t, err)
	assert.Equal(t, emitter.PhaseComplete, res.Phase)

	msgs := rec.Messages()
	require.NotEmpty(t, msgs)
	for i := 1; i < len(msgs); i++ {
		require.Greater(t, msgs[i].Seq, msgs[i-1].Seq)
	}
	term := terminals(msgs)
	require.Len(t, term, 1)
	assert.Equal(t, emitter.TypeComplete, msgs[len(msgs)-1].Type)

	assert.NotEmpty(t, rec.ByType(emitter.TypeThinking))
	assert.Len(t, rec.ByType(emitter.TypeImageReady), 1)
	assert.Empty(t, skippedCodes(msgs))

	tree := replay(t, msgs)
	assert.Equal(t, res.Tree, tree.Snapshot())
	assert.True(t, tree.Has(emitter.HeaderID))
	assert.True(t, tree.Has(emitter.ActivityCardID(0)))
	assert.True(t, tree.Has(emitter.ActivityCardID(1)))
	assert.True(t, tree.Has(emitter.ScoreBoardID))
	welcome := tree.Find(emitter.WelcomeAudioID)
	require.NotNil(t, welcome)
	assert.Equal(t, "ready", welcome.Props["status"])
	assert.True(t, strings.HasPrefix(welcome.Audio.TTSURL, "http://lessons.test/api/assets/"))

	assert.Equal(t, "Colors of the rainbow", res.Plan.Title)
	assert.Equal(t, int32(1), h.images.calls.Load())

	thinking, err := h.traces.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Contains(t, thinking, "Plan a short lesson.")

	stored := h.record(t, "run-1")
	assert.Equal(t, runs.StatusCompleted, stored.Status)
	assert.Equal(t, "complete", stored.Phase)
	assert.Equal(t, "direct", stored.RepairStage)
	assert.Equal(t, 1, stored.ImagesTotal)
	assert.Zero(t, stored.ImagesFailed)
	assert.NotNil(t, stored.FinishedAt)
	assert.Contains(t, string(stored.Plan), `"Colors of the rainbow"`)
}

func TestRunImageReadyPrecedesMediaUpdate(t *testing.T) {
	h := newHarness(t, &textsource.Mock{Content: twoImagePlan, Chunk: 7}, true)
	rec := &emitter.Recorder{}
	_, err := h.runner.Run(context.Background(), "run-order", Request{Prompt: "sea", Media: DefaultMedia()}, rec)
	require.NoError(t, err)

	placeholder, ready, update := -1, -1, -1
	for i, m := range rec.Messages() {
		switch {
		case m.Type == emitter.TypeComponent && m.Action == emitter.ActionAppend && m.Component != nil && m.Component.ID == emitter.MediaID:
			placeholder = i
		case m.Type == emitter.TypeImageReady:
			ready = i
		case m.Type == emitter.TypeComponent && m.Action == emitter.ActionUpdate && m.TargetID == emitter.MediaID:
			update = i
		}
	}
	require.GreaterOrEqual(t, placeholder, 0)
	assert.Less(t, placeholder, ready)
	assert.Less(t, ready, update)
}

func TestRunWithImagesAndVoiceOff(t *testing.T) {
	h := newHarness(t, textsource.NewMock(), true)
	rec := &emitter.Recorder{}
	media := Media{EnableImage: false, EnableVoice: false, EnableSoundEffect: true}

	res, err := h.runner.Run(context.Background(), "run-3", Request{Prompt: "Shapes", Media: media}, rec)
	require.NoError(t, err)
	assert.Equal(t, emitter.PhaseComplete, res.Phase)

	msgs := rec.Messages()
	assert.Equal(t, []string{emitter.CodeSkippedImage, emitter.CodeSkippedVoice}, skippedCodes(msgs))
	assert.Empty(t, rec.ByType(emitter.TypeImageReady))
	assert.Equal(t, emitter.TypeComplete, msgs[len(msgs)-1].Type)
	assert.Zero(t, h.images.calls.Load())
	assert.Zero(t, h.speech.calls.Load())

	tree := replay(t, msgs)
	assert.False(t, tree.Has(emitter.MediaID))
	assert.False(t, tree.Has(emitter.AudioID))
}

func TestRunWithSoundEffectsOff(t *testing.T) {
	h := newHarness(t, textsource.NewMock(), true)
	rec := &emitter.Recorder{}
	media := DefaultMedia()
	media.EnableSoundEffect = false

	_, err := h.runner.Run(context.Background(), "run-sfx", Request{Prompt: "Shapes", Media: media}, rec)
	require.NoError(t, err)
	assert.Equal(t, []string{emitter.CodeSkippedSoundEffect}, skippedCodes(rec.Messages()))

	card := replay(t, rec.Messages()).Find(emitter.ActivityCardID(0))
	require.NotNil(t, card)
	require.NotNil(t, card.Audio)
	assert.Empty(t, card.Audio.ClickEffect)
}

func TestRunIsolatesFailedImage(t *testing.T) {
	h := newHarness(t, &textsource.Mock{Content: twoImagePlan, Chunk: 5}, true)
	rec := &emitter.Recorder{}

	res, err := h.runner.Run(context.Background(), "run-4", Request{Prompt: "sea", Media: DefaultMedia()}, rec)
	require.NoError(t, err)
	assert.Equal(t, emitter.PhaseComplete, res.Phase)
	require.Len(t, res.Images, 2)

	ready := rec.ByType(emitter.TypeImageReady)
	require.Len(t, ready, 1)
	assert.Equal(t, "img_ok", ready[0].ImageID)

	tree := replay(t, rec.Messages())
	car := tree.Find(emitter.CarouselID)
	require.NotNil(t, car)
	images, ok := car.Props["images"].([]any)
	require.True(t, ok)
	require.Len(t, images, 1)
	assert.Equal(t, emitter.SlideID("img_ok"), images[0].(map[string]any)["id"])
	assert.Equal(t, "A whale", images[0].(map[string]any)["alt"])

	var summary string
	for _, m := range rec.ByType(emitter.TypeProgress) {
		if strings.Contains(m.Message, "images ready") {
			summary = m.Message
		}
	}
	assert.Equal(t, "1 of 2 images ready, 1 failed", summary)

	stored := h.record(t, "run-4")
	assert.Equal(t, 2, stored.ImagesTotal)
	assert.Equal(t, 1, stored.ImagesFailed)
}

func TestRunSkipsUnconfiguredPools(t *testing.T) {
	h := newHarness(t, textsource.NewMock(), false)
	rec := &emitter.Recorder{}
	_, err := h.runner.Run(context.Background(), "run-np", Request{Prompt: "Birds", Media: DefaultMedia()}, rec)
	require.NoError(t, err)

	var reasons []string
	for _, m := range rec.ByType(emitter.TypeProgress) {
		if strings.HasPrefix(m.Code, "skipped:") {
			reasons = append(reasons, m.Message)
		}
	}
	assert.Equal(t, []string{"Image generation is not configured", "Voice narration is not configured"}, reasons)
}

func TestRunFatalErrors(t *testing.T) {
	cases := []struct {
		name    string
		src     *textsource.Mock
		code    string
		content string
	}{
		{
			name: "transport",
			src:  &textsource.Mock{Content: `{"title":"Cut`, Err: errors.New("connection reset")},
			code: CodeTransport,
		},
		{
			name:    "parse",
			src:     &textsource.Mock{Content: "I am unable to design that lesson."},
			code:    CodeParse,
			content: "I am unable to design that lesson.",
		},
		{
			name: "validation",
			src:  &textsource.Mock{Content: `{"description":"no title here"}`},
			code: CodeValidation,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.src, true)
			rec := &emitter.Recorder{}
			res, err := h.runner.Run(context.Background(), "run-"+tc.name, Request{Prompt: "x", Media: DefaultMedia()}, rec)
			require.Error(t, err)

			var runErr *RunError
			require.True(t, errors.As(err, &runErr))
			assert.Equal(t, tc.code, runErr.Code)
			assert.Equal(t, emitter.PhaseError, res.Phase)
			assert.Nil(t, res.Plan)

			msgs := rec.Messages()
			term := terminals(msgs)
			require.Len(t, term, 1)
			last := msgs[len(msgs)-1]
			assert.Equal(t, emitter.TypeError, last.Type)
			assert.Equal(t, tc.code, last.Code)
			assert.Equal(t, tc.content, last.Content)
			assert.False(t, replay(t, msgs).Has(emitter.HeaderID))

			stored := h.record(t, "run-"+tc.name)
			assert.Equal(t, runs.StatusFailed, stored.Status)
			assert.Equal(t, tc.code, stored.ErrorCode)
		})
	}
}

func TestRunCancelledStillSendsTerminal(t *testing.T) {
	h := newHarness(t, textsource.NewMock(), true)
	rec := &emitter.Recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.runner.Run(ctx, "run-c", Request{Prompt: "x", Media: DefaultMedia()}, rec)
	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, CodeCancelled, runErr.Code)

	msgs := rec.Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, emitter.TypeError, msgs[len(msgs)-1].Type)
	assert.Equal(t, CodeCancelled, msgs[len(msgs)-1].Code)
}

func TestRequestValidate(t *testing.T) {
	r := Request{Prompt: "   "}
	assert.ErrorIs(t, r.Validate(), ErrEmptyPrompt)

	r = Request{Prompt: strings.Repeat("a", maxPromptRunes+1)}
	assert.ErrorIs(t, r.Validate(), ErrLongPrompt)

	r = Request{Prompt: "  trees ", Domain: " science "}
	require.NoError(t, r.Validate())
	assert.Equal(t, "trees", r.Prompt)
	assert.Equal(t, "science", r.Domain)
}

func TestMediaPatch(t *testing.T) {
	off := false
	p := &MediaPatch{EnableVoice: &off}
	m := p.Apply(DefaultMedia())
	assert.True(t, m.EnableImage)
	assert.False(t, m.EnableVoice)
	assert.True(t, m.EnableSoundEffect)

	var nilPatch *MediaPatch
	assert.Equal(t, DefaultMedia(), nilPatch.Apply(DefaultMedia()))
}

func TestServiceRunsInBackground(t *testing.T) {
	h := newHarness(t, &textsource.Mock{Chunk: 32}, true)
	hub := push.NewHub(nil, push.Config{})
	svc := NewService(nil, h.runner, hub, nil, "node-a")

	id, err := svc.Start(Request{Prompt: "Volcanoes", Media: DefaultMedia()})
	require.NoError(t, err)
	require.True(t, hub.Has(id))

	require.Eventually(t, func() bool {
		_, _, finished := hub.Subscribe(id, 0)
		return finished
	}, 5*time.Second, 10*time.Millisecond)

	_, replayed, _ := hub.Subscribe(id, 0)
	require.NotEmpty(t, replayed)
	assert.Equal(t, emitter.TypeComplete, replayed[len(replayed)-1].Type)
	assert.False(t, svc.Cancel("nope"))

	require.NoError(t, svc.Shutdown(context.Background()))
	_, err = svc.Start(Request{Prompt: "again"})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestServiceCancel(t *testing.T) {
	h := newHarness(t, &textsource.Mock{Chunk: 1, Delay: 5 * time.Millisecond}, true)
	hub := push.NewHub(nil, push.Config{})
	svc := NewService(nil, h.runner, hub, nil, "")

	id, err := svc.Start(Request{Prompt: "Slow", Media: DefaultMedia()})
	require.NoError(t, err)
	require.True(t, svc.Cancel(id))

	require.Eventually(t, func() bool {
		_, _, finished := hub.Subscribe(id, 0)
		return finished
	}, 5*time.Second, 10*time.Millisecond)
	_, replayed, _ := hub.Subscribe(id, 0)
	last := replayed[len(replayed)-1]
	assert.Equal(t, emitter.TypeError, last.Type)
	assert.Equal(t, CodeCancelled, last.Code)
	require.NoError(t, svc.Shutdown(context.Background()))
}

func TestServiceStreamValidates(t *testing.T) {
	h := newHarness(t, textsource.NewMock(), true)
	svc := NewService(nil, h.runner, push.NewHub(nil, push.Config{}), nil, "")
	_, err := svc.Stream(context.Background(), NewRunID(), Request{}, &emitter.Recorder{})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestServiceStreamOutlivesCaller(t *testing.T) {
	h := newHarness(t, &textsource.Mock{Chunk: 16}, true)
	svc := NewService(nil, h.runner, push.NewHub(nil, push.Config{}), nil, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	id := NewRunID()
	rec := &emitter.Recorder{}
	res, err := svc.Stream(ctx, id, Request{Prompt: "Rivers", Media: DefaultMedia()}, rec)
	require.NoError(t, err)
	assert.Equal(t, emitter.PhaseComplete, res.Phase)
	assert.Len(t, rec.ByType(emitter.TypeComplete), 1)
	assert.Empty(t, rec.ByType(emitter.TypeError))
	assert.Equal(t, runs.StatusCompleted, h.record(t, id).Status)
	require.NoError(t, svc.Shutdown(context.Background()))
}

func TestServiceStreamCancelledByShutdown(t *testing.T) {
	h := newHarness(t, &textsource.Mock{Chunk: 1, Delay: 5 * time.Millisecond}, true)
	svc := NewService(nil, h.runner, push.NewHub(nil, push.Config{}), nil, "")

	rec := &emitter.Recorder{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Stream(context.Background(), NewRunID(), Request{Prompt: "Slow", Media: DefaultMedia()}, rec)
	}()
	require.Eventually(t, func() bool { return len(rec.Messages()) > 0 }, 5*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, svc.Shutdown(ctx), context.Canceled)
	<-done
	errs := rec.ByType(emitter.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, CodeCancelled, errs[0].Code)
}
