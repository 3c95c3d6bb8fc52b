// Package emitter turns a lesson plan into an ordered stream of UI-mutation
// messages. The server keeps a mirror of the client tree; applying a message
// to it and handing the message to the sink happen under one lock, so every
// consumer observes mutations in emission order.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yungbote/lessonstream/internal/lesson/plan"
	"github.com/yungbote/lessonstream/internal/platform/logger"
)

type Phase int

const (
	PhaseInit Phase = iota
	PhaseSkeleton
	PhasePlanLoaded
	PhaseObjectivesLoaded
	PhaseActivitiesLoaded
	PhaseScoreboardLoaded
	PhaseComplete
	PhaseError
)

var phaseNames = [...]string{"init", "skeleton", "plan_loaded", "objectives_loaded", "activities_loaded", "scoreboard_loaded", "complete", "error"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) Terminal() bool { return p == PhaseComplete || p == PhaseError }

// AssetClass groups asset jobs joined together.
type AssetClass string

const (
	ClassImages AssetClass = "images"
	ClassAudio  AssetClass = "audio"
)

const (
	CodeSkippedImage       = "skipped:image"
	CodeSkippedVoice       = "skipped:voice"
	CodeSkippedSoundEffect = "skipped:sound_effect"
)

var (
	ErrTerminated      = errors.New("stream already terminated")
	ErrPhase           = errors.New("invalid phase transition")
	ErrPending         = errors.New("asset class still pending")
	ErrNotPending      = errors.New("asset class not pending")
	ErrAlreadyPlaced   = errors.New("asset placeholder already emitted")
	ErrUnknownActivity = errors.New("unknown activity type")
)

const defaultFailTimeout = 3 * time.Second

type Option func(*Emitter)

func WithClock(now func() time.Time) Option {
	return func(e *Emitter) { e.now = now }
}

func WithLogger(log *logger.Logger) Option {
	return func(e *Emitter) {
		if log != nil {
			e.log = log.With("component", "Emitter")
		}
	}
}

// WithFailTimeout bounds delivery of the terminal error message after the
// run context is gone.
func WithFailTimeout(d time.Duration) Option {
	return func(e *Emitter) {
		if d > 0 {
			e.failTimeout = d
		}
	}
}

type Emitter struct {
	mu          sync.Mutex
	sink        Sink
	tree        *Tree
	phase       Phase
	seq         int64
	placed      map[AssetClass]bool
	pending     map[AssetClass]bool
	narrations  []Narration
	now         func() time.Time
	log         *logger.Logger
	failTimeout time.Duration
}

func New(sink Sink, opts ...Option) *Emitter {
	e := &Emitter{
		sink:        sink,
		tree:        NewTree(),
		placed:      map[AssetClass]bool{},
		pending:     map[AssetClass]bool{},
		now:         time.Now,
		log:         logger.Nop(),
		failTimeout: defaultFailTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Emitter) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Snapshot returns a copy of the current tree.
func (e *Emitter) Snapshot() *Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.Snapshot()
}

func (e *Emitter) Pending(c AssetClass) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending[c]
}

// send must be called with mu held.
func (e *Emitter) send(ctx context.Context, m Message) error {
	if m.Type == TypeComponent {
		if err := e.tree.Apply(m); err != nil {
			return err
		}
	}
	e.seq++
	m.Seq = e.seq
	m.Timestamp = e.now().UTC()
	return e.sink.Send(ctx, m)
}

func (e *Emitter) advance(from, to Phase) error {
	if e.phase.Terminal() {
		return ErrTerminated
	}
	if e.phase != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrPhase, from, to, e.phase)
	}
	e.phase = to
	return nil
}

func (e *Emitter) Skeleton(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.advance(PhaseInit, PhaseSkeleton); err != nil {
		return err
	}
	return e.send(ctx, Message{
		Type:      TypeComponent,
		Action:    ActionReplace,
		TargetID:  RootID,
		Component: pageContainer("Preparing your lesson", "The lesson plan is being written"),
	})
}

// TitleCard rebuilds the page container around the plan header.
func (e *Emitter) TitleCard(ctx context.Context, p *plan.Plan, domainLabel, ageLabel string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.advance(PhaseSkeleton, PhasePlanLoaded); err != nil {
		return err
	}
	return e.send(ctx, Message{
		Type:      TypeComponent,
		Action:    ActionReplace,
		TargetID:  RootID,
		Component: pageContainer(p.Title, p.Description, headerCard(p, domainLabel, ageLabel)),
	})
}

func (e *Emitter) Objectives(ctx context.Context, objectives []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.advance(PhasePlanLoaded, PhaseObjectivesLoaded); err != nil {
		return err
	}
	return e.send(ctx, Message{
		Type:      TypeComponent,
		Action:    ActionAppend,
		TargetID:  PageContainerID,
		Component: objectivesCard(objectives),
	})
}

func (e *Emitter) placeholder(c AssetClass) error {
	if e.phase.Terminal() {
		return ErrTerminated
	}
	if e.phase < PhasePlanLoaded {
		return fmt.Errorf("%w: %s placeholder in %s", ErrPhase, c, e.phase)
	}
	if e.placed[c] {
		return fmt.Errorf("%w: %s", ErrAlreadyPlaced, c)
	}
	return nil
}

// MediaPlaceholders appends the gallery with one placeholder slide per
// image and marks images pending.
func (e *Emitter) MediaPlaceholders(ctx context.Context, images []plan.ImageRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.placeholder(ClassImages); err != nil {
		return err
	}
	slides := make([]Slide, 0, len(images))
	for _, img := range images {
		slides = append(slides, Slide{ImageID: img.ID, URL: placeholderSVG("Generating image..."), Caption: img.Description})
	}
	if err := e.send(ctx, Message{
		Type:      TypeComponent,
		Action:    ActionAppend,
		TargetID:  PageContainerID,
		Component: mediaCard(carousel(slides, false)),
	}); err != nil {
		return err
	}
	e.placed[ClassImages], e.pending[ClassImages] = true, true
	return nil
}

// AudioPlaceholder appends the narration section with every clip pending.
func (e *Emitter) AudioPlaceholder(ctx context.Context, narrations []Narration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.placeholder(ClassAudio); err != nil {
		return err
	}
	clips := make([]Clip, 0, len(narrations))
	for _, n := range narrations {
		clips = append(clips, Clip{Narration: n})
	}
	if err := e.send(ctx, Message{
		Type:      TypeComponent,
		Action:    ActionAppend,
		TargetID:  PageContainerID,
		Component: audioCard(clips),
	}); err != nil {
		return err
	}
	e.narrations = append([]Narration(nil), narrations...)
	e.placed[ClassAudio], e.pending[ClassAudio] = true, true
	return nil
}

// Activities appends one card per activity. All cards are built before the
// first is sent, so an unknown activity type emits nothing.
func (e *Emitter) Activities(ctx context.Context, activities []plan.Activity, sfx bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase.Terminal() {
		return ErrTerminated
	}
	if e.phase != PhaseObjectivesLoaded {
		return fmt.Errorf("%w: activities in %s", ErrPhase, e.phase)
	}
	cards := make([]*Node, 0, len(activities))
	for i, a := range activities {
		card, err := activityCard(i, a, sfx)
		if err != nil {
			return err
		}
		cards = append(cards, card)
	}
	e.phase = PhaseActivitiesLoaded
	for _, card := range cards {
		if err := e.send(ctx, Message{Type: TypeComponent, Action: ActionAppend, TargetID: PageContainerID, Component: card}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Emitter) Scoreboard(ctx context.Context, durationMinutes int, sfx bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.advance(PhaseActivitiesLoaded, PhaseScoreboardLoaded); err != nil {
		return err
	}
	return e.send(ctx, Message{
		Type:      TypeComponent,
		Action:    ActionAppend,
		TargetID:  PageContainerID,
		Component: scoreBoard(durationMinutes, sfx),
	})
}

func (e *Emitter) requirePending(c AssetClass) error {
	if e.phase.Terminal() {
		return ErrTerminated
	}
	if !e.pending[c] {
		return fmt.Errorf("%w: %s", ErrNotPending, c)
	}
	return nil
}

// ImageReady announces one finished image ahead of the gallery join.
func (e *Emitter) ImageReady(ctx context.Context, imageID, url string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requirePending(ClassImages); err != nil {
		return err
	}
	return e.send(ctx, Message{Type: TypeImageReady, ImageID: imageID, ImageURL: url, Message: "Image ready"})
}

// ImagesJoined rewrites the gallery with the successful slides only.
func (e *Emitter) ImagesJoined(ctx context.Context, slides []Slide) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requirePending(ClassImages); err != nil {
		return err
	}
	e.pending[ClassImages] = false
	return e.send(ctx, Message{
		Type:      TypeComponent,
		Action:    ActionUpdate,
		TargetID:  MediaID,
		Component: mediaCard(carousel(slides, true)),
	})
}

// AudioJoined rewrites the narration section with synthesized URLs keyed by
// narration id. Missing ids are marked failed.
func (e *Emitter) AudioJoined(ctx context.Context, urls map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requirePending(ClassAudio); err != nil {
		return err
	}
	clips := make([]Clip, 0, len(e.narrations))
	for _, n := range e.narrations {
		u := urls[n.ID]
		clips = append(clips, Clip{Narration: n, URL: u, Failed: u == ""})
	}
	e.pending[ClassAudio] = false
	return e.send(ctx, Message{
		Type:      TypeComponent,
		Action:    ActionUpdate,
		TargetID:  AudioID,
		Component: audioCard(clips),
	})
}

func (e *Emitter) notice(ctx context.Context, m Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase.Terminal() {
		return ErrTerminated
	}
	return e.send(ctx, m)
}

func (e *Emitter) Progress(ctx context.Context, msg string) error {
	return e.notice(ctx, Message{Type: TypeProgress, Message: msg})
}

// Skipped reports an enrichment that was not attempted.
func (e *Emitter) Skipped(ctx context.Context, code, msg string) error {
	return e.notice(ctx, Message{Type: TypeProgress, Code: code, Message: msg})
}

func (e *Emitter) Thinking(ctx context.Context, content string) error {
	if content == "" {
		return nil
	}
	return e.notice(ctx, Message{Type: TypeThinking, Content: content})
}

func (e *Emitter) Complete(ctx context.Context, msg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase.Terminal() {
		return ErrTerminated
	}
	if e.phase != PhaseScoreboardLoaded {
		return fmt.Errorf("%w: complete from %s", ErrPhase, e.phase)
	}
	for c, p := range e.pending {
		if p {
			return fmt.Errorf("%w: %s", ErrPending, c)
		}
	}
	e.phase = PhaseComplete
	return e.send(ctx, Message{Type: TypeComplete, Message: msg})
}

// Fail sends the terminal error. Delivery is detached from ctx so a
// cancelled run still reports why it stopped.
func (e *Emitter) Fail(ctx context.Context, code, msg, content string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase.Terminal() {
		return ErrTerminated
	}
	from := e.phase
	e.phase = PhaseError
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.failTimeout)
	defer cancel()
	err := e.send(sendCtx, Message{Type: TypeError, Code: code, Message: msg, Content: content})
	if err != nil {
		e.log.Warn("terminal error not delivered", "code", code, "phase", from.String(), "error", err)
	}
	return err
}
