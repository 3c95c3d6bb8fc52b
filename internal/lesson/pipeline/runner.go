// Package pipeline drives one lesson run end to end: it streams the plan,
// repairs and normalizes it, emits the lesson tree and joins the enrichment
// jobs before completing.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/yungbote/lessonstream/internal/lesson/aggregator"
	"github.com/yungbote/lessonstream/internal/lesson/assets"
	"github.com/yungbote/lessonstream/internal/lesson/emitter"
	"github.com/yungbote/lessonstream/internal/lesson/enrich"
	"github.com/yungbote/lessonstream/internal/lesson/plan"
	"github.com/yungbote/lessonstream/internal/lesson/prompt"
	"github.com/yungbote/lessonstream/internal/lesson/repair"
	"github.com/yungbote/lessonstream/internal/lesson/runs"
	"github.com/yungbote/lessonstream/internal/lesson/textsource"
	"github.com/yungbote/lessonstream/internal/lesson/trace"
	"github.com/yungbote/lessonstream/internal/observability"
	"github.com/yungbote/lessonstream/internal/platform/dbctx"
	"github.com/yungbote/lessonstream/internal/platform/logger"
)

// TextSettings are the model parameters applied to every planning request.
type TextSettings struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Deps are the collaborators of a Runner. Traces, Runs and Metrics are optional.
type Deps struct {
	Log     *logger.Logger
	Source  textsource.Source
	Catalog *prompt.Catalog
	Repair  *repair.Engine
	Assets  *assets.Orchestrator
	Pools   enrich.Pools
	Traces  trace.Store
	Runs    runs.Repo
	Metrics *observability.Metrics

	Text        TextSettings
	FailTimeout time.Duration
	Clock       func() time.Time
}

type Runner struct {
	log     *logger.Logger
	source  textsource.Source
	catalog *prompt.Catalog
	repair  *repair.Engine
	assets  *assets.Orchestrator
	pools   enrich.Pools
	traces  trace.Store
	runs    runs.Repo
	metrics *observability.Metrics
	text    TextSettings
	failTTL time.Duration
	now     func() time.Time
}

func NewRunner(d Deps) (*Runner, error) {
	if d.Source == nil {
		return nil, errors.New("pipeline: text source is required")
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Catalog == nil {
		c, err := prompt.Load("")
		if err != nil {
			return nil, fmt.Errorf("pipeline: load prompt catalog: %w", err)
		}
		d.Catalog = c
	}
	if d.Repair == nil {
		m := d.Metrics
		d.Repair = repair.New(d.Log, repair.WithObserver(func(s repair.StageName) { m.ObserveRepair(string(s)) }))
	}
	if d.Assets == nil {
		d.Assets = assets.NewOrchestrator(d.Log, nil, assets.Config{}, nil)
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return &Runner{
		log:     d.Log.With("service", "LessonRunner"),
		source:  d.Source,
		catalog: d.Catalog,
		repair:  d.Repair,
		assets:  d.Assets,
		pools:   d.Pools,
		traces:  d.Traces,
		runs:    d.Runs,
		metrics: d.Metrics,
		text:    d.Text,
		failTTL: d.FailTimeout,
		now:     d.Clock,
	}, nil
}

func (r *Runner) Catalog() *prompt.Catalog { return r.catalog }

// Result summarizes a finished run.
type Result struct {
	RunID       string
	Phase       emitter.Phase
	RepairStage repair.StageName
	Plan        *plan.Plan
	Images      []assets.Job
	Audio       []assets.Job
	Tree        *emitter.Node
}

// Run executes one run, delivering every message to sink. It always attempts
// a terminal message; a run that ended in an error message returns *RunError.
func (r *Runner) Run(ctx context.Context, runID string, req Request, sink emitter.Sink) (*Result, error) {
	log := r.log.With("run_id", runID)
	started := r.now()
	r.metrics.RunStarted()

	ctx, span := observability.Tracer().Start(ctx, "lesson.run", oteltrace.WithAttributes(
		attribute.String("lesson.run_id", runID),
		attribute.String("lesson.domain", req.Domain),
		attribute.String("lesson.age_group", req.AgeGroup),
		attribute.Bool("lesson.media.image", req.Media.EnableImage),
		attribute.Bool("lesson.media.voice", req.Media.EnableVoice),
		attribute.Bool("lesson.media.sfx", req.Media.EnableSoundEffect),
		attribute.Bool("lesson.media.demo", req.Media.Demo),
	))
	defer span.End()

	em := emitter.New(sink, emitter.WithLogger(log), emitter.WithFailTimeout(r.failTTL), emitter.WithClock(r.now))
	res := &Result{RunID: runID}
	r.ledgerCreate(ctx, log, runID, req)

	err := r.run(ctx, log, em, req, res)
	res.Phase = em.Phase()
	res.Tree = em.Snapshot()
	elapsed := r.now().Sub(started)

	if err == nil {
		log.Info("lesson run complete", "duration_ms", elapsed.Milliseconds(), "repair_stage", res.RepairStage)
		r.metrics.RunFinished("complete", elapsed)
		span.SetStatus(otelcodes.Ok, "")
		r.ledgerUpdate(ctx, log, runID, map[string]interface{}{
			"status":      runs.StatusCompleted,
			"phase":       res.Phase.String(),
			"finished_at": r.now(),
		})
		return res, nil
	}

	f := classify(ctx, err)
	if f.code == CodeParse {
		r.metrics.IncRepairExhausted()
	}
	if sendErr := em.Fail(ctx, f.code, f.message, f.content); sendErr != nil && !errors.Is(sendErr, emitter.ErrTerminated) {
		log.Warn("terminal error message not delivered", "error", sendErr)
	}
	res.Phase = em.Phase()
	log.Warn("lesson run failed", "code", f.code, "error", err, "duration_ms", elapsed.Milliseconds())
	r.metrics.RunFinished(f.code, elapsed)
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, f.code)
	r.ledgerUpdate(ctx, log, runID, map[string]interface{}{
		"status":      runs.StatusFailed,
		"phase":       res.Phase.String(),
		"error_code":  f.code,
		"error":       err.Error(),
		"finished_at": r.now(),
	})
	return res, &RunError{Code: f.code, Err: err}
}

func (r *Runner) run(ctx context.Context, log *logger.Logger, em *emitter.Emitter, req Request, res *Result) error {
	if err := em.Skeleton(ctx); err != nil {
		return err
	}
	_ = em.Progress(ctx, "Designing your lesson")

	visible, err := r.streamPlan(ctx, log, em, req, res.RunID)
	if err != nil {
		return err
	}

	_ = em.Progress(ctx, "Assembling the lesson plan")
	p, stage, err := r.parsePlan(ctx, visible, req)
	if err != nil {
		return err
	}
	res.Plan, res.RepairStage = p, stage
	r.ledgerUpdate(ctx, log, res.RunID, map[string]interface{}{
		"phase":        emitter.PhasePlanLoaded.String(),
		"repair_stage": string(stage),
		"plan":         planJSON(p),
	})

	band := r.catalog.Band(p.AgeGroup)
	if err := em.TitleCard(ctx, p, r.catalog.DomainLabel(p.Domain), band.Label); err != nil {
		return err
	}
	if err := em.Objectives(ctx, p.Objectives); err != nil {
		return err
	}

	pool := r.pools.Select(req.Media.Demo)
	images, err := r.startImages(ctx, em, p, req.Media, pool)
	if err != nil {
		return err
	}
	narrations := emitter.Narrations(p)
	audio, err := r.startAudio(ctx, em, narrations, req.Media, pool)
	if err != nil {
		return err
	}
	sfx := req.Media.EnableSoundEffect
	if !sfx {
		if err := em.Skipped(ctx, emitter.CodeSkippedSoundEffect, "Sound effects are turned off"); err != nil {
			return err
		}
	}

	if err := em.Activities(ctx, p.Activities, sfx); err != nil {
		return err
	}
	if err := em.Scoreboard(ctx, p.Duration, sfx); err != nil {
		return err
	}

	if images != nil {
		jobs, err := r.joinImages(ctx, em, p, images)
		if err != nil {
			return err
		}
		res.Images = jobs
	}
	if audio != nil {
		jobs, err := r.joinAudio(ctx, em, audio)
		if err != nil {
			return err
		}
		res.Audio = jobs
	}
	r.ledgerUpdate(ctx, log, res.RunID, map[string]interface{}{
		"images_total":  len(res.Images),
		"images_failed": len(res.Images) - len(assets.Succeeded(res.Images)),
		"audio_total":   len(res.Audio),
		"audio_failed":  len(res.Audio) - len(assets.Succeeded(res.Audio)),
	})

	return em.Complete(ctx, "Your lesson is ready")
}

// streamPlan forwards reasoning as thinking messages and returns the visible text.
func (r *Runner) streamPlan(ctx context.Context, log *logger.Logger, em *emitter.Emitter, req Request, runID string) (string, error) {
	ctx, span := observability.Tracer().Start(ctx, "lesson.stream")
	defer span.End()

	preq, err := r.catalog.Build(prompt.Input{Prompt: req.Prompt, Domain: req.Domain, AgeGroup: req.AgeGroup})
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}
	preq.Model = r.text.Model
	preq.Temperature = r.text.Temperature
	preq.MaxTokens = r.text.MaxTokens

	agg := aggregator.New()
	deltas := 0
	err = r.source.Stream(ctx, preq, func(d textsource.Delta) error {
		deltas++
		return em.Thinking(ctx, agg.Push(d).Thinking)
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("stream plan: %w", err)
	}
	if err := em.Thinking(ctx, agg.Finish().Thinking); err != nil {
		return "", err
	}
	if agg.Unterminated() {
		log.Warn("reasoning block left open at end of stream")
	}
	visible := agg.Visible()
	span.SetAttributes(attribute.Int("lesson.stream.deltas", deltas), attribute.Int("lesson.stream.visible_bytes", len(visible)))
	log.Debug("plan stream finished", "deltas", deltas, "visible_bytes", len(visible))

	if r.traces != nil {
		if thinking := agg.Thinking(); thinking != "" {
			if err := r.traces.Save(ctx, runID, thinking); err != nil {
				log.Warn("save reasoning trace failed", "error", err)
			}
		}
	}
	return visible, nil
}

func (r *Runner) parsePlan(ctx context.Context, visible string, req Request) (*plan.Plan, repair.StageName, error) {
	_, span := observability.Tracer().Start(ctx, "lesson.repair")
	defer span.End()

	fixed, err := r.repair.Repair(visible)
	if err != nil {
		span.RecordError(err)
		return nil, "", err
	}
	span.SetAttributes(attribute.String("lesson.repair.stage", string(fixed.Stage)))
	raw, err := plan.Decode([]byte(fixed.Text))
	if err != nil {
		return nil, fixed.Stage, &plan.ValidationError{Field: "plan", Reason: err.Error()}
	}
	p, err := plan.Normalize(raw, plan.Defaults{Domain: req.Domain, AgeGroup: req.AgeGroup})
	if err != nil {
		return nil, fixed.Stage, err
	}
	return p, fixed.Stage, nil
}

func (r *Runner) startImages(ctx context.Context, em *emitter.Emitter, p *plan.Plan, media Media, pool enrich.Pool) (*assets.Batch, error) {
	switch {
	case !media.EnableImage:
		return nil, em.Skipped(ctx, emitter.CodeSkippedImage, "Image generation is turned off")
	case len(p.Images) == 0:
		return nil, em.Skipped(ctx, emitter.CodeSkippedImage, "The plan requested no images")
	case pool.Images == nil:
		return nil, em.Skipped(ctx, emitter.CodeSkippedImage, "Image generation is not configured")
	}
	if err := em.MediaPlaceholders(ctx, p.Images); err != nil {
		return nil, err
	}
	specs := make([]assets.ImageSpec, 0, len(p.Images))
	for _, img := range p.Images {
		specs = append(specs, assets.ImageSpec{ID: img.ID, Prompt: img.Prompt})
	}
	_ = em.Progress(ctx, fmt.Sprintf("Generating %d images", len(specs)))
	return r.assets.StartImages(ctx, pool.Images, specs, func(j assets.Job) {
		if j.Status != assets.StatusSucceeded {
			return
		}
		// late results after a terminal message are discarded
		if err := em.ImageReady(ctx, j.ID, j.URL); err != nil && !errors.Is(err, emitter.ErrTerminated) {
			r.log.Debug("image_ready not delivered", "image_id", j.ID, "error", err)
		}
	}), nil
}

func (r *Runner) startAudio(ctx context.Context, em *emitter.Emitter, narrations []emitter.Narration, media Media, pool enrich.Pool) (*assets.Batch, error) {
	switch {
	case !media.EnableVoice:
		return nil, em.Skipped(ctx, emitter.CodeSkippedVoice, "Voice narration is turned off")
	case pool.Speech == nil:
		return nil, em.Skipped(ctx, emitter.CodeSkippedVoice, "Voice narration is not configured")
	}
	if err := em.AudioPlaceholder(ctx, narrations); err != nil {
		return nil, err
	}
	specs := make([]assets.AudioSpec, 0, len(narrations))
	for _, n := range narrations {
		specs = append(specs, assets.AudioSpec{ID: n.ID, Text: n.Text})
	}
	return r.assets.StartAudio(ctx, pool.Speech, specs, nil), nil
}

func (r *Runner) joinImages(ctx context.Context, em *emitter.Emitter, p *plan.Plan, b *assets.Batch) ([]assets.Job, error) {
	jobs, err := b.Wait(ctx)
	if err != nil {
		return nil, err
	}
	captions := make(map[string]string, len(p.Images))
	for _, img := range p.Images {
		captions[img.ID] = img.Description
	}
	ok := assets.Succeeded(jobs)
	slides := make([]emitter.Slide, 0, len(ok))
	for _, j := range ok {
		slides = append(slides, emitter.Slide{ImageID: j.ID, URL: j.URL, Caption: captions[j.ID]})
	}
	if err := em.ImagesJoined(ctx, slides); err != nil {
		return nil, err
	}
	_ = em.Progress(ctx, joinSummary("images", len(ok), len(jobs)))
	return jobs, nil
}

func (r *Runner) joinAudio(ctx context.Context, em *emitter.Emitter, b *assets.Batch) ([]assets.Job, error) {
	jobs, err := b.Wait(ctx)
	if err != nil {
		return nil, err
	}
	ok := assets.Succeeded(jobs)
	urls := make(map[string]string, len(ok))
	for _, j := range ok {
		urls[j.ID] = j.URL
	}
	if err := em.AudioJoined(ctx, urls); err != nil {
		return nil, err
	}
	_ = em.Progress(ctx, joinSummary("narration clips", len(ok), len(jobs)))
	return jobs, nil
}

func joinSummary(what string, ok, total int) string {
	if failed := total - ok; failed > 0 {
		return fmt.Sprintf("%d of %d %s ready, %d failed", ok, total, what, failed)
	}
	return fmt.Sprintf("%d %s ready", ok, what)
}

func planJSON(p *plan.Plan) datatypes.JSON {
	b, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// Ledger writes never fail a run.
func (r *Runner) ledgerCreate(ctx context.Context, log *logger.Logger, runID string, req Request) {
	if r.runs == nil {
		return
	}
	rec := &runs.RunRecord{
		ID:       runID,
		Prompt:   req.Prompt,
		Domain:   req.Domain,
		AgeGroup: req.AgeGroup,
		Demo:     req.Media.Demo,
		Status:   runs.StatusRunning,
		Phase:    emitter.PhaseInit.String(),
	}
	if err := r.runs.Create(dbctx.New(context.WithoutCancel(ctx)), rec); err != nil {
		log.Warn("create run record failed", "error", err)
	}
}

func (r *Runner) ledgerUpdate(ctx context.Context, log *logger.Logger, runID string, fields map[string]interface{}) {
	if r.runs == nil {
		return
	}
	if err := r.runs.UpdateFields(dbctx.New(context.WithoutCancel(ctx)), runID, fields); err != nil {
		log.Warn("update run record failed", "error", err, "fields", len(fields))
	}
}
