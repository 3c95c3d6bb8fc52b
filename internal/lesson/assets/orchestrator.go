package assets

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/lessonstream/internal/platform/logger"
)

const (
	minConcurrency = 1
	maxConcurrency = 8

	defaultImageTimeout = 90 * time.Second
	defaultAudioTimeout = 45 * time.Second
)

type Config struct {
	// MaxConcurrency is clamped to 1..8 per batch.
	MaxConcurrency int
	ImageTimeout   time.Duration
	AudioTimeout   time.Duration
}

// JobObserver is told about every finished job, for metrics.
type JobObserver func(Job)

type Orchestrator struct {
	log     *logger.Logger
	store   *Store
	cfg     Config
	observe JobObserver
}

func NewOrchestrator(log *logger.Logger, store *Store, cfg Config, observe JobObserver) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.MaxConcurrency < minConcurrency {
		cfg.MaxConcurrency = minConcurrency
	}
	if cfg.MaxConcurrency > maxConcurrency {
		cfg.MaxConcurrency = maxConcurrency
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = defaultImageTimeout
	}
	if cfg.AudioTimeout <= 0 {
		cfg.AudioTimeout = defaultAudioTimeout
	}
	if store == nil {
		store = NewStore(0, 0, "")
	}
	return &Orchestrator{
		log:     log.With("component", "AssetOrchestrator"),
		store:   store,
		cfg:     cfg,
		observe: observe,
	}
}

func (o *Orchestrator) Store() *Store { return o.store }

// Batch is the set of jobs of one kind started together.
type Batch struct {
	Kind Kind
	jobs []*Job
	done chan struct{}
}

// Wait blocks until every job in the batch finished or ctx is done. Jobs keep
// running when ctx ends first.
func (b *Batch) Wait(ctx context.Context) ([]Job, error) {
	select {
	case <-b.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	out := make([]Job, len(b.jobs))
	for i, j := range b.jobs {
		out[i] = *j
	}
	return out, nil
}

// Done is closed once every job finished.
func (b *Batch) Done() <-chan struct{} { return b.done }

func (b *Batch) Len() int { return len(b.jobs) }

// Succeeded lists finished jobs with a URL, in request order.
func Succeeded(jobs []Job) []Job {
	var out []Job
	for _, j := range jobs {
		if j.Status == StatusSucceeded {
			out = append(out, j)
		}
	}
	return out
}

// StartImages issues one job per spec and returns immediately. onDone, when
// set, is called once per job from the job's goroutine.
func (o *Orchestrator) StartImages(ctx context.Context, gen ImageGenerator, specs []ImageSpec, onDone func(Job)) *Batch {
	jobs := make([]*Job, 0, len(specs))
	for _, s := range specs {
		jobs = append(jobs, &Job{ID: s.ID, Kind: KindImage, Input: s.Prompt, Status: StatusPending})
	}
	return o.start(ctx, KindImage, jobs, o.cfg.ImageTimeout, func(ctx context.Context, input string) (Asset, error) {
		return gen.GenerateImage(ctx, input)
	}, onDone)
}

func (o *Orchestrator) StartAudio(ctx context.Context, synth SpeechSynthesizer, specs []AudioSpec, onDone func(Job)) *Batch {
	jobs := make([]*Job, 0, len(specs))
	for _, s := range specs {
		jobs = append(jobs, &Job{ID: s.ID, Kind: KindAudio, Input: s.Text, Status: StatusPending})
	}
	return o.start(ctx, KindAudio, jobs, o.cfg.AudioTimeout, func(ctx context.Context, input string) (Asset, error) {
		return synth.Synthesize(ctx, input)
	}, onDone)
}

type generateFunc func(ctx context.Context, input string) (Asset, error)

func (o *Orchestrator) start(ctx context.Context, kind Kind, jobs []*Job, timeout time.Duration, gen generateFunc, onDone func(Job)) *Batch {
	b := &Batch{Kind: kind, jobs: jobs, done: make(chan struct{})}

	// jobs outlive the caller's cancellation and are bounded by their own timeout
	jobCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(b.done)
		var g errgroup.Group
		g.SetLimit(o.cfg.MaxConcurrency)
		for _, j := range jobs {
			j := j
			g.Go(func() error {
				o.run(jobCtx, j, timeout, gen)
				if o.observe != nil {
					o.observe(*j)
				}
				if onDone != nil {
					onDone(*j)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
	return b
}

func (o *Orchestrator) run(ctx context.Context, j *Job, timeout time.Duration, gen generateFunc) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	asset, err := safeGenerate(cctx, gen, j.Input)
	j.Duration = time.Since(start)

	if err == nil {
		switch {
		case asset.URL != "":
			j.URL = asset.URL
		case len(asset.Data) > 0:
			_, j.URL = o.store.Put(asset)
		default:
			err = ErrEmptyAsset
		}
	}
	if err != nil {
		j.Status = StatusFailed
		j.URL = ""
		j.Err = &JobError{JobID: j.ID, Kind: j.Kind, Err: err}
		o.log.Warn("asset job failed", "job_id", j.ID, "kind", j.Kind, "duration_ms", j.Duration.Milliseconds(), "error", err)
		return
	}
	j.Status = StatusSucceeded
	o.log.Info("asset job succeeded", "job_id", j.ID, "kind", j.Kind, "duration_ms", j.Duration.Milliseconds())
}

func safeGenerate(ctx context.Context, gen generateFunc, input string) (asset Asset, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generator panic: %v", r)
		}
	}()
	return gen(ctx, input)
}
