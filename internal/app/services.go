package app

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/yungbote/lessonstream/internal/lesson/assets"
	"github.com/yungbote/lessonstream/internal/lesson/pipeline"
	"github.com/yungbote/lessonstream/internal/lesson/prompt"
	"github.com/yungbote/lessonstream/internal/lesson/push"
	"github.com/yungbote/lessonstream/internal/lesson/repair"
	"github.com/yungbote/lessonstream/internal/lesson/trace"
	"github.com/yungbote/lessonstream/internal/observability"
	"github.com/yungbote/lessonstream/internal/platform/logger"
)

type Services struct {
	Store   *assets.Store
	Assets  *assets.Orchestrator
	Traces  trace.Store
	Hub     *push.Hub
	Bus     trace.Bus
	Runner  *pipeline.Runner
	Lessons *pipeline.Service
}

func wireServices(log *logger.Logger, cfg Config, clients Clients, repos Repos, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	runner, store, traces, err := wireRunner(log, cfg, clients, repos, metrics)
	if err != nil {
		return Services{}, err
	}

	hub := push.NewHub(log, push.Config{
		ClientBuffer: cfg.Push.ClientBuffer,
		History:      cfg.Push.History,
		Heartbeat:    cfg.Push.Heartbeat,
		Retention:    cfg.Push.Retention,
	})

	var bus trace.Bus
	if clients.Redis != nil {
		b, err := trace.NewRedisBus(log, clients.Redis, cfg.Redis.Channel)
		if err != nil {
			return Services{}, fmt.Errorf("init run bus: %w", err)
		}
		bus = b
	}

	return Services{
		Store:   store,
		Traces:  traces,
		Hub:     hub,
		Bus:     bus,
		Runner:  runner,
		Lessons: pipeline.NewService(log, runner, hub, bus, nodeOrigin()),
	}, nil
}

// wireRunner builds the pipeline and the stores it writes to. The CLI uses
// it directly without the push layer.
func wireRunner(log *logger.Logger, cfg Config, clients Clients, repos Repos, metrics *observability.Metrics) (*pipeline.Runner, *assets.Store, trace.Store, error) {
	catalog, err := prompt.Load(cfg.Prompt.CatalogPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load prompt catalog: %w", err)
	}

	store := assets.NewStore(cfg.Assets.CacheSize, cfg.Assets.TTL, cfg.Assets.PublicBaseURL)
	orchestrator := assets.NewOrchestrator(log, store, assets.Config{
		MaxConcurrency: cfg.Enrich.MaxConcurrency,
		ImageTimeout:   cfg.Enrich.ImageTimeout,
		AudioTimeout:   cfg.Enrich.AudioTimeout,
	}, func(j assets.Job) {
		metrics.ObserveAssetJob(string(j.Kind), string(j.Status), j.Duration)
	})

	var traces trace.Store
	if clients.Redis != nil {
		traces = trace.NewRedisStore(clients.Redis, cfg.Redis.TraceTTL)
	} else {
		traces = trace.NewMemoryStore(cfg.Assets.CacheSize, cfg.Redis.TraceTTL)
	}

	engine := repair.New(log, repair.WithObserver(func(s repair.StageName) {
		metrics.ObserveRepair(string(s))
	}))

	runner, err := pipeline.NewRunner(pipeline.Deps{
		Log:     log,
		Source:  clients.Text,
		Catalog: catalog,
		Repair:  engine,
		Assets:  orchestrator,
		Pools:   clients.Pools,
		Traces:  traces,
		Runs:    repos.Runs,
		Metrics: metrics,
		Text: pipeline.TextSettings{
			Model:       cfg.Text.Model,
			Temperature: cfg.Text.Temperature,
			MaxTokens:   cfg.Text.MaxTokens,
		},
		FailTimeout: cfg.Pipeline.FailTimeout,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return runner, store, traces, nil
}

func nodeOrigin() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}
