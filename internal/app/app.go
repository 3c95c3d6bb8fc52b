package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	server "github.com/yungbote/lessonstream/internal/http"
	"github.com/yungbote/lessonstream/internal/lesson/pipeline"
	"github.com/yungbote/lessonstream/internal/lesson/push"
	"github.com/yungbote/lessonstream/internal/lesson/runs"
	"github.com/yungbote/lessonstream/internal/observability"
	"github.com/yungbote/lessonstream/internal/platform/logger"
)

// Version is stamped at build time.
var Version = "dev"

type App struct {
	Log      *logger.Logger
	Cfg      Config
	DB       *gorm.DB
	Metrics  *observability.Metrics
	Clients  Clients
	Repos    Repos
	Services Services
	Server   *server.Server

	shutdownOtel func(context.Context) error
	cancel       context.CancelFunc
}

func New(cfg Config) (*App, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.Otel.Enabled,
		ServiceName: cfg.Otel.ServiceName,
		Environment: cfg.Env,
		Version:     Version,
		Endpoint:    cfg.Otel.Endpoint,
		Headers:     observability.ParseHeaders(cfg.Otel.Headers),
		Insecure:    cfg.Otel.Insecure,
		SampleRatio: cfg.Otel.SampleRatio,
	})

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.MustNewMetrics(nil)
	}

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	db, err := runs.Open(log, cfg.Ledger.Driver, cfg.Ledger.DSN)
	if err != nil {
		clients.Close()
		log.Sync()
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	reposet := wireRepos(db, log)

	serviceset, err := wireServices(log, cfg, clients, reposet, metrics)
	if err != nil {
		clients.Close()
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, cfg, db, clients, serviceset, reposet, metrics)
	middleware := wireMiddleware(log, cfg)
	srv := wireServer(log, cfg, handlerset, middleware, metrics)

	return &App{
		Log:          log,
		Cfg:          cfg,
		DB:           db,
		Metrics:      metrics,
		Clients:      clients,
		Repos:        reposet,
		Services:     serviceset,
		Server:       srv,
		shutdownOtel: shutdownOtel,
	}, nil
}

// Start launches background work: the cross-node forwarder when a bus is configured.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Services.Bus != nil {
		if err := a.Services.Bus.StartForwarder(ctx, push.Forward(a.Services.Hub, a.Services.Lessons.Origin())); err != nil {
			return fmt.Errorf("start run forwarder: %w", err)
		}
	}
	return nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	if err := a.Start(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("HTTP server listening", "addr", a.Server.Addr())
		errCh <- a.Server.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.Log.Info("Shutting down...")
	timeout := a.Cfg.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	// runs first, so their terminal messages still reach connected streams
	if err := a.Services.Lessons.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("drain lesson runs: %w", err))
	}
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := <-errCh; err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.Bus != nil {
		_ = a.Services.Bus.Close()
	}
	a.Clients.Close()
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.shutdownOtel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.shutdownOtel(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

// Generator is the pipeline without the HTTP and push layers, for one-shot runs.
type Generator struct {
	Log    *logger.Logger
	Runner *pipeline.Runner
	close  func()
}

func NewGenerator(cfg Config) (*Generator, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	clients, err := wireClients(context.Background(), log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	runner, _, _, err := wireRunner(log, cfg, clients, Repos{}, nil)
	if err != nil {
		clients.Close()
		log.Sync()
		return nil, err
	}
	return &Generator{Log: log, Runner: runner, close: func() {
		clients.Close()
		log.Sync()
	}}, nil
}

func (g *Generator) Close() {
	if g != nil && g.close != nil {
		g.close()
	}
}
