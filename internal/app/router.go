package app

import (
	server "github.com/yungbote/lessonstream/internal/http"
	"github.com/yungbote/lessonstream/internal/observability"
	"github.com/yungbote/lessonstream/internal/platform/logger"
)

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, middleware Middleware, metrics *observability.Metrics) *server.Server {
	serviceName := ""
	if cfg.Otel.Enabled {
		serviceName = cfg.Otel.ServiceName
	}
	return server.NewServer(server.ServerConfig{
		Addr:              cfg.HTTP.Addr,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}, server.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		MetricsPath:     cfg.Metrics.Path,
		ServiceName:     serviceName,
		CORSOrigins:     cfg.HTTP.CORSOrigins,
		MaxBodyBytes:    cfg.HTTP.MaxBodyBytes,
		AuthMiddleware:  middleware.Auth,
		LessonHandler:   handlers.Lesson,
		RealtimeHandler: handlers.Realtime,
		AssetHandler:    handlers.Asset,
		HealthHandler:   handlers.Health,
	})
}
