package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/lessonstream/internal/http/handlers"
	httpMW "github.com/yungbote/lessonstream/internal/http/middleware"
	"github.com/yungbote/lessonstream/internal/http/response"
	"github.com/yungbote/lessonstream/internal/observability"
	"github.com/yungbote/lessonstream/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	MetricsPath    string
	ServiceName    string
	CORSOrigins    []string
	MaxBodyBytes   int64
	AuthMiddleware *httpMW.AuthMiddleware

	LessonHandler   *httpH.LessonHandler
	RealtimeHandler *httpH.RealtimeHandler
	AssetHandler    *httpH.AssetHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	// Assets are fetched by <img> and <audio> tags, which carry no token.
	if cfg.AssetHandler != nil {
		api.GET("/assets/:id", cfg.AssetHandler.Get)
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		if cfg.LessonHandler != nil {
			lessons := protected.Group("/lessons")
			lessons.Use(httpMW.BodyLimit(cfg.MaxBodyBytes))
			lessons.POST("/stream", cfg.LessonHandler.Stream)
			lessons.POST("/runs", cfg.LessonHandler.StartRun)
			lessons.GET("/runs/:id", cfg.LessonHandler.GetRun)
			lessons.DELETE("/runs/:id", cfg.LessonHandler.CancelRun)
			lessons.GET("/runs/:id/thinking", cfg.LessonHandler.Thinking)
		}

		// Realtime (SSE / WebSocket)
		if cfg.RealtimeHandler != nil {
			protected.GET("/lessons/runs/:id/events", cfg.RealtimeHandler.Events)
			protected.GET("/lessons/runs/:id/ws", cfg.RealtimeHandler.WebSocket)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "route not found")
	})
	return r
}
