package app

import (
	"context"

	"gorm.io/gorm"

	httpH "github.com/yungbote/lessonstream/internal/http/handlers"
	"github.com/yungbote/lessonstream/internal/lesson/push"
	"github.com/yungbote/lessonstream/internal/observability"
	"github.com/yungbote/lessonstream/internal/platform/logger"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	Lesson   *httpH.LessonHandler
	Realtime *httpH.RealtimeHandler
	Asset    *httpH.AssetHandler
}

func wireHandlers(log *logger.Logger, cfg Config, db *gorm.DB, clients Clients, services Services, repos Repos, metrics *observability.Metrics) Handlers {
	log.Info("Wiring handlers...")
	checks := map[string]httpH.Check{}
	if clients.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return clients.Redis.Ping(ctx).Err() }
	}
	if db != nil {
		checks["ledger"] = func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	return Handlers{
		Health:   httpH.NewHealthHandler(checks),
		Lesson:   httpH.NewLessonHandler(log, services.Lessons, repos.Runs, services.Traces, metrics, cfg.Pipeline.SinkBuffer),
		Realtime: httpH.NewRealtimeHandler(log, services.Hub, repos.Runs, push.NewUpgrader(originAllower(cfg.HTTP.CORSOrigins))),
		Asset:    httpH.NewAssetHandler(services.Store),
	}
}

// originAllower accepts the configured CORS origins; no list accepts all.
func originAllower(origins []string) func(string) bool {
	if len(origins) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(origin string) bool { return allowed[origin] }
}
