package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/lessonstream/internal/lesson/runs"
	"github.com/yungbote/lessonstream/internal/platform/logger"
)

type Repos struct {
	Runs runs.Repo
}

// wireRepos falls back to an in-memory ledger when no database is configured.
func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	if db == nil {
		return Repos{Runs: runs.NewMemoryRepo()}
	}
	return Repos{Runs: runs.NewRepo(db, log)}
}
