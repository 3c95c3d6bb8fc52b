package runs

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/lessonstream/internal/platform/dbctx"
	"github.com/yungbote/lessonstream/internal/platform/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverNone     = "none"
)

// Repo stores run records. Get returns nil, nil for an unknown id.
type Repo interface {
	Create(dbc dbctx.Context, rec *RunRecord) error
	UpdateFields(dbc dbctx.Context, id string, updates map[string]interface{}) error
	Get(dbc dbctx.Context, id string) (*RunRecord, error)
}

// Open connects to the ledger database and migrates it. DriverNone returns nil.
func Open(log *logger.Logger, driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	case DriverNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", driver)
	}

	log.Info("Connecting to run ledger...", "driver", driver)
	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Error("Failed to connect to run ledger", "error", err)
		return nil, fmt.Errorf("connect run ledger: %w", err)
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("migrate run ledger: %w", err)
	}
	return db, nil
}

type runRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRepo(db *gorm.DB, baseLog *logger.Logger) Repo {
	return &runRepo{db: db, log: baseLog.With("repo", "RunRepo")}
}

func (r *runRepo) Create(dbc dbctx.Context, rec *RunRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("run record id required")
	}
	return dbc.DB(r.db).Create(rec).Error
}

func (r *runRepo) UpdateFields(dbc dbctx.Context, id string, updates map[string]interface{}) error {
	if id == "" || len(updates) == 0 {
		return nil
	}
	return dbc.DB(r.db).Model(&RunRecord{}).Where("id = ?", id).Updates(updates).Error
}

func (r *runRepo) Get(dbc dbctx.Context, id string) (*RunRecord, error) {
	var rec RunRecord
	err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, nil
	}
	return &rec, nil
}

// MemoryRepo keeps records in process for deployments without a database.
type MemoryRepo struct {
	mu   sync.RWMutex
	recs map[string]*RunRecord
	now  func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{recs: map[string]*RunRecord{}, now: time.Now}
}

func (m *MemoryRepo) Create(_ dbctx.Context, rec *RunRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("run record id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[rec.ID]; ok {
		return fmt.Errorf("run %s already exists", rec.ID)
	}
	cp := *rec
	now := m.now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.recs[rec.ID] = &cp
	return nil
}

func (m *MemoryRepo) UpdateFields(_ dbctx.Context, id string, updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil
	}
	for k, v := range updates {
		if err := applyField(rec, k, v); err != nil {
			return err
		}
	}
	rec.UpdatedAt = m.now()
	return nil
}

func (m *MemoryRepo) Get(_ dbctx.Context, id string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	cp.Plan = append(cp.Plan[:0:0], rec.Plan...)
	return &cp, nil
}
