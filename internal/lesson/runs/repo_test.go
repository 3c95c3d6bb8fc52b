package runs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yungbote/lessonstream/internal/platform/dbctx"
	"github.com/yungbote/lessonstream/internal/platform/logger"
)

func exerciseRepo(t *testing.T, repo Repo) {
	t.Helper()
	dbc := dbctx.New(context.Background())
	id := uuid.NewString()

	got, err := repo.Get(dbc, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Create(dbc, &RunRecord{ID: id, Prompt: "colors", Status: StatusRunning, Phase: "init"}))
	finished := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.UpdateFields(dbc, id, map[string]interface{}{
		"status":        StatusCompleted,
		"phase":         "complete",
		"repair_stage":  "structural",
		"images_total":  2,
		"images_failed": 1,
		"plan":          datatypes.JSON(`{"title":"Colors"}`),
		"finished_at":   finished,
	}))

	got, err = repo.Get(dbc, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "structural", got.RepairStage)
	assert.Equal(t, 2, got.ImagesTotal)
	assert.Equal(t, 1, got.ImagesFailed)
	assert.JSONEq(t, `{"title":"Colors"}`, string(got.Plan))
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(finished))

	assert.Error(t, repo.Create(dbc, &RunRecord{}))
}

func TestMemoryRepo(t *testing.T) {
	exerciseRepo(t, NewMemoryRepo())
}

func TestMemoryRepoRejectsWrongTypes(t *testing.T) {
	m := NewMemoryRepo()
	dbc := dbctx.New(context.Background())
	require.NoError(t, m.Create(dbc, &RunRecord{ID: "a"}))
	assert.Error(t, m.UpdateFields(dbc, "a", map[string]interface{}{"images_total": "2"}))
	assert.Error(t, m.UpdateFields(dbc, "a", map[string]interface{}{"bogus": 1}))
}

func TestSQLiteRepo(t *testing.T) {
	db, err := Open(logger.Nop(), DriverSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	exerciseRepo(t, NewRepo(db, logger.Nop()))
}

func TestOpenDrivers(t *testing.T) {
	db, err := Open(logger.Nop(), DriverNone, "")
	require.NoError(t, err)
	assert.Nil(t, db)

	_, err = Open(logger.Nop(), "mongo", "")
	assert.Error(t, err)
}
