package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/lessonstream/internal/lesson/emitter"
	"github.com/yungbote/lessonstream/internal/lesson/pipeline"
	"github.com/yungbote/lessonstream/internal/lesson/textsource"
)

func mockConfig(t *testing.T) Config {
	t.Helper()
	clearCompatEnv(t)
	t.Setenv("LESSON_TEXT_PROVIDER", "mock")
	t.Setenv("LESSON_LOG_MODE", "production")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	return cfg
}

func TestNewWiresMockApp(t *testing.T) {
	a, err := New(mockConfig(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Services.Bus)
	require.NotNil(t, a.Services.Lessons)
	require.NoError(t, a.Start())

	rec := httptest.NewRecorder()
	a.Server.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.Server.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := mockConfig(t)
	cfg.HTTP.Addr = "127.0.0.1:0"
	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.Run(ctx))
}

func TestGeneratorRunsMockPipeline(t *testing.T) {
	cfg := mockConfig(t)
	g, err := NewGenerator(cfg)
	require.NoError(t, err)
	t.Cleanup(g.Close)

	rec := &emitter.Recorder{}
	res, err := g.Runner.Run(context.Background(), pipeline.NewRunID(), pipeline.Request{Prompt: "Clouds", Media: pipeline.DefaultMedia()}, rec)
	require.NoError(t, err)
	assert.Equal(t, emitter.PhaseComplete, res.Phase)
	// no credentials configured, so both enrichment kinds are skipped
	assert.Len(t, rec.ByType(emitter.TypeImageReady), 0)
}

func TestNewTextSource(t *testing.T) {
	src, err := NewTextSource(TextConfig{Provider: ProviderMock})
	require.NoError(t, err)
	assert.IsType(t, &textsource.Mock{}, src)

	src, err = NewTextSource(TextConfig{Provider: ProviderOpenAICompat, BaseURL: "https://api.example.com/v1", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &textsource.OpenAICompat{}, src)

	src, err = NewTextSource(TextConfig{Provider: ProviderAnthropic, APIKey: "k", Model: "claude-test"})
	require.NoError(t, err)
	assert.IsType(t, &textsource.Anthropic{}, src)

	_, err = NewTextSource(TextConfig{Provider: ProviderAnthropic})
	assert.Error(t, err)
	_, err = NewTextSource(TextConfig{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestOriginAllower(t *testing.T) {
	assert.Nil(t, originAllower(nil))
	allow := originAllower([]string{"https://a.example"})
	assert.True(t, allow("https://a.example"))
	assert.False(t, allow("https://evil.example"))
}
