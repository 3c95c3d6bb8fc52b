package app

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/lessonstream/internal/lesson/enrich"
	"github.com/yungbote/lessonstream/internal/lesson/textsource"
	"github.com/yungbote/lessonstream/internal/lesson/trace"
	"github.com/yungbote/lessonstream/internal/platform/logger"
)

type Clients struct {
	Redis *goredis.Client
	Text  textsource.Source
	Pools enrich.Pools
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	// Redis
	var rdb *goredis.Client
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		c, err := trace.NewRedisClient(ctx, trace.RedisConfig{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			return Clients{}, fmt.Errorf("init redis: %w", err)
		}
		rdb = c
	}

	// Text source
	text, err := NewTextSource(cfg.Text)
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return Clients{}, fmt.Errorf("init text source: %w", err)
	}

	// Enrichment pools
	pools, err := enrich.NewPools(backendConfig(cfg.Enrich, cfg.Enrich.Demo), backendConfig(cfg.Enrich, cfg.Enrich.Tenant))
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return Clients{}, fmt.Errorf("init enrichment pools: %w", err)
	}
	log.Info("Clients ready",
		"text_provider", cfg.Text.Provider,
		"redis", rdb != nil,
		"demo_pool", pools.Demo.Images != nil,
		"tenant_pool", pools.Tenant.Images != nil,
	)
	return Clients{Redis: rdb, Text: text, Pools: pools}, nil
}

// NewTextSource builds the configured planning model client.
func NewTextSource(cfg TextConfig) (textsource.Source, error) {
	switch cfg.Provider {
	case ProviderMock:
		return textsource.NewMock(), nil
	case ProviderAnthropic:
		s, err := textsource.NewAnthropic(textsource.AnthropicConfig{
			BaseURL:        cfg.BaseURL,
			APIKey:         cfg.APIKey,
			Model:          cfg.Model,
			ThinkingBudget: cfg.ThinkingBudget,
			Timeout:        cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case ProviderOpenAICompat:
		s, err := textsource.NewOpenAICompat(textsource.OpenAICompatConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown text provider %q", cfg.Provider)
	}
}

func backendConfig(e EnrichConfig, pool PoolConfig) enrich.BackendConfig {
	return enrich.BackendConfig{
		BaseURL:     pool.BaseURL,
		APIKey:      pool.APIKey,
		ImageModel:  e.ImageModel,
		ImageSize:   e.ImageSize,
		SpeechModel: e.SpeechModel,
		Voice:       e.Voice,
		Speed:       e.Speed,
	}
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
