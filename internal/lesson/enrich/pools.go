package enrich

import (
	"github.com/openai/openai-go/option"

	"github.com/yungbote/lessonstream/internal/lesson/assets"
)

// Pool is one credential set. A nil generator means the pool has no backend
// for that asset kind.
type Pool struct {
	Images assets.ImageGenerator
	Speech assets.SpeechSynthesizer
}

// Pools holds the two interchangeable credential sets.
type Pools struct {
	Demo   Pool
	Tenant Pool
}

func (p Pools) Select(demo bool) Pool {
	if demo {
		return p.Demo
	}
	return p.Tenant
}

// NewPool builds a pool from cfg. An unconfigured cfg yields an empty pool.
func NewPool(cfg BackendConfig, extra ...option.RequestOption) (Pool, error) {
	if !cfg.Configured() {
		return Pool{}, nil
	}
	b, err := NewBackend(cfg, extra...)
	if err != nil {
		return Pool{}, err
	}
	return Pool{Images: b, Speech: b}, nil
}

func NewPools(demo, tenant BackendConfig, extra ...option.RequestOption) (Pools, error) {
	d, err := NewPool(demo, extra...)
	if err != nil {
		return Pools{}, err
	}
	t, err := NewPool(tenant, extra...)
	if err != nil {
		return Pools{}, err
	}
	return Pools{Demo: d, Tenant: t}, nil
}
