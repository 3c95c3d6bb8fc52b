// Package trace keeps the reasoning text of each run and mirrors run
// messages between service instances over Redis.
package trace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	goredis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "lesson:thinking:"
	DefaultTTL = time.Hour
)

var ErrNotFound = errors.New("thinking trace not found")

func Key(runID string) string { return keyPrefix + runID }

// Store persists the reasoning of a run for later inspection.
type Store interface {
	Save(ctx context.Context, runID, thinking string) error
	Get(ctx context.Context, runID string) (string, error)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient dials and pings Redis.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*goredis.Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

type RedisStore struct {
	rdb *goredis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *goredis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, runID, thinking string) error {
	if err := s.rdb.Set(ctx, Key(runID), thinking, s.ttl).Err(); err != nil {
		return fmt.Errorf("save thinking trace: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, runID string) (string, error) {
	val, err := s.rdb.Get(ctx, Key(runID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get thinking trace: %w", err)
	}
	return val, nil
}

// MemoryStore is the single-instance fallback used when Redis is not configured.
type MemoryStore struct {
	cache *expirable.LRU[string, string]
}

func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{cache: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (s *MemoryStore) Save(_ context.Context, runID, thinking string) error {
	s.cache.Add(Key(runID), thinking)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, runID string) (string, error) {
	if v, ok := s.cache.Get(Key(runID)); ok {
		return v, nil
	}
	return "", ErrNotFound
}
