package assets

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultStoreSize = 256
	defaultStoreTTL  = time.Hour
)

// Store keeps generated bytes in a bounded cache with a TTL. It is not
// durable.
type Store struct {
	cache   *expirable.LRU[string, Asset]
	baseURL string
}

func NewStore(size int, ttl time.Duration, publicBaseURL string) *Store {
	if size <= 0 {
		size = defaultStoreSize
	}
	if ttl <= 0 {
		ttl = defaultStoreTTL
	}
	return &Store{
		cache:   expirable.NewLRU[string, Asset](size, nil, ttl),
		baseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
	}
}

// Put stores a and returns its id and serving URL.
func (s *Store) Put(a Asset) (string, string) {
	id := uuid.NewString()
	if a.ContentType == "" {
		a.ContentType = "application/octet-stream"
	}
	a.URL = s.URLFor(id)
	s.cache.Add(id, a)
	return id, a.URL
}

func (s *Store) Get(id string) (Asset, bool) {
	return s.cache.Get(id)
}

func (s *Store) URLFor(id string) string {
	return s.baseURL + "/api/assets/" + id
}

func (s *Store) Len() int { return s.cache.Len() }
