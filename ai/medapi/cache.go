package medapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hrygo/medisense/ai/cache"
)

// DefaultFactTTL is how long provider answers are reused.
const DefaultFactTTL = 24 * time.Hour

// FactCache stores encoded provider answers.
type FactCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// MemoryCache is an in-process FactCache.
type MemoryCache struct {
	lru *cache.LRUCache[string, []byte]
}

// NewMemoryCache creates an in-process cache holding at most capacity answers.
func NewMemoryCache(capacity int) *MemoryCache {
	return &MemoryCache{lru: cache.NewLRUCache[string, []byte](capacity, DefaultFactTTL)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.lru.Get(key)
	return v, ok, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.lru.Set(key, value, ttl)
	return nil
}

// RedisCache is a FactCache shared across processes.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "medisense:fact:"}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, value, ttl).Err()
}

// CachedSource decorates a FactSource with a FactCache. Cache failures are logged and
// never turn into lookup failures; lookup errors are never cached.
type CachedSource struct {
	next     FactSource
	cache    FactCache
	ttl      time.Duration
	observer CacheObserver
}

// CacheObserver is told whether each lookup was served from the cache.
type CacheObserver interface {
	ObserveFactCache(hit bool)
}

// WithObserver sets the observer and returns s.
func (s *CachedSource) WithObserver(o CacheObserver) *CachedSource {
	s.observer = o
	return s
}

func (s *CachedSource) observe(hit bool) {
	if s.observer != nil {
		s.observer.ObserveFactCache(hit)
	}
}

// NewCachedSource wraps next. A non-positive ttl uses DefaultFactTTL.
func NewCachedSource(next FactSource, c FactCache, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = DefaultFactTTL
	}
	return &CachedSource{next: next, cache: c, ttl: ttl}
}

func cached[T any](ctx context.Context, s *CachedSource, key string, fetch func() (T, error)) (T, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if data, ok, err := s.cache.Get(ctx, key); err != nil {
		slog.Warn("medapi: cache read failed", "key", key, "error", err)
	} else if ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			s.observe(true)
			return v, nil
		}
	}
	s.observe(false)

	v, err := fetch()
	if err != nil {
		return v, err
	}
	if data, err := json.Marshal(v); err == nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			slog.Warn("medapi: cache write failed", "key", key, "error", err)
		}
	}
	return v, nil
}

func (s *CachedSource) DrugLabel(ctx context.Context, name string) (*DrugLabel, error) {
	return cached(ctx, s, "label:"+name, func() (*DrugLabel, error) { return s.next.DrugLabel(ctx, name) })
}

func (s *CachedSource) DrugInteractions(ctx context.Context, name string) (*DrugInteractions, error) {
	return cached(ctx, s, "interactions:"+name, func() (*DrugInteractions, error) { return s.next.DrugInteractions(ctx, name) })
}

func (s *CachedSource) RxNorm(ctx context.Context, name string) (*RxNormResult, error) {
	return cached(ctx, s, "rxnorm:"+name, func() (*RxNormResult, error) { return s.next.RxNorm(ctx, name) })
}

func (s *CachedSource) SearchLiterature(ctx context.Context, query string, limit int) ([]Article, error) {
	return cached(ctx, s, "pubmed:"+strconv.Itoa(limit)+":"+query, func() ([]Article, error) {
		return s.next.SearchLiterature(ctx, query, limit)
	})
}

func (s *CachedSource) ICD10(ctx context.Context, term string) ([]ICD10Code, error) {
	return cached(ctx, s, "icd10:"+term, func() ([]ICD10Code, error) { return s.next.ICD10(ctx, term) })
}

func (s *CachedSource) Nutrition(ctx context.Context, food string) (*Nutrition, error) {
	return cached(ctx, s, "usda:"+food, func() (*Nutrition, error) { return s.next.Nutrition(ctx, food) })
}
