package embedding

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша эмбеддингов.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ais_embedding_cache_hits_total",
		Help: "Общее количество попаданий в кэш эмбеддингов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ais_embedding_cache_misses_total",
		Help: "Общее количество промахов кэша эмбеддингов.",
	})
)

// Cached — провайдер с LRU-кэшем векторов и TTL.
// Повторные запросы поиска и повторная синхронизация той же записи
// не обращаются к сервису эмбеддингов.
type Cached struct {
	inner Provider
	cache *expirable.LRU[string, []float32]
}

var _ Provider = (*Cached)(nil)

// NewCached оборачивает провайдер кэшем на maxSize записей с временем жизни ttl.
func NewCached(inner Provider, maxSize int, ttl time.Duration) *Cached {
	return &Cached{
		inner: inner,
		cache: expirable.NewLRU[string, []float32](maxSize, nil, ttl),
	}
}

// Embed возвращает вектор из кэша или запрашивает его у провайдера.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.cache.Get(text); ok {
		cacheHitsTotal.Inc()
		return slices.Clone(vec), nil
	}
	cacheMissesTotal.Inc()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, slices.Clone(vec))
	return vec, nil
}

// Ping делегирует проверку провайдеру.
func (c *Cached) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}

// Len возвращает количество векторов в кэше.
func (c *Cached) Len() int {
	return c.cache.Len()
}
