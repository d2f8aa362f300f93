// similarity.go — поиск похожих записей по косинусной близости.
//
// Для каждой строки запроса: embedding текста, ранжирование всех документов
// текущего поколения коллекции, topN лучших. Результаты по строкам
// конкатенируются в порядке запроса. Порядок при равных оценках определяется
// хранилищем и между запусками не гарантируется.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Mockaj/ai-service/internal/collection"
	"github.com/Mockaj/ai-service/internal/docstore"
	"github.com/Mockaj/ai-service/internal/domain/model"
	"github.com/Mockaj/ai-service/internal/embedding"
)

// Prometheus-метрики поиска.
var (
	similaritySearchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ais_similarity_search_total",
		Help: "Количество поисковых запросов по коллекции и результату.",
	}, []string{"collection", "outcome"})

	similaritySearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ais_similarity_search_duration_seconds",
		Help:    "Длительность одного поиска похожих записей.",
		Buckets: prometheus.DefBuckets,
	})
)

const (
	// MaxQueryLength — максимальная длина строки запроса в символах.
	MaxQueryLength = 1000
	// MaxTopN — верхняя граница top_n (index.max_result_window Elasticsearch).
	MaxTopN = 10000
)

// SimilarityService — поиск похожих записей.
type SimilarityService struct {
	store    docstore.Store
	embedder embedding.Provider
	registry *collection.Registry
	logger   *slog.Logger
}

// NewSimilarityService создаёт сервис поиска.
func NewSimilarityService(
	store docstore.Store,
	embedder embedding.Provider,
	registry *collection.Registry,
	logger *slog.Logger,
) *SimilarityService {
	return &SimilarityService{
		store:    store,
		embedder: embedder,
		registry: registry,
		logger:   logger.With(slog.String("component", "similarity")),
	}
}

// Search выполняет поиск для каждой строки queries и возвращает объединённый результат.
// Пустой результат — не ошибка.
func (s *SimilarityService) Search(ctx context.Context, name string, queries []string, topN int) ([]model.SimilarRecord, error) {
	if topN < 1 || topN > MaxTopN {
		return nil, fmt.Errorf("%w: top_n должен быть в диапазоне 1..%d, получено %d", ErrInvalidArgument, MaxTopN, topN)
	}
	for i, q := range queries {
		if strings.TrimSpace(q) == "" {
			return nil, fmt.Errorf("%w: query[%d] пустой", ErrInvalidArgument, i)
		}
		if len([]rune(q)) > MaxQueryLength {
			return nil, fmt.Errorf("%w: query[%d] длиннее %d символов", ErrInvalidArgument, i, MaxQueryLength)
		}
	}

	index, err := resolveCollection(ctx, s.store, s.registry, name, false)
	if err != nil {
		return nil, err
	}

	result := make([]model.SimilarRecord, 0, len(queries))
	for _, q := range queries {
		found, err := s.searchOne(ctx, name, index, q, topN)
		if err != nil {
			similaritySearchTotal.WithLabelValues(name, "error").Inc()
			return nil, err
		}
		similaritySearchTotal.WithLabelValues(name, "success").Inc()
		result = append(result, found...)
	}
	return result, nil
}

func (s *SimilarityService) searchOne(ctx context.Context, name, index, text string, topN int) ([]model.SimilarRecord, error) {
	start := time.Now()
	defer func() { similaritySearchDuration.Observe(time.Since(start).Seconds()) }()

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding запроса: %w", err)
	}

	hits, err := s.store.Search(ctx, index, vector, topN)
	if err != nil {
		return nil, fmt.Errorf("поиск в %s: %w", index, err)
	}

	records := make([]model.SimilarRecord, 0, len(hits))
	for _, h := range hits {
		records = append(records, model.SimilarRecord{Record: h.Record, Score: h.Score})
	}

	s.logger.Debug("Поиск похожих записей выполнен",
		slog.String("collection", name),
		slog.String("index", index),
		slog.Int("top_n", topN),
		slog.Int("found", len(records)),
	)
	return records, nil
}
