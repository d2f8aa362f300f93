// collections.go — листинг коллекций и проверка внешних зависимостей.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mockaj/ai-service/internal/collection"
	"github.com/Mockaj/ai-service/internal/docstore"
	"github.com/Mockaj/ai-service/internal/embedding"
)

// MonitoringSuccess — значение поля мониторинга для доступной зависимости.
const MonitoringSuccess = "success"

// MonitoringStatus — результат проверки хранилища и провайдера эмбеддингов.
type MonitoringStatus struct {
	Elastic   string `json:"elastic"`
	AIService string `json:"ai-service"`
}

// CollectionService — представление коллекций для внешних клиентов.
type CollectionService struct {
	store        docstore.Store
	embedder     embedding.Provider
	registry     *collection.Registry
	probeTimeout time.Duration
	logger       *slog.Logger
}

// NewCollectionService создаёт сервис коллекций.
func NewCollectionService(
	store docstore.Store,
	embedder embedding.Provider,
	registry *collection.Registry,
	logger *slog.Logger,
) *CollectionService {
	return &CollectionService{
		store:        store,
		embedder:     embedder,
		registry:     registry,
		probeTimeout: 5 * time.Second,
		logger:       logger.With(slog.String("component", "collections")),
	}
}

// List возвращает логические имена production-коллекций в порядке конфигурации.
// Ошибка, если индекс хотя бы одной коллекции отсутствует.
func (s *CollectionService) List(ctx context.Context) ([]string, error) {
	prod := s.registry.Production()
	names := make([]string, 0, len(prod))
	for _, c := range prod {
		if _, err := resolveCollection(ctx, s.store, s.registry, c.Name, true); err != nil {
			return nil, fmt.Errorf("коллекция %s: %w", c.Name, err)
		}
		names = append(names, c.Name)
	}
	return names, nil
}

// Monitoring проверяет доступность хранилища и провайдера эмбеддингов.
func (s *CollectionService) Monitoring(ctx context.Context) MonitoringStatus {
	return MonitoringStatus{
		Elastic:   s.probe(ctx, "хранилище", s.store.Ping),
		AIService: s.probe(ctx, "сервис эмбеддингов", s.embedder.Ping),
	}
}

func (s *CollectionService) probe(ctx context.Context, name string, ping func(context.Context) error) string {
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	if err := ping(ctx); err != nil {
		s.logger.Warn("Зависимость недоступна",
			slog.String("dependency", name),
			slog.String("error", err.Error()),
		)
		return fmt.Sprintf("an error has occurred while connecting: %v", err)
	}
	return MonitoringSuccess
}
