package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mockaj/ai-service/internal/collection"
	"github.com/Mockaj/ai-service/internal/config"
	"github.com/Mockaj/ai-service/internal/database"
	"github.com/Mockaj/ai-service/internal/docstore"
	"github.com/Mockaj/ai-service/internal/docstore/elastic"
	"github.com/Mockaj/ai-service/internal/docstore/memstore"
	"github.com/Mockaj/ai-service/internal/embedding"
	"github.com/Mockaj/ai-service/internal/repository"
	"github.com/Mockaj/ai-service/internal/service"
	"github.com/Mockaj/ai-service/internal/source"
)

// app — зависимости, общие для serve и reindex.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	registry     *collection.Registry
	store        docstore.Store
	embedder     embedding.Provider
	source       source.Source
	pool         *pgxpool.Pool
	orchestrator *service.ReindexOrchestrator
}

// loadConfig загружает конфигурацию и настраивает логгер.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("загрузка конфигурации: %w", err)
	}
	return cfg, config.SetupLogger(cfg), nil
}

// newApp создаёт клиентов внешних систем и оркестратор пересборки.
// При ошибке уже открытые подключения закрываются.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// 1. Реестр коллекций
	a.registry, err = collection.NewRegistry(cfg.CollectionPrefix, cfg.Collections, cfg.TestCollection)
	if err != nil {
		return nil, fmt.Errorf("реестр коллекций: %w", err)
	}

	// 2. Документное хранилище
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		a.store = memstore.New()
		logger.Warn("Используется in-memory хранилище, данные не сохраняются между запусками")
	default:
		a.store, err = elastic.New(elastic.Config{
			Addresses:   cfg.ESAddresses,
			CloudID:     cfg.ESCloudID,
			APIKey:      cfg.ESAPIKey,
			Username:    cfg.ESUsername,
			Password:    cfg.ESPassword,
			CACertPath:  cfg.ESCACertPath,
			BulkWorkers: cfg.ReindexWorkers,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("клиент Elasticsearch: %w", err)
		}
	}

	// 3. Провайдер эмбеддингов: HTTP-клиент → rate limit → LRU-кэш
	var embedder embedding.Provider = embedding.NewClient(embedding.Config{
		URL:        cfg.EmbedURL,
		Model:      cfg.EmbedModel,
		Dimension:  cfg.EmbedDimension,
		Timeout:    cfg.EmbedTimeout,
		MaxRetries: cfg.EmbedMaxRetries,
	}, logger)
	if cfg.EmbedRateLimit > 0 {
		embedder = embedding.NewRateLimited(embedder, cfg.EmbedRateLimit)
	}
	if cfg.EmbedCacheSize > 0 {
		embedder = embedding.NewCached(embedder, cfg.EmbedCacheSize, cfg.EmbedCacheTTL)
	}
	a.embedder = embedder

	// 4. Система-источник (белый список — production-коллекции)
	a.source, err = source.New(ctx, source.Config{
		Driver:   cfg.SourceDriver,
		Host:     cfg.SourceHost,
		Port:     cfg.SourcePort,
		Name:     cfg.SourceName,
		User:     cfg.SourceUser,
		Password: cfg.SourcePassword,
		SSLMode:  cfg.SourceSSLMode,
	}, cfg.Collections, logger)
	if err != nil {
		return nil, fmt.Errorf("подключение к источнику: %w", err)
	}

	// 5. Журнал пересборок (опционально): миграции + pgxpool
	var journal repository.RebuildRunRepository
	if cfg.JournalEnabled() {
		logger.Info("Применение миграций журнала пересборок...")
		if err = database.Migrate(cfg.JournalDBURL, logger); err != nil {
			return nil, fmt.Errorf("миграции журнала: %w", err)
		}
		a.pool, err = database.Connect(ctx, cfg.JournalDBURL, logger)
		if err != nil {
			return nil, fmt.Errorf("подключение к журналу: %w", err)
		}
		journal = repository.NewRebuildRunRepository(a.pool)
	}

	// 6. Оркестратор пересборки
	a.orchestrator = service.NewReindexOrchestrator(
		a.store, a.embedder, a.source, a.registry, journal,
		service.ReindexConfig{
			Dimension: cfg.EmbedDimension,
			Workers:   cfg.ReindexWorkers,
			Interval:  cfg.ReindexInterval,
			OnStart:   cfg.ReindexOnStart,
		},
		logger,
	)

	return a, nil
}

// Close закрывает подключения к источнику и журналу.
func (a *app) Close() {
	if a.source != nil {
		a.source.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
