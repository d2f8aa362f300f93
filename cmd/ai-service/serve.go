package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/Mockaj/ai-service/internal/api/handlers"
	"github.com/Mockaj/ai-service/internal/api/middleware"
	"github.com/Mockaj/ai-service/internal/config"
	"github.com/Mockaj/ai-service/internal/database"
	"github.com/Mockaj/ai-service/internal/server"
	"github.com/Mockaj/ai-service/internal/service"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP API",
		Long: `Запускает HTTP API, фоновую пересборку коллекций (AIS_REINDEX_INTERVAL,
AIS_REINDEX_ON_START) и мониторинг зависимостей. Завершается по SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

// runServe поднимает все компоненты сервиса и блокируется до завершения HTTP-сервера.
func runServe(ctx context.Context) error {
	// 1. Конфигурация и логирование
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("ai-service запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store", cfg.StoreDriver),
		slog.Any("collections", cfg.Collections),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("AIS_DEPHEALTH_GROUP") == "" {
		logger.Warn("AIS_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 2. Внешние системы и оркестратор
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// 3. Сервисный слой
	collectionsSvc := service.NewCollectionService(a.store, a.embedder, a.registry, logger)
	syncSvc := service.NewSyncService(a.store, a.embedder, a.registry, logger)
	similaritySvc := service.NewSimilarityService(a.store, a.embedder, a.registry, logger)

	// 4. Readiness checkers: хранилище обязательно, эмбеддинги и журнал — degraded
	var journalChecker handlers.ReadinessChecker
	if a.pool != nil {
		journalChecker = degradedChecker{database.NewReadinessChecker(a.pool)}
	}
	healthHandler := handlers.NewHealthHandler(
		handlers.PingChecker{Name: "Хранилище", Ping: a.store.Ping},
		handlers.PingChecker{Name: "Сервис эмбеддингов", Ping: a.embedder.Ping, FailStatus: "degraded"},
		journalChecker,
	)

	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		collectionsSvc,
		syncSvc,
		similaritySvc,
		a.orchestrator,
		logger,
	)

	// 5. JWT middleware (опционально)
	var jwtAuth *middleware.JWTAuth
	if cfg.AuthEnabled() {
		jwtAuth, err = middleware.NewJWTAuth(middleware.JWTConfig{
			JWKSURL:         cfg.JWTJWKSURL,
			CACertPath:      cfg.JWTCACertPath,
			Issuer:          cfg.JWTIssuer,
			AdminGroups:     cfg.RoleAdminGroups,
			ReadonlyGroups:  cfg.RoleReadonlyGroups,
			ClientTimeout:   cfg.JWTClientTimeout,
			RefreshInterval: cfg.JWTRefreshInterval,
			Leeway:          cfg.JWTLeeway,
		}, logger)
		if err != nil {
			return err
		}
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("AIS_JWT_JWKS_URL не задан, API доступен без аутентификации")
	}

	// 6. Фоновая пересборка
	a.orchestrator.Start(ctx)
	defer a.orchestrator.Stop()

	// 7. topologymetrics — мониторинг зависимостей (сервис эмбеддингов + журнал)
	depCfg := service.DephealthConfig{
		ServiceID:     "ai-service",
		Group:         cfg.DephealthGroup,
		EmbedURL:      cfg.EmbedURL,
		CheckInterval: cfg.DephealthCheckInterval,
		IsEntry:       cfg.DephealthIsEntry,
	}
	if a.pool != nil {
		// Адаптер pgxpool → *sql.DB: проверка идёт через существующий пул соединений
		pgDB := stdlib.OpenDBFromPool(a.pool)
		defer pgDB.Close()
		depCfg.JournalDB = pgDB
		depCfg.JournalURL = cfg.JournalDBURL
	}
	dephealthSvc, dephealthErr := service.NewDephealthService(depCfg, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
	} else {
		defer dephealthSvc.Stop()
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 8. HTTP-сервер (блокируется до сигнала завершения)
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		return err
	}

	logger.Info("ai-service остановлен")
	return nil
}

// degradedChecker понижает "fail" до "degraded": без журнала API продолжает работать.
type degradedChecker struct {
	inner handlers.ReadinessChecker
}

func (c degradedChecker) CheckReady() (string, string) {
	status, msg := c.inner.CheckReady()
	if status == "fail" {
		status = "degraded"
	}
	return status, msg
}
