// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Мониторятся:
//   - сервис эмбеддингов — HTTP checker к базовому URL (critical)
//   - журнал пересборок PostgreSQL — SQL checker через существующий pgxpool
//     (connection pool mode, non-critical), только если журнал включён
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для сервиса эмбеддингов
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID — имя вершины графа текущего приложения
	ServiceID string
	// Group — имя группы в метриках (AIS_DEPHEALTH_GROUP)
	Group string
	// EmbedURL — базовый URL сервиса эмбеддингов
	EmbedURL string
	// JournalDB — *sql.DB из pgxpool через stdlib.OpenDBFromPool(), nil если журнал выключен
	JournalDB *sql.DB
	// JournalURL — URL журнала (для лейблов, не для подключения)
	JournalURL string
	// CheckInterval — интервал проверки (AIS_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// IsEntry — добавляет лейбл isentry=yes ко всем зависимостям
	IsEntry bool
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(cfg, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(cfg DephealthConfig, logger *slog.Logger, registerer prometheus.Registerer) (*DephealthService, error) {
	return newDephealthService(cfg, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(cfg DephealthConfig, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	embedOpts := []dephealth.DependencyOption{
		dephealth.FromURL(cfg.EmbedURL),
		dephealth.WithHTTPHealthPath("/"),
		dephealth.CheckInterval(cfg.CheckInterval),
		dephealth.Critical(true),
	}
	if parsed, err := url.Parse(cfg.EmbedURL); err == nil && parsed.Scheme == "https" {
		embedOpts = append(embedOpts, dephealth.WithHTTPTLSSkipVerify(false))
	}
	if cfg.IsEntry {
		embedOpts = append(embedOpts, dephealth.WithLabel("isentry", "yes"))
	}

	opts := make([]dephealth.Option, 0, 3+len(extraOpts))
	opts = append(opts,
		dephealth.WithLogger(logger),
		dephealth.HTTP("embedding", embedOpts...),
	)

	if cfg.JournalDB != nil {
		pgOpts := []dephealth.DependencyOption{
			dephealth.FromURL(cfg.JournalURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(false),
		}
		if cfg.IsEntry {
			pgOpts = append(pgOpts, dephealth.WithLabel("isentry", "yes"))
		}
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.JournalDB)), pgOpts...))
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
