// handler.go — основной обработчик REST API ai-service.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Mockaj/ai-service/internal/domain/intent"
	"github.com/Mockaj/ai-service/internal/domain/model"
	"github.com/Mockaj/ai-service/internal/service"
)

// maxBodyBytes — ограничение размера тела запроса.
const maxBodyBytes = 16 << 20

// CollectionService — листинг коллекций и мониторинг зависимостей.
type CollectionService interface {
	List(ctx context.Context) ([]string, error)
	Monitoring(ctx context.Context) service.MonitoringStatus
}

// SyncService — применение sync-намерений к коллекции.
type SyncService interface {
	Sync(ctx context.Context, name string, intents []intent.Intent) error
}

// SimilarityService — поиск похожих записей.
type SimilarityService interface {
	Search(ctx context.Context, name string, queries []string, topN int) ([]model.SimilarRecord, error)
}

// RebuildService — запуск пересборки и история запусков.
type RebuildService interface {
	StartRebuild(name string) (*model.RebuildReport, error)
	History(ctx context.Context, name string, limit int) ([]*model.RebuildReport, error)
}

// APIHandler — основной обработчик API ai-service.
type APIHandler struct {
	health      *HealthHandler
	collections CollectionService
	sync        SyncService
	similarity  SimilarityService
	rebuild     RebuildService
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	collections CollectionService,
	sync SyncService,
	similarity SimilarityService,
	rebuild RebuildService,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:      health,
		collections: collections,
		sync:        sync,
		similarity:  similarity,
		rebuild:     rebuild,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса с ограничением размера.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}
