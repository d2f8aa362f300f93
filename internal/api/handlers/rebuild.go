// rebuild.go — обработчики пересборки коллекций.
// POST /api/v1/collections/{name}/rebuild — запуск в фоне (202)
// GET  /api/v1/collections/{name}/rebuilds — история запусков
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/Mockaj/ai-service/internal/api/errors"
	"github.com/Mockaj/ai-service/internal/domain/model"
	"github.com/Mockaj/ai-service/internal/service"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

type rebuildStartedResponse struct {
	Message  string `json:"message"`
	RunID    string `json:"run_id"`
	NewIndex string `json:"new_index"`
}

type rebuildHistoryResponse struct {
	Runs []*model.RebuildReport `json:"runs"`
}

// RebuildCollection — POST /api/v1/collections/{name}/rebuild.
func (h *APIHandler) RebuildCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	rep, err := h.rebuild.StartRebuild(name)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCollectionNotFound):
			apierrors.NotFound(w, fmt.Sprintf("Коллекция %q не найдена", name))
		case errors.Is(err, service.ErrRebuildInProgress):
			apierrors.Conflict(w, fmt.Sprintf("Пересборка коллекции %q уже выполняется", name))
		default:
			h.logger.Error("Ошибка запуска пересборки", "collection", name, "error", err)
			apierrors.InternalError(w, "Ошибка запуска пересборки")
		}
		return
	}

	h.logger.Info("Пересборка запущена",
		"collection", name,
		"run_id", rep.ID,
		"new_index", rep.NewIndex,
	)
	writeJSON(w, http.StatusAccepted, rebuildStartedResponse{
		Message:  "Rebuild started",
		RunID:    rep.ID,
		NewIndex: rep.NewIndex,
	})
}

// ListRebuilds — GET /api/v1/collections/{name}/rebuilds?limit=N.
// Новые запуски первыми; limit по умолчанию 10, не больше 100.
func (h *APIHandler) ListRebuilds(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			apierrors.ValidationError(w, fmt.Sprintf("limit должен быть положительным целым числом, получено %q", raw))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	runs, err := h.rebuild.History(r.Context(), name, limit)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCollectionNotFound):
			apierrors.NotFound(w, fmt.Sprintf("Коллекция %q не найдена", name))
		case errors.Is(err, service.ErrInvalidArgument):
			apierrors.ValidationError(w, err.Error())
		default:
			h.logger.Error("Ошибка чтения истории пересборок", "collection", name, "error", err)
			apierrors.InternalError(w, "Ошибка чтения истории пересборок")
		}
		return
	}

	if runs == nil {
		runs = []*model.RebuildReport{}
	}
	writeJSON(w, http.StatusOK, rebuildHistoryResponse{Runs: runs})
}
