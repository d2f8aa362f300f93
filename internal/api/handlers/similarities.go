// similarities.go — обработчик POST /api/v1/collections/{name}/similarities.
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

// defaultTopN — top_n по умолчанию.
const defaultTopN = 1

type similaritiesRequest struct {
	Query *[]string `json:"query"`
}

type similaritiesResponse struct {
	Data []model.SimilarRecord `json:"data"`
}

// FindSimilarities — POST /api/v1/collections/{name}/similarities?top_n=N.
// По одному поиску на строку запроса, результаты конкатенируются в порядке запроса.
func (h *APIHandler) FindSimilarities(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	topN := defaultTopN
	if raw := r.URL.Query().Get("top_n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > service.MaxTopN {
			apierrors.ValidationError(w, fmt.Sprintf("top_n должен быть целым числом от 1 до %d, получено %q", service.MaxTopN, raw))
			return
		}
		topN = n
	}

	var req similaritiesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if req.Query == nil {
		apierrors.ValidationError(w, "Поле query обязательно")
		return
	}

	found, err := h.similarity.Search(r.Context(), name, *req.Query, topN)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidArgument):
			apierrors.ValidationError(w, err.Error())
		case errors.Is(err, service.ErrCollectionNotFound):
			apierrors.NotFound(w, fmt.Sprintf("Коллекция %q не найдена", name))
		default:
			h.logger.Error("Ошибка поиска похожих записей", "collection", name, "error", err)
			apierrors.InternalError(w, "Ошибка поиска похожих записей")
		}
		return
	}

	if found == nil {
		found = []model.SimilarRecord{}
	}
	writeJSON(w, http.StatusOK, similaritiesResponse{Data: found})
}
