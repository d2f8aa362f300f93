// collections.go — обработчики GET /api/v1/collections и GET /api/v1/monitoring.
package handlers

import (
	"net/http"

	apierrors "github.com/Mockaj/ai-service/internal/api/errors"
)

// listCollectionsResponse — ответ листинга коллекций.
type listCollectionsResponse struct {
	Collections []string `json:"collections"`
}

// ListCollections — GET /api/v1/collections.
// Логические имена production-коллекций; отсутствующий индекс — ошибка сервера.
func (h *APIHandler) ListCollections(w http.ResponseWriter, r *http.Request) {
	names, err := h.collections.List(r.Context())
	if err != nil {
		h.logger.Error("Ошибка листинга коллекций", "error", err)
		apierrors.InternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listCollectionsResponse{Collections: names})
}

// Monitoring — GET /api/v1/monitoring.
// Всегда 200: недоступность зависимости передаётся текстом ошибки в поле.
func (h *APIHandler) Monitoring(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.collections.Monitoring(r.Context()))
}
