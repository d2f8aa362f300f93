// sync.go — обработчик POST /api/v1/collections/{name}/sync.
// Сначала валидируется весь payload, затем намерения применяются по порядку.
// Ошибка валидации любого элемента отклоняет запрос целиком до обращения к хранилищу.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/Mockaj/ai-service/internal/api/errors"
	"github.com/Mockaj/ai-service/internal/domain/intent"
	"github.com/Mockaj/ai-service/internal/service"
)

// syncMessage — тело успешного ответа (формат сохранён для клиентов).
const syncMessage = "Data received successfully"

// syncRequest — тело запроса синхронизации.
type syncRequest struct {
	Payload *[]syncItem `json:"payload"`
}

// syncItem — элемент payload.
type syncItem struct {
	Data map[string]json.RawMessage `json:"data"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// SyncCollection — POST /api/v1/collections/{name}/sync.
func (h *APIHandler) SyncCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req syncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.UnprocessableEntity(w, "Некорректный JSON: "+err.Error())
		return
	}
	if req.Payload == nil {
		apierrors.UnprocessableEntity(w, "Поле payload обязательно")
		return
	}

	intents, err := parsePayload(*req.Payload)
	if err != nil {
		apierrors.UnprocessableEntity(w, err.Error())
		return
	}

	if err := h.sync.Sync(r.Context(), name, intents); err != nil {
		if errors.Is(err, service.ErrCollectionNotFound) {
			apierrors.NotFound(w, fmt.Sprintf("Коллекция %q не найдена", name))
			return
		}
		h.logger.Error("Ошибка синхронизации", "collection", name, "error", err)
		apierrors.InternalError(w, "Ошибка синхронизации записей")
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: syncMessage})
}

// parsePayload валидирует все элементы и возвращает намерения в исходном порядке.
func parsePayload(items []syncItem) ([]intent.Intent, error) {
	intents := make([]intent.Intent, 0, len(items))
	for i, item := range items {
		if item.Data == nil {
			return nil, &intent.ValidationError{Index: i, Field: "data", Message: "поле обязательно"}
		}
		in, err := intent.Parse(item.Data)
		if err != nil {
			return nil, intent.AtIndex(err, i)
		}
		intents = append(intents, in)
	}
	return intents, nil
}
