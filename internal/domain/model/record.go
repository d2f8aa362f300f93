// Пакет model — доменные модели ai-service.
// Record — запись из системы-источника (CRM), IndexedDocument — её представление
// в документном хранилище вместе с embedding-вектором.
package model

import "fmt"

// Status — статус записи. Значения на проводе — строки "1" и "0".
type Status string

const (
	// StatusActive — активная запись
	StatusActive Status = "1"
	// StatusInactive — неактивная запись
	StatusInactive Status = "0"
)

// ParseStatus преобразует строку в Status.
// Возвращает ошибку для значений вне {"1", "0"}.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusActive, StatusInactive:
		return Status(s), nil
	default:
		return "", fmt.Errorf("недопустимый статус %q, допустимые: \"1\", \"0\"", s)
	}
}

// Record — запись системы-источника.
// ID — внешний идентификатор (не совпадает с внутренним handle документа в хранилище).
type Record struct {
	// ID — непустой токен без пробельных символов
	ID string `json:"id"`
	// Name — название (обязательно для create/replace)
	Name string `json:"name"`
	// Description — описание (опционально)
	Description *string `json:"description"`
	// Status — статус (опционально)
	Status *Status `json:"status"`
}

// IndexedDocument — документ в хранилище: все поля Record и вектор embedding'а name.
type IndexedDocument struct {
	Record
	// Vector — embedding поля Name
	Vector []float32 `json:"vector"`
}

// SimilarRecord — запись с оценкой косинусной близости к запросу.
type SimilarRecord struct {
	Record
	Score float64 `json:"score"`
}
