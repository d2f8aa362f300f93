// Пакет docstore — порт документного хранилища.
//
// Хранилище присваивает документам собственные handle'ы, отличные от
// внешнего поля id. Поиск по внешнему id выполняется term-запросом.
// Реализации: docstore/elastic (Elasticsearch) и docstore/memstore (в памяти).
package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mockaj/ai-service/internal/domain/model"
)

// ErrNotFound — индекс, alias или документ не найден.
var ErrNotFound = errors.New("не найдено")

// Имена полей маппинга.
const (
	FieldID          = "id"
	FieldName        = "name"
	FieldDescription = "description"
	FieldStatus      = "status"
	FieldVector      = "vector"
)

// Mapping — фиксированная схема индекса: id и status — точные токены,
// name и description — полнотекстовые, vector — плотный вектор размерности Dimension.
type Mapping struct {
	Dimension int
}

// Properties возвращает описание полей в формате маппинга Elasticsearch.
func (m Mapping) Properties() map[string]any {
	return map[string]any{
		FieldID:          map[string]any{"type": "keyword"},
		FieldName:        map[string]any{"type": "text"},
		FieldDescription: map[string]any{"type": "text"},
		FieldStatus:      map[string]any{"type": "keyword"},
		FieldVector: map[string]any{
			"type":       "dense_vector",
			"dims":       m.Dimension,
			"index":      true,
			"similarity": "cosine",
		},
	}
}

// Hit — найденный документ.
type Hit struct {
	// Handle — внутренний идентификатор документа в хранилище
	Handle string
	// Score — косинусная близость (только для Search)
	Score float64
	// Record — поля документа без вектора
	Record model.Record
}

// BulkFailure — документ, не записанный при массовой загрузке.
type BulkFailure struct {
	ID  string
	Err error
}

// BulkResult — итог массовой загрузки.
type BulkResult struct {
	Indexed  int
	Failures []BulkFailure
}

// Store — документное хранилище с индексами и alias'ами.
type Store interface {
	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error

	// IndexExists проверяет существование физического индекса.
	IndexExists(ctx context.Context, index string) (bool, error)
	// CreateIndex создаёт индекс с маппингом.
	CreateIndex(ctx context.Context, index string, mapping Mapping) error
	// DeleteIndex удаляет индекс. ErrNotFound, если индекса нет.
	DeleteIndex(ctx context.Context, index string) error
	// ListIndices возвращает имена индексов с указанным префиксом.
	ListIndices(ctx context.Context, prefix string) ([]string, error)
	// CopyIndex копирует все документы src в dst (dst создаётся при необходимости).
	CopyIndex(ctx context.Context, src, dst string) error
	// Count возвращает количество документов в индексе или alias'е.
	Count(ctx context.Context, index string) (int, error)

	// IndexDocument записывает документ. Пустой handle — новый документ,
	// иначе перезапись существующего. Возвращает handle записанного документа.
	IndexDocument(ctx context.Context, index, handle string, doc model.IndexedDocument) (string, error)
	// BulkIndex записывает документы как новые. Ошибки отдельных документов
	// возвращаются в BulkResult.Failures, error — только для отказа операции целиком.
	// После завершения документы видны для поиска.
	BulkIndex(ctx context.Context, index string, docs []model.IndexedDocument) (BulkResult, error)
	// TermQuery ищет документы с точным значением поля.
	TermQuery(ctx context.Context, index, field, value string, size int) ([]Hit, error)
	// UpdateDocument частично обновляет документ: изменяются только переданные поля.
	UpdateDocument(ctx context.Context, index, handle string, fields map[string]any) error
	// DeleteDocument удаляет документ. ErrNotFound, если документа нет.
	DeleteDocument(ctx context.Context, index, handle string) error
	// Search ранжирует документы по косинусной близости к vector.
	Search(ctx context.Context, index string, vector []float32, topN int) ([]Hit, error)

	// AliasExists проверяет существование alias'а.
	AliasExists(ctx context.Context, alias string) (bool, error)
	// AliasTarget возвращает индекс за alias'ом. ErrNotFound, если alias'а нет.
	AliasTarget(ctx context.Context, alias string) (string, error)
	// PutAlias привязывает alias к индексу.
	PutAlias(ctx context.Context, index, alias string) error
	// SwapAlias атомарно переносит alias с индекса from на индекс to.
	SwapAlias(ctx context.Context, alias, from, to string) error
}

// Resolve возвращает физический индекс коллекции:
// цель alias'а, если он существует, иначе индекс с тем же именем.
// ErrNotFound, если нет ни alias'а, ни индекса.
func Resolve(ctx context.Context, s Store, name string) (string, error) {
	target, err := s.AliasTarget(ctx, name)
	if err == nil {
		return target, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("получение alias %s: %w", name, err)
	}

	exists, err := s.IndexExists(ctx, name)
	if err != nil {
		return "", fmt.Errorf("проверка индекса %s: %w", name, err)
	}
	if !exists {
		return "", fmt.Errorf("индекс %s: %w", name, ErrNotFound)
	}
	return name, nil
}

// DocumentFields преобразует документ в набор полей хранилища.
func DocumentFields(doc model.IndexedDocument) map[string]any {
	fields := map[string]any{
		FieldID:          doc.ID,
		FieldName:        doc.Name,
		FieldDescription: nil,
		FieldStatus:      nil,
		FieldVector:      doc.Vector,
	}
	if doc.Description != nil {
		fields[FieldDescription] = *doc.Description
	}
	if doc.Status != nil {
		fields[FieldStatus] = string(*doc.Status)
	}
	return fields
}
