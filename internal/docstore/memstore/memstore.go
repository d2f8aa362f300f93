// Пакет memstore — документное хранилище в памяти процесса.
// Используется при AIS_STORE_DRIVER=memory и в тестах сервисов.
// Семантика повторяет Elasticsearch в пределах, нужных сервису:
// alias указывает ровно на один индекс, переключение alias'а атомарно,
// запись видна сразу после возврата.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Mockaj/ai-service/internal/docstore"
	"github.com/Mockaj/ai-service/internal/domain/model"
)

// memIndex — физический индекс.
type memIndex struct {
	dimension int
	docs      map[string]model.IndexedDocument
	// order — порядок вставки handle'ов (нативный порядок при равных оценках)
	order []string
}

func (ix *memIndex) put(handle string, doc model.IndexedDocument) {
	if _, exists := ix.docs[handle]; !exists {
		ix.order = append(ix.order, handle)
	}
	ix.docs[handle] = doc
}

func (ix *memIndex) remove(handle string) {
	delete(ix.docs, handle)
	if i := slices.Index(ix.order, handle); i >= 0 {
		ix.order = slices.Delete(ix.order, i, i+1)
	}
}

// Store — хранилище в памяти. Потокобезопасно.
type Store struct {
	mu      sync.RWMutex
	indices map[string]*memIndex
	// aliases — alias → индекс
	aliases map[string]string
}

var _ docstore.Store = (*Store)(nil)

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		indices: make(map[string]*memIndex),
		aliases: make(map[string]string),
	}
}

// resolve находит индекс по имени индекса или alias'а. Вызывать под блокировкой.
func (s *Store) resolve(name string) (*memIndex, error) {
	if target, ok := s.aliases[name]; ok {
		name = target
	}
	ix, ok := s.indices[name]
	if !ok {
		return nil, fmt.Errorf("индекс %s: %w", name, docstore.ErrNotFound)
	}
	return ix, nil
}

// Ping всегда успешен.
func (s *Store) Ping(_ context.Context) error {
	return nil
}

// IndexExists проверяет существование физического индекса.
func (s *Store) IndexExists(_ context.Context, index string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indices[index]
	return ok, nil
}

// CreateIndex создаёт индекс.
func (s *Store) CreateIndex(_ context.Context, index string, mapping docstore.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.indices[index]; ok {
		return fmt.Errorf("индекс %s уже существует", index)
	}
	if _, ok := s.aliases[index]; ok {
		return fmt.Errorf("имя %s занято alias'ом", index)
	}
	if mapping.Dimension <= 0 {
		return fmt.Errorf("недопустимая размерность вектора: %d", mapping.Dimension)
	}
	s.indices[index] = &memIndex{
		dimension: mapping.Dimension,
		docs:      make(map[string]model.IndexedDocument),
	}
	return nil
}

// DeleteIndex удаляет индекс вместе с alias'ами, указывающими на него.
func (s *Store) DeleteIndex(_ context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.indices[index]; !ok {
		return fmt.Errorf("индекс %s: %w", index, docstore.ErrNotFound)
	}
	delete(s.indices, index)
	for alias, target := range s.aliases {
		if target == index {
			delete(s.aliases, alias)
		}
	}
	return nil
}

// ListIndices возвращает отсортированные имена индексов с префиксом.
func (s *Store) ListIndices(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for name := range s.indices {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// CopyIndex копирует документы с сохранением handle'ов.
func (s *Store) CopyIndex(_ context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, err := s.resolve(src)
	if err != nil {
		return err
	}
	to, ok := s.indices[dst]
	if !ok {
		to = &memIndex{dimension: from.dimension, docs: make(map[string]model.IndexedDocument)}
		s.indices[dst] = to
	}
	for _, handle := range from.order {
		to.put(handle, cloneDoc(from.docs[handle]))
	}
	return nil
}

// Count возвращает количество документов.
func (s *Store) Count(_ context.Context, index string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ix, err := s.resolve(index)
	if err != nil {
		return 0, err
	}
	return len(ix.docs), nil
}

// IndexDocument записывает документ.
func (s *Store) IndexDocument(_ context.Context, index, handle string, doc model.IndexedDocument) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ix, err := s.resolve(index)
	if err != nil {
		return "", err
	}
	if len(doc.Vector) != ix.dimension {
		return "", fmt.Errorf("размерность вектора %d не совпадает с маппингом %d", len(doc.Vector), ix.dimension)
	}
	if handle == "" {
		handle = uuid.NewString()
	}
	ix.put(handle, cloneDoc(doc))
	return handle, nil
}

// BulkIndex записывает документы как новые.
func (s *Store) BulkIndex(ctx context.Context, index string, docs []model.IndexedDocument) (docstore.BulkResult, error) {
	var result docstore.BulkResult
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := s.IndexDocument(ctx, index, "", doc); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return result, err
			}
			result.Failures = append(result.Failures, docstore.BulkFailure{ID: doc.ID, Err: err})
			continue
		}
		result.Indexed++
	}
	return result, nil
}

// TermQuery ищет документы с точным значением поля в нативном порядке.
func (s *Store) TermQuery(_ context.Context, index, field, value string, size int) ([]docstore.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ix, err := s.resolve(index)
	if err != nil {
		return nil, err
	}

	var hits []docstore.Hit
	for _, handle := range ix.order {
		doc := ix.docs[handle]
		v, ok := fieldValue(doc.Record, field)
		if !ok || v != value {
			continue
		}
		hits = append(hits, docstore.Hit{Handle: handle, Record: cloneDoc(doc).Record})
		if size > 0 && len(hits) >= size {
			break
		}
	}
	return hits, nil
}

// UpdateDocument частично обновляет документ.
func (s *Store) UpdateDocument(_ context.Context, index, handle string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ix, err := s.resolve(index)
	if err != nil {
		return err
	}
	doc, ok := ix.docs[handle]
	if !ok {
		return fmt.Errorf("документ %s: %w", handle, docstore.ErrNotFound)
	}
	doc = cloneDoc(doc)

	for key, value := range fields {
		switch key {
		case docstore.FieldID:
			str, ok := value.(string)
			if !ok {
				return fmt.Errorf("поле %s: ожидается строка", key)
			}
			doc.ID = str
		case docstore.FieldName:
			str, ok := value.(string)
			if !ok {
				return fmt.Errorf("поле %s: ожидается строка", key)
			}
			doc.Name = str
		case docstore.FieldDescription:
			str, err := optionalString(key, value)
			if err != nil {
				return err
			}
			doc.Description = str
		case docstore.FieldStatus:
			str, err := optionalString(key, value)
			if err != nil {
				return err
			}
			if str == nil {
				doc.Status = nil
			} else {
				st := model.Status(*str)
				doc.Status = &st
			}
		case docstore.FieldVector:
			vec, ok := value.([]float32)
			if !ok || len(vec) != ix.dimension {
				return fmt.Errorf("поле %s: ожидается вектор размерности %d", key, ix.dimension)
			}
			doc.Vector = slices.Clone(vec)
		default:
			return fmt.Errorf("неизвестное поле %s", key)
		}
	}
	ix.docs[handle] = doc
	return nil
}

// DeleteDocument удаляет документ.
func (s *Store) DeleteDocument(_ context.Context, index, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ix, err := s.resolve(index)
	if err != nil {
		return err
	}
	if _, ok := ix.docs[handle]; !ok {
		return fmt.Errorf("документ %s: %w", handle, docstore.ErrNotFound)
	}
	ix.remove(handle)
	return nil
}

// Search ранжирует все документы по косинусной близости.
// При равных оценках сохраняется порядок вставки.
func (s *Store) Search(_ context.Context, index string, vector []float32, topN int) ([]docstore.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ix, err := s.resolve(index)
	if err != nil {
		return nil, err
	}
	if len(vector) != ix.dimension {
		return nil, fmt.Errorf("размерность запроса %d не совпадает с маппингом %d", len(vector), ix.dimension)
	}

	hits := make([]docstore.Hit, 0, len(ix.order))
	for _, handle := range ix.order {
		doc := ix.docs[handle]
		hits = append(hits, docstore.Hit{
			Handle: handle,
			Score:  Cosine(vector, doc.Vector),
			Record: cloneDoc(doc).Record,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	if topN > 0 && len(hits) > topN {
		hits = hits[:topN]
	}
	return hits, nil
}

// AliasExists проверяет существование alias'а.
func (s *Store) AliasExists(_ context.Context, alias string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.aliases[alias]
	return ok, nil
}

// AliasTarget возвращает индекс за alias'ом.
func (s *Store) AliasTarget(_ context.Context, alias string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target, ok := s.aliases[alias]
	if !ok {
		return "", fmt.Errorf("alias %s: %w", alias, docstore.ErrNotFound)
	}
	return target, nil
}

// PutAlias привязывает alias к индексу, заменяя прежнюю привязку.
func (s *Store) PutAlias(_ context.Context, index, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.indices[index]; !ok {
		return fmt.Errorf("индекс %s: %w", index, docstore.ErrNotFound)
	}
	if _, ok := s.indices[alias]; ok {
		return fmt.Errorf("имя alias'а %s совпадает с индексом", alias)
	}
	s.aliases[alias] = index
	return nil
}

// SwapAlias атомарно переносит alias с from на to.
func (s *Store) SwapAlias(_ context.Context, alias, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.aliases[alias]
	if !ok || current != from {
		return fmt.Errorf("alias %s не указывает на %s: %w", alias, from, docstore.ErrNotFound)
	}
	if _, ok := s.indices[to]; !ok {
		return fmt.Errorf("индекс %s: %w", to, docstore.ErrNotFound)
	}
	s.aliases[alias] = to
	return nil
}

// Cosine — косинусная близость векторов. 0 для нулевых векторов.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func fieldValue(r model.Record, field string) (string, bool) {
	switch field {
	case docstore.FieldID:
		return r.ID, true
	case docstore.FieldName:
		return r.Name, true
	case docstore.FieldDescription:
		if r.Description == nil {
			return "", false
		}
		return *r.Description, true
	case docstore.FieldStatus:
		if r.Status == nil {
			return "", false
		}
		return string(*r.Status), true
	default:
		return "", false
	}
}

func optionalString(key string, value any) (*string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return &v, nil
	case *string:
		return v, nil
	default:
		return nil, fmt.Errorf("поле %s: ожидается строка", key)
	}
}

// cloneDoc копирует документ, чтобы вызывающий код не мог изменить хранимое состояние.
func cloneDoc(doc model.IndexedDocument) model.IndexedDocument {
	out := doc
	out.Vector = slices.Clone(doc.Vector)
	if doc.Description != nil {
		d := *doc.Description
		out.Description = &d
	}
	if doc.Status != nil {
		st := *doc.Status
		out.Status = &st
	}
	return out
}
