// Пакет elastic — реализация docstore.Store поверх Elasticsearch 8.
// Единичные записи выполняются с refresh=wait_for, чтобы результат
// был виден term-запросу следующего sync-намерения.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/elastic/go-elasticsearch/v8/esutil"

	"github.com/Mockaj/ai-service/internal/docstore"
	"github.com/Mockaj/ai-service/internal/domain/model"
)

// refreshWaitFor — запись возвращается после того, как станет видна поиску.
const refreshWaitFor = "wait_for"

// scoreScript — cosineSimilarity лежит в [-1, 1], script_score требует неотрицательную оценку.
const scoreScript = "cosineSimilarity(params.query_vector, 'vector') + 1.0"

// Config — параметры подключения к Elasticsearch.
type Config struct {
	// Addresses — URL узлов (игнорируется при заданном CloudID)
	Addresses []string
	CloudID   string
	APIKey    string
	Username  string
	Password  string
	// CACertPath — путь к CA-сертификату для TLS (пусто — системные CA)
	CACertPath string
	// BulkWorkers — число воркеров массовой загрузки
	BulkWorkers int
}

// Store — клиент Elasticsearch.
type Store struct {
	es          *elasticsearch.Client
	bulkWorkers int
	logger      *slog.Logger
}

var _ docstore.Store = (*Store)(nil)

// New создаёт клиент Elasticsearch. Соединение не проверяется (см. Ping).
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
		CloudID:   cfg.CloudID,
		APIKey:    cfg.APIKey,
		Username:  cfg.Username,
		Password:  cfg.Password,
	}
	if cfg.CACertPath != "" {
		caCert, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("чтение CA сертификата %s: %w", cfg.CACertPath, err)
		}
		esCfg.CACert = caCert
	}

	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("создание клиента Elasticsearch: %w", err)
	}

	workers := cfg.BulkWorkers
	if workers <= 0 {
		workers = 1
	}

	return &Store{
		es:          client,
		bulkWorkers: workers,
		logger:      logger.With(slog.String("component", "elastic")),
	}, nil
}

// Ping проверяет доступность кластера.
func (s *Store) Ping(ctx context.Context) error {
	res, err := s.es.Ping(s.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping Elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("ping", res)
	}
	return nil
}

// IndexExists проверяет существование индекса.
func (s *Store) IndexExists(ctx context.Context, index string) (bool, error) {
	res, err := s.es.Indices.Exists([]string{index}, s.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("проверка индекса %s: %w", index, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, responseError("проверка индекса "+index, res)
	}
}

// CreateIndex создаёт индекс с маппингом.
func (s *Store) CreateIndex(ctx context.Context, index string, mapping docstore.Mapping) error {
	body, err := encode(map[string]any{
		"mappings": map[string]any{"properties": mapping.Properties()},
	})
	if err != nil {
		return err
	}

	res, err := s.es.Indices.Create(index,
		s.es.Indices.Create.WithBody(body),
		s.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("создание индекса %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("создание индекса "+index, res)
	}

	s.logger.Info("Индекс создан",
		slog.String("index", index),
		slog.Int("dimension", mapping.Dimension),
	)
	return nil
}

// DeleteIndex удаляет индекс.
func (s *Store) DeleteIndex(ctx context.Context, index string) error {
	res, err := s.es.Indices.Delete([]string{index}, s.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("удаление индекса %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("индекс %s: %w", index, docstore.ErrNotFound)
	}
	if res.IsError() {
		return responseError("удаление индекса "+index, res)
	}
	return nil
}

// ListIndices возвращает индексы, имена которых начинаются с prefix.
func (s *Store) ListIndices(ctx context.Context, prefix string) ([]string, error) {
	res, err := s.es.Indices.Get([]string{prefix + "*"},
		s.es.Indices.Get.WithAllowNoIndices(true),
		s.es.Indices.Get.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("список индексов %s*: %w", prefix, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError("список индексов "+prefix+"*", res)
	}

	var indices map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&indices); err != nil {
		return nil, fmt.Errorf("декодирование списка индексов: %w", err)
	}

	names := make([]string, 0, len(indices))
	for name := range indices {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// CopyIndex копирует документы через Reindex API с ожиданием завершения.
func (s *Store) CopyIndex(ctx context.Context, src, dst string) error {
	body, err := encode(map[string]any{
		"source": map[string]any{"index": src},
		"dest":   map[string]any{"index": dst},
	})
	if err != nil {
		return err
	}

	res, err := s.es.Reindex(body,
		s.es.Reindex.WithWaitForCompletion(true),
		s.es.Reindex.WithRefresh(true),
		s.es.Reindex.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("копирование %s → %s: %w", src, dst, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(fmt.Sprintf("копирование %s → %s", src, dst), res)
	}

	var result struct {
		Total    int               `json:"total"`
		Failures []json.RawMessage `json:"failures"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return fmt.Errorf("декодирование ответа reindex: %w", err)
	}
	if len(result.Failures) > 0 {
		return fmt.Errorf("копирование %s → %s: %d ошибок", src, dst, len(result.Failures))
	}
	return nil
}

// Count возвращает количество документов.
func (s *Store) Count(ctx context.Context, index string) (int, error) {
	res, err := s.es.Count(
		s.es.Count.WithIndex(index),
		s.es.Count.WithContext(ctx),
	)
	if err != nil {
		return 0, fmt.Errorf("подсчёт документов %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("индекс %s: %w", index, docstore.ErrNotFound)
	}
	if res.IsError() {
		return 0, responseError("подсчёт документов "+index, res)
	}

	var result struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("декодирование ответа count: %w", err)
	}
	return result.Count, nil
}

// IndexDocument записывает документ. Пустой handle — Elasticsearch назначит _id.
func (s *Store) IndexDocument(ctx context.Context, index, handle string, doc model.IndexedDocument) (string, error) {
	body, err := encode(doc)
	if err != nil {
		return "", err
	}

	opts := []func(*esapi.IndexRequest){
		s.es.Index.WithRefresh(refreshWaitFor),
		s.es.Index.WithContext(ctx),
	}
	if handle != "" {
		opts = append(opts, s.es.Index.WithDocumentID(handle))
	}

	res, err := s.es.Index(index, body, opts...)
	if err != nil {
		return "", fmt.Errorf("запись документа %s: %w", doc.ID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return "", responseError("запись документа "+doc.ID, res)
	}

	var result struct {
		ID string `json:"_id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("декодирование ответа index: %w", err)
	}
	return result.ID, nil
}

// BulkIndex загружает документы через esutil.BulkIndexer и обновляет индекс.
func (s *Store) BulkIndex(ctx context.Context, index string, docs []model.IndexedDocument) (docstore.BulkResult, error) {
	var (
		result  docstore.BulkResult
		indexed atomic.Int64
		// failures дописывается из колбэков воркеров
		failures = make(chan docstore.BulkFailure, len(docs))
	)

	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:     s.es,
		Index:      index,
		NumWorkers: s.bulkWorkers,
	})
	if err != nil {
		return result, fmt.Errorf("создание bulk indexer: %w", err)
	}

	for _, doc := range docs {
		body, err := json.Marshal(doc)
		if err != nil {
			failures <- docstore.BulkFailure{ID: doc.ID, Err: err}
			continue
		}
		id := doc.ID
		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action: "index",
			Body:   bytes.NewReader(body),
			OnSuccess: func(context.Context, esutil.BulkIndexerItem, esutil.BulkIndexerResponseItem) {
				indexed.Add(1)
			},
			OnFailure: func(_ context.Context, _ esutil.BulkIndexerItem, resp esutil.BulkIndexerResponseItem, err error) {
				if err == nil {
					err = fmt.Errorf("%s: %s", resp.Error.Type, resp.Error.Reason)
				}
				failures <- docstore.BulkFailure{ID: id, Err: err}
			},
		})
		if err != nil {
			_ = bi.Close(context.Background())
			return result, fmt.Errorf("добавление документа %s в bulk: %w", id, err)
		}
	}

	if err := bi.Close(ctx); err != nil {
		return result, fmt.Errorf("завершение bulk-загрузки: %w", err)
	}
	close(failures)

	result.Indexed = int(indexed.Load())
	for f := range failures {
		result.Failures = append(result.Failures, f)
	}

	if err := s.refresh(ctx, index); err != nil {
		return result, err
	}
	return result, nil
}

// refresh делает записанные документы видимыми для поиска.
func (s *Store) refresh(ctx context.Context, index string) error {
	res, err := s.es.Indices.Refresh(
		s.es.Indices.Refresh.WithIndex(index),
		s.es.Indices.Refresh.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("refresh "+index, res)
	}
	return nil
}

// TermQuery ищет документы с точным значением поля.
func (s *Store) TermQuery(ctx context.Context, index, field, value string, size int) ([]docstore.Hit, error) {
	if size <= 0 {
		size = 10
	}
	return s.search(ctx, index, map[string]any{
		"size":    size,
		"query":   map[string]any{"term": map[string]any{field: value}},
		"_source": map[string]any{"excludes": []string{docstore.FieldVector}},
	}, false)
}

// Search ранжирует документы script_score-запросом с cosineSimilarity.
func (s *Store) Search(ctx context.Context, index string, vector []float32, topN int) ([]docstore.Hit, error) {
	return s.search(ctx, index, map[string]any{
		"size": topN,
		"query": map[string]any{
			"script_score": map[string]any{
				"query": map[string]any{"match_all": map[string]any{}},
				"script": map[string]any{
					"source": scoreScript,
					"params": map[string]any{"query_vector": vector},
				},
			},
		},
		"_source": map[string]any{"excludes": []string{docstore.FieldVector}},
	}, true)
}

// searchResponse — часть ответа _search, нужная сервису.
type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string       `json:"_id"`
			Score  float64      `json:"_score"`
			Source model.Record `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *Store) search(ctx context.Context, index string, query map[string]any, scored bool) ([]docstore.Hit, error) {
	body, err := encode(query)
	if err != nil {
		return nil, err
	}

	res, err := s.es.Search(
		s.es.Search.WithIndex(index),
		s.es.Search.WithBody(body),
		s.es.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("поиск в %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("индекс %s: %w", index, docstore.ErrNotFound)
	}
	if res.IsError() {
		return nil, responseError("поиск в "+index, res)
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("декодирование ответа search: %w", err)
	}

	hits := make([]docstore.Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hit := docstore.Hit{Handle: h.ID, Record: h.Source}
		if scored {
			hit.Score = h.Score - 1.0
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// UpdateDocument частично обновляет документ (Update API, "doc").
func (s *Store) UpdateDocument(ctx context.Context, index, handle string, fields map[string]any) error {
	body, err := encode(map[string]any{"doc": fields})
	if err != nil {
		return err
	}

	res, err := s.es.Update(index, handle, body,
		s.es.Update.WithRefresh(refreshWaitFor),
		s.es.Update.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("обновление документа %s: %w", handle, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("документ %s: %w", handle, docstore.ErrNotFound)
	}
	if res.IsError() {
		return responseError("обновление документа "+handle, res)
	}
	return nil
}

// DeleteDocument удаляет документ.
func (s *Store) DeleteDocument(ctx context.Context, index, handle string) error {
	res, err := s.es.Delete(index, handle,
		s.es.Delete.WithRefresh(refreshWaitFor),
		s.es.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("удаление документа %s: %w", handle, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("документ %s: %w", handle, docstore.ErrNotFound)
	}
	if res.IsError() {
		return responseError("удаление документа "+handle, res)
	}
	return nil
}

// AliasExists проверяет существование alias'а.
func (s *Store) AliasExists(ctx context.Context, alias string) (bool, error) {
	res, err := s.es.Indices.ExistsAlias([]string{alias}, s.es.Indices.ExistsAlias.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("проверка alias %s: %w", alias, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, responseError("проверка alias "+alias, res)
	}
}

// AliasTarget возвращает индекс за alias'ом.
func (s *Store) AliasTarget(ctx context.Context, alias string) (string, error) {
	res, err := s.es.Indices.GetAlias(
		s.es.Indices.GetAlias.WithName(alias),
		s.es.Indices.GetAlias.WithContext(ctx),
	)
	if err != nil {
		return "", fmt.Errorf("получение alias %s: %w", alias, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("alias %s: %w", alias, docstore.ErrNotFound)
	}
	if res.IsError() {
		return "", responseError("получение alias "+alias, res)
	}

	// Ответ: {"<index>": {"aliases": {"<alias>": {}}}}
	var indices map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&indices); err != nil {
		return "", fmt.Errorf("декодирование ответа alias: %w", err)
	}
	if len(indices) == 0 {
		return "", fmt.Errorf("alias %s: %w", alias, docstore.ErrNotFound)
	}
	if len(indices) > 1 {
		s.logger.Warn("Alias указывает на несколько индексов",
			slog.String("alias", alias),
			slog.Int("count", len(indices)),
		)
	}
	names := make([]string, 0, len(indices))
	for name := range indices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names[0], nil
}

// PutAlias привязывает alias к индексу.
func (s *Store) PutAlias(ctx context.Context, index, alias string) error {
	res, err := s.es.Indices.PutAlias([]string{index}, alias, s.es.Indices.PutAlias.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("привязка alias %s → %s: %w", alias, index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(fmt.Sprintf("привязка alias %s → %s", alias, index), res)
	}
	return nil
}

// SwapAlias переносит alias одной транзакцией _aliases (remove + add).
func (s *Store) SwapAlias(ctx context.Context, alias, from, to string) error {
	body, err := encode(map[string]any{
		"actions": []map[string]any{
			{"remove": map[string]any{"index": from, "alias": alias}},
			{"add": map[string]any{"index": to, "alias": alias}},
		},
	})
	if err != nil {
		return err
	}

	res, err := s.es.Indices.UpdateAliases(body, s.es.Indices.UpdateAliases.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("переключение alias %s: %w", alias, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("alias %s на %s: %w", alias, from, docstore.ErrNotFound)
	}
	if res.IsError() {
		return responseError("переключение alias "+alias, res)
	}
	return nil
}

// encode сериализует тело запроса.
func encode(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("сериализация запроса: %w", err)
	}
	return bytes.NewReader(data), nil
}

// ResponseError — ошибочный ответ Elasticsearch.
type ResponseError struct {
	Op         string
	StatusCode int
	Type       string
	Reason     string
}

func (e *ResponseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s: %s", e.Op, e.StatusCode, e.Type, e.Reason)
}

// responseError разбирает тело ошибки вида {"error":{"type","reason"}}.
func responseError(op string, res *esapi.Response) error {
	e := &ResponseError{Op: op, StatusCode: res.StatusCode}

	var body struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(res.Body, 64*1024))
	if err := json.Unmarshal(data, &body); err == nil {
		e.Type = body.Error.Type
		e.Reason = body.Error.Reason
	}
	return e
}

// IsResponseError проверяет, что err — ошибочный ответ с указанным HTTP-кодом.
func IsResponseError(err error, status int) bool {
	var re *ResponseError
	return errors.As(err, &re) && re.StatusCode == status
}
