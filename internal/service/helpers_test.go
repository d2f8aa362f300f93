package service

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"io"
	"log/slog"
	"testing"

	"github.com/Mockaj/ai-service/internal/collection"
	"github.com/Mockaj/ai-service/internal/docstore"
	"github.com/Mockaj/ai-service/internal/docstore/memstore"
	"github.com/Mockaj/ai-service/internal/domain/intent"
	"github.com/Mockaj/ai-service/internal/domain/model"
)

const testDimension = 4

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockEmbedder — мок embedding.Provider с function-полями.
// Без embedFn возвращает детерминированный вектор по тексту.
type mockEmbedder struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
	pingFn  func(ctx context.Context) error
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.embedFn == nil {
		return hashVector(text), nil
	}
	return m.embedFn(ctx, text)
}

func (m *mockEmbedder) Ping(ctx context.Context) error {
	if m.pingFn == nil {
		return nil
	}
	return m.pingFn(ctx)
}

// hashVector — детерминированный ненулевой вектор размерности testDimension.
func hashVector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	sum := h.Sum64()
	vec := make([]float32, testDimension)
	for i := range vec {
		vec[i] = float32((sum>>(8*i))&0xff) + 1
	}
	return vec
}

// mockSource — мок source.Source с function-полями.
type mockSource struct {
	fetchFn func(ctx context.Context, table string) ([]model.Record, error)
}

func (m *mockSource) FetchRecords(ctx context.Context, table string) ([]model.Record, error) {
	return m.fetchFn(ctx, table)
}

func (m *mockSource) Ping(context.Context) error { return nil }

func (m *mockSource) Close() {}

func newTestRegistry(t *testing.T) *collection.Registry {
	t.Helper()
	reg, err := collection.NewRegistry("embeddings_", []string{"skills", "markets"}, "test_index")
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

// newStoreWithCollections создаёт хранилище с индексами коллекций за alias'ами.
func newStoreWithCollections(t *testing.T, reg *collection.Registry) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()
	for _, c := range reg.All() {
		index := c.Alias + "_temp_seed"
		if err := s.CreateIndex(ctx, index, docstore.Mapping{Dimension: testDimension}); err != nil {
			t.Fatalf("CreateIndex %s: %v", index, err)
		}
		if err := s.PutAlias(ctx, index, c.Alias); err != nil {
			t.Fatalf("PutAlias %s: %v", c.Alias, err)
		}
	}
	return s
}

// mustIntent разбирает JSON-объект намерения.
func mustIntent(t *testing.T, raw string) intent.Intent {
	t.Helper()
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		t.Fatalf("json.Unmarshal(%s): %v", raw, err)
	}
	in, err := intent.Parse(fields)
	if err != nil {
		t.Fatalf("intent.Parse(%s): %v", raw, err)
	}
	return in
}

// findByID возвращает документ по внешнему id или nil.
func findByID(t *testing.T, s docstore.Store, index, id string) *docstore.Hit {
	t.Helper()
	hits, err := s.TermQuery(context.Background(), index, docstore.FieldID, id, 10)
	if err != nil {
		t.Fatalf("TermQuery: %v", err)
	}
	if len(hits) > 1 {
		t.Fatalf("найдено %d документов с id=%s, ожидался не более 1", len(hits), id)
	}
	if len(hits) == 0 {
		return nil
	}
	return &hits[0]
}

func strPtr(s string) *string { return &s }
