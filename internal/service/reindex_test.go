package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Mockaj/ai-service/internal/docstore"
	"github.com/Mockaj/ai-service/internal/docstore/memstore"
	"github.com/Mockaj/ai-service/internal/domain/generation"
	"github.com/Mockaj/ai-service/internal/domain/model"
	"github.com/Mockaj/ai-service/internal/embedding"
	"github.com/Mockaj/ai-service/internal/repository"
)

// mockJournal — мок repository.RebuildRunRepository с function-полями.
type mockJournal struct {
	saveFn func(ctx context.Context, rep *model.RebuildReport) error
	listFn func(ctx context.Context, collection string, limit int) ([]*model.RebuildReport, error)
}

func (m *mockJournal) Save(ctx context.Context, rep *model.RebuildReport) error {
	return m.saveFn(ctx, rep)
}

func (m *mockJournal) ListByCollection(ctx context.Context, collection string, limit int) ([]*model.RebuildReport, error) {
	return m.listFn(ctx, collection, limit)
}

// records генерирует n записей с именами "<prefix>-<i>".
func records(prefix string, n int) []model.Record {
	out := make([]model.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.Record{ID: fmt.Sprint(i + 1), Name: fmt.Sprintf("%s-%d", prefix, i+1)})
	}
	return out
}

// staticSource возвращает записи из изменяемого набора.
type staticSource struct {
	mu   sync.Mutex
	data []model.Record
	err  error
}

func (s *staticSource) set(data []model.Record, err error) {
	s.mu.Lock()
	s.data, s.err = data, err
	s.mu.Unlock()
}

func (s *staticSource) asMock() *mockSource {
	return &mockSource{fetchFn: func(context.Context, string) ([]model.Record, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return slices.Clone(s.data), s.err
	}}
}

func newTestOrchestrator(
	t *testing.T,
	store docstore.Store,
	embedder embedding.Provider,
	src *mockSource,
	journal repository.RebuildRunRepository,
	cfg ReindexConfig,
) *ReindexOrchestrator {
	t.Helper()
	cfg.Dimension = testDimension
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	return NewReindexOrchestrator(store, embedder, src, newTestRegistry(t), journal, cfg, testLogger())
}

func aliasTarget(t *testing.T, s docstore.Store, alias string) string {
	t.Helper()
	target, err := s.AliasTarget(context.Background(), alias)
	if err != nil {
		t.Fatalf("AliasTarget %s: %v", alias, err)
	}
	return target
}

func count(t *testing.T, s docstore.Store, index string) int {
	t.Helper()
	n, err := s.Count(context.Background(), index)
	if err != nil {
		t.Fatalf("Count %s: %v", index, err)
	}
	return n
}

// TestReindex_FirstRebuildCreatesAlias проверяет первую пересборку без alias'а.
func TestReindex_FirstRebuildCreatesAlias(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	src := &staticSource{data: records("skill", 3)}
	o := newTestOrchestrator(t, store, &mockEmbedder{}, src.asMock(), nil, ReindexConfig{})

	rep, err := o.Rebuild(ctx, "skills")
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	if rep.Phase != string(generation.PhaseCleaned) {
		t.Errorf("phase = %s, ожидалась cleaned", rep.Phase)
	}
	if rep.Fetched != 3 || rep.Indexed != 3 || rep.Skipped != 0 {
		t.Errorf("fetched/indexed/skipped = %d/%d/%d, ожидалось 3/3/0", rep.Fetched, rep.Indexed, rep.Skipped)
	}
	if rep.PreviousIndex != "" || rep.BackupIndex != "" || rep.Error != "" {
		t.Errorf("report = %+v, ожидалось без previous/backup/error", rep)
	}
	if !generation.IsTemp("embeddings_skills", rep.NewIndex) {
		t.Errorf("new_index = %s, ожидалось временное имя", rep.NewIndex)
	}
	if got := aliasTarget(t, store, "embeddings_skills"); got != rep.NewIndex {
		t.Errorf("alias → %s, ожидался %s", got, rep.NewIndex)
	}
	if n := count(t, store, "embeddings_skills"); n != 3 {
		t.Errorf("документов = %d, ожидалось 3", n)
	}
	if exists, _ := store.IndexExists(ctx, "embeddings_skills_backup"); exists {
		t.Error("backup не должен создаваться при первой пересборке")
	}
}

// TestReindex_BackupRotation проверяет, что backup один и равен предыдущему поколению.
func TestReindex_BackupRotation(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	src := &staticSource{}
	o := newTestOrchestrator(t, store, &mockEmbedder{}, src.asMock(), nil, ReindexConfig{})

	var reports []*model.RebuildReport
	for gen := 1; gen <= 3; gen++ {
		src.set(records(fmt.Sprintf("gen%d", gen), gen+1), nil)
		rep, err := o.Rebuild(ctx, "skills")
		if err != nil {
			t.Fatalf("Rebuild #%d: %v", gen, err)
		}
		reports = append(reports, rep)
	}

	last := reports[2]
	if last.PreviousIndex != reports[1].NewIndex {
		t.Errorf("previous_index = %s, ожидался %s", last.PreviousIndex, reports[1].NewIndex)
	}
	if last.BackupIndex != "embeddings_skills_backup" {
		t.Errorf("backup_index = %q", last.BackupIndex)
	}

	names, err := store.ListIndices(ctx, "embeddings_skills")
	if err != nil {
		t.Fatalf("ListIndices: %v", err)
	}
	want := []string{"embeddings_skills_backup", last.NewIndex}
	if !slices.Equal(names, want) {
		t.Errorf("индексы = %v, ожидалось %v", names, want)
	}

	// Backup — копия второго поколения (3 документа gen2-*)
	if n := count(t, store, "embeddings_skills_backup"); n != 3 {
		t.Errorf("документов в backup = %d, ожидалось 3", n)
	}
	hit := findByID(t, store, "embeddings_skills_backup", "1")
	if hit == nil || hit.Record.Name != "gen2-1" {
		t.Errorf("backup id=1 = %+v, ожидалось gen2-1", hit)
	}
	if n := count(t, store, "embeddings_skills"); n != 4 {
		t.Errorf("документов за alias'ом = %d, ожидалось 4", n)
	}
}

// TestReindex_AliasServesFullGeneration проверяет, что во время заполнения
// alias указывает на полностью заполненное предыдущее поколение.
func TestReindex_AliasServesFullGeneration(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	src := &staticSource{data: records("old", 3)}

	var (
		mu     sync.Mutex
		checks int
		check  bool
	)
	embedder := &mockEmbedder{
		embedFn: func(ctx context.Context, text string) ([]float32, error) {
			mu.Lock()
			defer mu.Unlock()
			if check {
				checks++
				n, err := store.Count(ctx, "embeddings_skills")
				if err != nil || n != 3 {
					t.Errorf("во время заполнения за alias'ом %d документов (err=%v), ожидалось 3", n, err)
				}
			}
			return hashVector(text), nil
		},
	}
	o := newTestOrchestrator(t, store, embedder, src.asMock(), nil, ReindexConfig{})

	if _, err := o.Rebuild(ctx, "skills"); err != nil {
		t.Fatalf("первая Rebuild: %v", err)
	}

	mu.Lock()
	check = true
	mu.Unlock()
	src.set(records("new", 5), nil)

	if _, err := o.Rebuild(ctx, "skills"); err != nil {
		t.Fatalf("вторая Rebuild: %v", err)
	}
	if checks != 5 {
		t.Errorf("проверок = %d, ожидалось 5", checks)
	}
	if n := count(t, store, "embeddings_skills"); n != 5 {
		t.Errorf("после переключения документов = %d, ожидалось 5", n)
	}
}

// TestReindex_SkipsFailedEmbeddings проверяет, что ошибка документа не прерывает пересборку.
func TestReindex_SkipsFailedEmbeddings(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	src := &staticSource{data: []model.Record{
		{ID: "1", Name: "ok"},
		{ID: "2", Name: "bad"},
		{ID: "3", Name: "fine"},
	}}
	embedder := &mockEmbedder{
		embedFn: func(_ context.Context, text string) ([]float32, error) {
			if text == "bad" {
				return nil, errors.New("model error")
			}
			return hashVector(text), nil
		},
	}
	o := newTestOrchestrator(t, store, embedder, src.asMock(), nil, ReindexConfig{})

	rep, err := o.Rebuild(ctx, "skills")
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if rep.Indexed != 2 || rep.Skipped != 1 {
		t.Errorf("indexed/skipped = %d/%d, ожидалось 2/1", rep.Indexed, rep.Skipped)
	}
	if findByID(t, store, "embeddings_skills", "2") != nil {
		t.Error("документ id=2 не должен быть проиндексирован")
	}
}

// TestReindex_SourceFailureKeepsAlias проверяет, что ошибка источника не трогает alias.
func TestReindex_SourceFailureKeepsAlias(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	store := newStoreWithCollections(t, reg)
	before := aliasTarget(t, store, "embeddings_skills")

	src := &staticSource{err: errors.New("connection refused")}
	o := newTestOrchestrator(t, store, &mockEmbedder{}, src.asMock(), nil, ReindexConfig{})

	rep, err := o.Rebuild(ctx, "skills")
	if err == nil {
		t.Fatal("ожидалась ошибка источника")
	}
	if rep == nil || rep.Phase != string(generation.PhaseFailed) || rep.Error == "" {
		t.Fatalf("report = %+v, ожидалась фаза failed с ошибкой", rep)
	}
	if got := aliasTarget(t, store, "embeddings_skills"); got != before {
		t.Errorf("alias → %s, ожидался прежний %s", got, before)
	}
	if exists, _ := store.IndexExists(ctx, rep.NewIndex); exists {
		t.Error("новый индекс не должен создаваться при ошибке источника")
	}
}

// TestReindex_CancelledRunLeavesOrphan проверяет прерванное заполнение
// и удаление брошенного индекса следующим запуском.
func TestReindex_CancelledRunLeavesOrphan(t *testing.T) {
	store := memstore.New()
	src := &staticSource{data: records("skill", 3)}

	ctx, cancel := context.WithCancel(context.Background())
	var cancelOnEmbed bool
	var mu sync.Mutex
	embedder := &mockEmbedder{
		embedFn: func(ctx context.Context, text string) ([]float32, error) {
			mu.Lock()
			defer mu.Unlock()
			if cancelOnEmbed {
				cancel()
				return nil, ctx.Err()
			}
			return hashVector(text), nil
		},
	}
	o := newTestOrchestrator(t, store, embedder, src.asMock(), nil, ReindexConfig{Workers: 1})

	first, err := o.Rebuild(context.Background(), "skills")
	if err != nil {
		t.Fatalf("первая Rebuild: %v", err)
	}

	mu.Lock()
	cancelOnEmbed = true
	mu.Unlock()

	interrupted, err := o.Rebuild(ctx, "skills")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, ожидался context.Canceled", err)
	}
	if interrupted.Phase != string(generation.PhaseFailed) {
		t.Errorf("phase = %s, ожидалась failed", interrupted.Phase)
	}
	if got := aliasTarget(t, store, "embeddings_skills"); got != first.NewIndex {
		t.Errorf("alias → %s, ожидался %s", got, first.NewIndex)
	}
	if exists, _ := store.IndexExists(context.Background(), interrupted.NewIndex); !exists {
		t.Fatal("недостроенный индекс должен остаться до следующей пересборки")
	}

	mu.Lock()
	cancelOnEmbed = false
	mu.Unlock()

	next, err := o.Rebuild(context.Background(), "skills")
	if err != nil {
		t.Fatalf("следующая Rebuild: %v", err)
	}
	if next.OrphansDeleted != 1 {
		t.Errorf("orphans_deleted = %d, ожидался 1", next.OrphansDeleted)
	}
	if exists, _ := store.IndexExists(context.Background(), interrupted.NewIndex); exists {
		t.Error("брошенный индекс не удалён")
	}
}

// TestReindex_CleanupScopedToAlias проверяет, что удаляются только временные индексы своей коллекции.
func TestReindex_CleanupScopedToAlias(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	for _, name := range []string{"embeddings_skills_temp_stale", "embeddings_markets_temp_stale"} {
		if err := store.CreateIndex(ctx, name, docstore.Mapping{Dimension: testDimension}); err != nil {
			t.Fatalf("CreateIndex: %v", err)
		}
	}
	src := &staticSource{data: records("skill", 1)}
	o := newTestOrchestrator(t, store, &mockEmbedder{}, src.asMock(), nil, ReindexConfig{})

	rep, err := o.Rebuild(ctx, "skills")
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if rep.OrphansDeleted != 1 {
		t.Errorf("orphans_deleted = %d, ожидался 1", rep.OrphansDeleted)
	}
	if exists, _ := store.IndexExists(ctx, "embeddings_skills_temp_stale"); exists {
		t.Error("embeddings_skills_temp_stale не удалён")
	}
	if exists, _ := store.IndexExists(ctx, "embeddings_markets_temp_stale"); !exists {
		t.Error("индекс другой коллекции удалён")
	}
}

// TestReindex_RejectsConcurrentRebuild проверяет ErrRebuildInProgress.
func TestReindex_RejectsConcurrentRebuild(t *testing.T) {
	store := memstore.New()
	src := &staticSource{data: records("skill", 3)}

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	embedder := &mockEmbedder{
		embedFn: func(ctx context.Context, text string) ([]float32, error) {
			once.Do(func() { close(started) })
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return hashVector(text), nil
		},
	}
	o := newTestOrchestrator(t, store, embedder, src.asMock(), nil, ReindexConfig{})

	initial, err := o.StartRebuild("skills")
	if err != nil {
		t.Fatalf("StartRebuild: %v", err)
	}
	if initial.Phase != string(generation.PhasePending) || initial.ID == "" {
		t.Errorf("начальный отчёт = %+v", initial)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("пересборка не началась")
	}

	if !o.Running("skills") {
		t.Error("Running(skills) = false во время пересборки")
	}
	if _, err := o.StartRebuild("skills"); !errors.Is(err, ErrRebuildInProgress) {
		t.Errorf("повторный StartRebuild: err = %v, ожидался ErrRebuildInProgress", err)
	}
	if _, err := o.Rebuild(context.Background(), "skills"); !errors.Is(err, ErrRebuildInProgress) {
		t.Errorf("Rebuild во время пересборки: err = %v, ожидался ErrRebuildInProgress", err)
	}

	close(release)
	o.Stop()

	if o.Running("skills") {
		t.Error("Running(skills) = true после завершения")
	}
	history, err := o.History(context.Background(), "skills", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].ID != initial.ID || history[0].Phase != string(generation.PhaseCleaned) {
		t.Errorf("history = %+v, ожидался завершённый запуск %s", history, initial.ID)
	}
}

// TestReindex_ProductionOnly проверяет, что тестовая и неизвестная коллекции не пересобираются.
func TestReindex_ProductionOnly(t *testing.T) {
	src := &staticSource{}
	o := newTestOrchestrator(t, memstore.New(), &mockEmbedder{}, src.asMock(), nil, ReindexConfig{})

	for _, name := range []string{"test_index", "unknown"} {
		if _, err := o.Rebuild(context.Background(), name); !errors.Is(err, ErrCollectionNotFound) {
			t.Errorf("Rebuild(%s): err = %v, ожидался ErrCollectionNotFound", name, err)
		}
		if _, err := o.StartRebuild(name); !errors.Is(err, ErrCollectionNotFound) {
			t.Errorf("StartRebuild(%s): err = %v, ожидался ErrCollectionNotFound", name, err)
		}
		if _, err := o.History(context.Background(), name, 1); !errors.Is(err, ErrCollectionNotFound) {
			t.Errorf("History(%s): err = %v, ожидался ErrCollectionNotFound", name, err)
		}
	}
}

// TestReindex_RebuildAllContinuesAfterFailure проверяет, что ошибка одной коллекции
// не прерывает пересборку остальных.
func TestReindex_RebuildAllContinuesAfterFailure(t *testing.T) {
	store := memstore.New()
	src := &mockSource{fetchFn: func(_ context.Context, table string) ([]model.Record, error) {
		if table == "skills" {
			return nil, errors.New("table is locked")
		}
		return records(table, 2), nil
	}}
	o := newTestOrchestrator(t, store, &mockEmbedder{}, src, nil, ReindexConfig{})

	reports, err := o.RebuildAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "skills") {
		t.Errorf("err = %v, ожидалась ошибка коллекции skills", err)
	}
	if len(reports) != 2 {
		t.Fatalf("отчётов = %d, ожидалось 2", len(reports))
	}
	if n := count(t, store, "embeddings_markets"); n != 2 {
		t.Errorf("документов в markets = %d, ожидалось 2", n)
	}
}

// TestReindex_StartOnStart проверяет пересборку всех коллекций при старте.
func TestReindex_StartOnStart(t *testing.T) {
	store := memstore.New()
	src := &mockSource{fetchFn: func(_ context.Context, table string) ([]model.Record, error) {
		return records(table, 1), nil
	}}
	o := newTestOrchestrator(t, store, &mockEmbedder{}, src, nil, ReindexConfig{OnStart: true})

	o.Start(context.Background())
	defer o.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for {
		done := true
		for _, name := range []string{"skills", "markets"} {
			history, err := o.History(context.Background(), name, 1)
			if err != nil {
				t.Fatalf("History: %v", err)
			}
			if len(history) == 0 || history[0].Phase != string(generation.PhaseCleaned) {
				done = false
			}
		}
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("пересборка при старте не завершилась")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestReindex_Journal проверяет запись отчётов в журнал и чтение истории из него.
func TestReindex_Journal(t *testing.T) {
	var (
		mu    sync.Mutex
		saved []model.RebuildReport
	)
	journal := &mockJournal{
		saveFn: func(_ context.Context, rep *model.RebuildReport) error {
			mu.Lock()
			defer mu.Unlock()
			saved = append(saved, *rep)
			return nil
		},
		listFn: func(_ context.Context, collection string, limit int) ([]*model.RebuildReport, error) {
			if collection != "skills" || limit != 7 {
				t.Errorf("ListByCollection(%s, %d)", collection, limit)
			}
			return []*model.RebuildReport{{ID: "from-journal"}}, nil
		},
	}
	src := &staticSource{data: records("skill", 2)}
	o := newTestOrchestrator(t, memstore.New(), &mockEmbedder{}, src.asMock(), journal, ReindexConfig{})

	rep, err := o.Rebuild(context.Background(), "skills")
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	if len(saved) != 2 {
		t.Fatalf("записей в журнал = %d, ожидалось 2", len(saved))
	}
	if saved[0].ID != rep.ID || saved[0].Phase != string(generation.PhasePending) {
		t.Errorf("первая запись = %+v, ожидалась фаза pending", saved[0])
	}
	if saved[1].ID != rep.ID || saved[1].Phase != string(generation.PhaseCleaned) || saved[1].Indexed != 2 {
		t.Errorf("последняя запись = %+v, ожидалась фаза cleaned", saved[1])
	}

	history, err := o.History(context.Background(), "skills", 7)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].ID != "from-journal" {
		t.Errorf("history = %+v, ожидались данные журнала", history)
	}
}

// TestReindex_JournalErrorIgnored проверяет, что ошибка журнала не влияет на пересборку.
func TestReindex_JournalErrorIgnored(t *testing.T) {
	journal := &mockJournal{
		saveFn: func(context.Context, *model.RebuildReport) error { return errors.New("db down") },
	}
	src := &staticSource{data: records("skill", 1)}
	o := newTestOrchestrator(t, memstore.New(), &mockEmbedder{}, src.asMock(), journal, ReindexConfig{})

	if _, err := o.Rebuild(context.Background(), "skills"); err != nil {
		t.Errorf("Rebuild: %v, ошибка журнала не должна прерывать пересборку", err)
	}
}

// TestReindex_HistoryLimit проверяет валидацию limit.
func TestReindex_HistoryLimit(t *testing.T) {
	src := &staticSource{}
	o := newTestOrchestrator(t, memstore.New(), &mockEmbedder{}, src.asMock(), nil, ReindexConfig{})

	if _, err := o.History(context.Background(), "skills", 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("err = %v, ожидался ErrInvalidArgument", err)
	}
	history, err := o.History(context.Background(), "skills", 5)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history = %+v, ожидался пустой список", history)
	}
}

// faultyStore — memstore с управляемыми отказами отдельных операций
// и записью маппингов созданных индексов.
type faultyStore struct {
	*memstore.Store

	mu       sync.Mutex
	copyErr  error
	listErr  error
	mappings map[string]docstore.Mapping
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Store: memstore.New(), mappings: make(map[string]docstore.Mapping)}
}

func (s *faultyStore) fail(copyErr, listErr error) {
	s.mu.Lock()
	s.copyErr, s.listErr = copyErr, listErr
	s.mu.Unlock()
}

func (s *faultyStore) CreateIndex(ctx context.Context, index string, mapping docstore.Mapping) error {
	s.mu.Lock()
	s.mappings[index] = mapping
	s.mu.Unlock()
	return s.Store.CreateIndex(ctx, index, mapping)
}

func (s *faultyStore) CopyIndex(ctx context.Context, src, dst string) error {
	s.mu.Lock()
	err := s.copyErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.CopyIndex(ctx, src, dst)
}

func (s *faultyStore) ListIndices(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	err := s.listErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.ListIndices(ctx, prefix)
}

// TestReindex_BackupCreatedWithMapping проверяет, что backup получает схему рабочих поколений.
func TestReindex_BackupCreatedWithMapping(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	src := &staticSource{data: records("skill", 2)}
	o := newTestOrchestrator(t, store, &mockEmbedder{}, src.asMock(), nil, ReindexConfig{})

	for i := 0; i < 2; i++ {
		if _, err := o.Rebuild(ctx, "skills"); err != nil {
			t.Fatalf("Rebuild %d: %v", i+1, err)
		}
	}

	store.mu.Lock()
	m, ok := store.mappings["embeddings_skills_backup"]
	store.mu.Unlock()
	if !ok {
		t.Fatal("backup должен создаваться через CreateIndex")
	}
	if m != (docstore.Mapping{Dimension: testDimension}) {
		t.Errorf("маппинг backup = %+v, ожидалась размерность %d", m, testDimension)
	}
	if n := count(t, store, "embeddings_skills_backup"); n != 2 {
		t.Errorf("документов в backup = %d, ожидалось 2", n)
	}
}

// TestReindex_BackupCopyFailureKeepsPrevious проверяет ошибку копирования в backup
// после переключения alias'а: пересборка успешна, предыдущее поколение сохраняется,
// следующая пересборка восстанавливает инвариант одного backup'а.
func TestReindex_BackupCopyFailureKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	src := &staticSource{data: records("skill", 2)}
	o := newTestOrchestrator(t, store, &mockEmbedder{}, src.asMock(), nil, ReindexConfig{})

	first, err := o.Rebuild(ctx, "skills")
	if err != nil {
		t.Fatalf("первая Rebuild: %v", err)
	}

	store.fail(errors.New("reindex: 503"), nil)
	src.set(records("skill", 3), nil)
	second, err := o.Rebuild(ctx, "skills")
	if err != nil {
		t.Fatalf("вторая Rebuild: %v, ожидался успех", err)
	}
	if second.Phase != string(generation.PhaseCutOver) {
		t.Errorf("phase = %s, ожидалась cut_over", second.Phase)
	}
	if !strings.Contains(second.Error, "reindex: 503") {
		t.Errorf("error = %q, ожидалась ошибка копирования", second.Error)
	}
	if second.BackupIndex != "" {
		t.Errorf("backup_index = %q, ожидалось пусто", second.BackupIndex)
	}
	if got := aliasTarget(t, store, "embeddings_skills"); got != second.NewIndex {
		t.Errorf("alias → %s, ожидался %s", got, second.NewIndex)
	}
	if exists, _ := store.IndexExists(ctx, first.NewIndex); !exists {
		t.Error("предыдущее поколение должно сохраниться для отката")
	}
	if exists, _ := store.IndexExists(ctx, "embeddings_skills_backup"); exists {
		t.Error("неполный backup должен быть удалён")
	}

	store.fail(nil, nil)
	third, err := o.Rebuild(ctx, "skills")
	if err != nil {
		t.Fatalf("третья Rebuild: %v", err)
	}
	if third.Phase != string(generation.PhaseCleaned) || third.Error != "" {
		t.Errorf("phase/error = %s/%q, ожидалось cleaned без ошибки", third.Phase, third.Error)
	}

	names, err := store.ListIndices(ctx, "embeddings_skills")
	if err != nil {
		t.Fatalf("ListIndices: %v", err)
	}
	want := []string{"embeddings_skills_backup", third.NewIndex}
	slices.Sort(want)
	if !slices.Equal(names, want) {
		t.Errorf("индексы = %v, ожидалось %v", names, want)
	}
	if n := count(t, store, "embeddings_skills_backup"); n != 3 {
		t.Errorf("документов в backup = %d, ожидалось 3 (поколение второй пересборки)", n)
	}
}

// TestReindex_OrphanListFailureAfterCutOver проверяет ошибку очистки после переключения.
func TestReindex_OrphanListFailureAfterCutOver(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	src := &staticSource{data: records("skill", 2)}
	o := newTestOrchestrator(t, store, &mockEmbedder{}, src.asMock(), nil, ReindexConfig{})

	if _, err := o.Rebuild(ctx, "skills"); err != nil {
		t.Fatalf("первая Rebuild: %v", err)
	}

	store.fail(nil, errors.New("cat indices: timeout"))
	rep, err := o.Rebuild(ctx, "skills")
	if err != nil {
		t.Fatalf("Rebuild: %v, ожидался успех", err)
	}
	if rep.Phase != string(generation.PhaseBackedUp) {
		t.Errorf("phase = %s, ожидалась backed_up", rep.Phase)
	}
	if !strings.Contains(rep.Error, "cat indices: timeout") {
		t.Errorf("error = %q, ожидалась ошибка списка индексов", rep.Error)
	}
	if rep.BackupIndex != "embeddings_skills_backup" || rep.OrphansDeleted != 0 {
		t.Errorf("backup/orphans = %q/%d", rep.BackupIndex, rep.OrphansDeleted)
	}
	if got := aliasTarget(t, store, "embeddings_skills"); got != rep.NewIndex {
		t.Errorf("alias → %s, ожидался %s", got, rep.NewIndex)
	}
}
