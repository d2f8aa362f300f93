// reindex.go — пересборка коллекции с переключением alias'а без простоя.
//
// Rebuild выполняет шаги строго по порядку, каждый — отдельная фаза:
//  1. fetched   — все записи таблицы получены из источника
//  2. created   — создан индекс <alias>_temp_<uuid> с фиксированным маппингом
//  3. populated — для каждой записи получен embedding name и документ записан;
//     ошибка отдельного документа логируется и учитывается в skipped
//  4. cut_over  — alias привязан к новому индексу (или переключён одной
//     транзакцией remove+add, если уже существовал)
//  5. backed_up — старый backup удалён, предыдущее поколение скопировано
//     в <alias>_backup и удалено
//  6. cleaned   — удалены брошенные временные индексы прошлых запусков
//
// Ошибка на шагах 1–3 оставляет alias нетронутым, недостроенный индекс
// удаляется шагом 6 следующего запуска. Ошибки шагов 5–6 не фатальны:
// они попадают в отчёт и исправляются следующей пересборкой.
//
// Одновременно выполняется не более одной пересборки на коллекцию.
//
// Prometheus-метрики:
//   - ais_rebuild_duration_seconds — длительность пересборки
//   - ais_rebuild_documents_total — документы по результату (indexed, skipped)
//   - ais_rebuild_runs_total — запуски по результату (success, failed)
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/Mockaj/ai-service/internal/collection"
	"github.com/Mockaj/ai-service/internal/docstore"
	"github.com/Mockaj/ai-service/internal/domain/generation"
	"github.com/Mockaj/ai-service/internal/domain/model"
	"github.com/Mockaj/ai-service/internal/embedding"
	"github.com/Mockaj/ai-service/internal/repository"
	"github.com/Mockaj/ai-service/internal/source"
)

// Prometheus-метрики пересборки.
var (
	rebuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ais_rebuild_duration_seconds",
		Help:    "Длительность пересборки коллекции.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s … ~17m
	}, []string{"collection"})

	rebuildDocumentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ais_rebuild_documents_total",
		Help: "Количество документов, обработанных при пересборке.",
	}, []string{"collection", "result"}) // result: indexed, skipped

	rebuildRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ais_rebuild_runs_total",
		Help: "Количество запусков пересборки по результату.",
	}, []string{"collection", "outcome"}) // outcome: success, failed
)

// journalTimeout — таймаут записи в журнал (в том числе после отмены контекста пересборки).
const journalTimeout = 5 * time.Second

// ReindexConfig — параметры пересборки.
type ReindexConfig struct {
	// Dimension — размерность вектора в маппинге
	Dimension int
	// Workers — число параллельных запросов эмбеддингов при заполнении
	Workers int
	// Interval — период фоновой пересборки всех коллекций (0 — выключено)
	Interval time.Duration
	// OnStart — пересобрать все коллекции при старте
	OnStart bool
}

// ReindexOrchestrator — пересборка коллекций.
type ReindexOrchestrator struct {
	store    docstore.Store
	embedder embedding.Provider
	source   source.Source
	registry *collection.Registry
	journal  repository.RebuildRunRepository
	mapping  docstore.Mapping
	workers  int
	interval time.Duration
	onStart  bool
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]struct{}
	last    map[string]model.RebuildReport
	baseCtx context.Context

	wg     sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReindexOrchestrator создаёт оркестратор пересборки.
// journal может быть nil — тогда хранится только последний отчёт в памяти.
func NewReindexOrchestrator(
	store docstore.Store,
	embedder embedding.Provider,
	src source.Source,
	registry *collection.Registry,
	journal repository.RebuildRunRepository,
	cfg ReindexConfig,
	logger *slog.Logger,
) *ReindexOrchestrator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &ReindexOrchestrator{
		store:    store,
		embedder: embedder,
		source:   src,
		registry: registry,
		journal:  journal,
		mapping:  docstore.Mapping{Dimension: cfg.Dimension},
		workers:  workers,
		interval: cfg.Interval,
		onStart:  cfg.OnStart,
		logger:   logger.With(slog.String("component", "reindex")),
		running:  make(map[string]struct{}),
		last:     make(map[string]model.RebuildReport),
		baseCtx:  context.Background(),
	}
}

// Rebuild синхронно пересобирает production-коллекцию.
// Отчёт возвращается и при ошибке (если запуск начался).
func (o *ReindexOrchestrator) Rebuild(ctx context.Context, name string) (*model.RebuildReport, error) {
	c, err := o.begin(name)
	if err != nil {
		return nil, err
	}
	defer o.release(c.Name)

	rep := o.newReport(c)
	err = o.run(ctx, c, rep)
	return rep, err
}

// begin находит коллекцию и захватывает её для пересборки.
func (o *ReindexOrchestrator) begin(name string) (collection.Collection, error) {
	c, ok := o.registry.LookupProduction(name)
	if !ok {
		return collection.Collection{}, fmt.Errorf("%w: %q", ErrCollectionNotFound, name)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.running[c.Name]; busy {
		return collection.Collection{}, fmt.Errorf("%w: %s", ErrRebuildInProgress, c.Name)
	}
	o.running[c.Name] = struct{}{}
	return c, nil
}

func (o *ReindexOrchestrator) release(name string) {
	o.mu.Lock()
	delete(o.running, name)
	o.mu.Unlock()
}

// Running сообщает, выполняется ли пересборка коллекции.
func (o *ReindexOrchestrator) Running(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, busy := o.running[name]
	return busy
}

func (o *ReindexOrchestrator) newReport(c collection.Collection) *model.RebuildReport {
	now := time.Now().UTC()
	return &model.RebuildReport{
		ID:          uuid.NewString(),
		Collection:  c.Name,
		Alias:       c.Alias,
		NewIndex:    generation.NewTempName(c.Alias),
		Phase:       string(generation.PhasePending),
		StartedAt:   now,
		CompletedAt: now,
	}
}

// snapshot сохраняет копию отчёта как последний известный для коллекции.
func (o *ReindexOrchestrator) snapshot(rep *model.RebuildReport) {
	o.mu.Lock()
	o.last[rep.Collection] = *rep
	o.mu.Unlock()
}

// run выполняет пересборку, ведёт метрики и журнал.
func (o *ReindexOrchestrator) run(ctx context.Context, c collection.Collection, rep *model.RebuildReport) error {
	start := time.Now()
	o.logger.Info("Пересборка коллекции начата",
		slog.String("collection", c.Name),
		slog.String("run_id", rep.ID),
		slog.String("new_index", rep.NewIndex),
	)
	o.snapshot(rep)
	o.saveJournal(ctx, rep)

	err := o.execute(ctx, c, rep, generation.NewTracker())

	rep.CompletedAt = time.Now().UTC()
	o.snapshot(rep)
	o.saveJournal(ctx, rep)

	rebuildDuration.WithLabelValues(c.Name).Observe(time.Since(start).Seconds())
	rebuildDocumentsTotal.WithLabelValues(c.Name, "indexed").Add(float64(rep.Indexed))
	rebuildDocumentsTotal.WithLabelValues(c.Name, "skipped").Add(float64(rep.Skipped))

	if err != nil {
		rebuildRunsTotal.WithLabelValues(c.Name, "failed").Inc()
		o.logger.Error("Пересборка коллекции не удалась",
			slog.String("collection", c.Name),
			slog.String("run_id", rep.ID),
			slog.String("phase", rep.Phase),
			slog.String("error", err.Error()),
		)
		return err
	}

	rebuildRunsTotal.WithLabelValues(c.Name, "success").Inc()
	o.logger.Info("Пересборка коллекции завершена",
		slog.String("collection", c.Name),
		slog.String("run_id", rep.ID),
		slog.String("phase", rep.Phase),
		slog.Int("fetched", rep.Fetched),
		slog.Int("indexed", rep.Indexed),
		slog.Int("skipped", rep.Skipped),
		slog.Int("orphans_deleted", rep.OrphansDeleted),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// advance переводит трекер и отчёт в следующую фазу.
func (o *ReindexOrchestrator) advance(tr *generation.Tracker, rep *model.RebuildReport, phase generation.Phase) {
	if err := tr.Advance(phase); err != nil {
		o.logger.Error("Нарушен порядок фаз пересборки",
			slog.String("run_id", rep.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	rep.Phase = string(phase)
	o.snapshot(rep)
}

// execute — шаги 1–6.
func (o *ReindexOrchestrator) execute(ctx context.Context, c collection.Collection, rep *model.RebuildReport, tr *generation.Tracker) error {
	fail := func(err error) error {
		o.advance(tr, rep, generation.PhaseFailed)
		rep.Error = err.Error()
		return err
	}

	// 1. Записи источника
	records, err := o.source.FetchRecords(ctx, c.Name)
	if err != nil {
		return fail(fmt.Errorf("получение записей %s: %w", c.Name, err))
	}
	rep.Fetched = len(records)
	o.advance(tr, rep, generation.PhaseFetched)

	// 2. Новое поколение
	if err := o.store.CreateIndex(ctx, rep.NewIndex, o.mapping); err != nil {
		return fail(fmt.Errorf("создание индекса %s: %w", rep.NewIndex, err))
	}
	o.advance(tr, rep, generation.PhaseCreated)

	// 3. Заполнение
	indexed, skipped, err := o.populate(ctx, rep.NewIndex, records)
	rep.Indexed, rep.Skipped = indexed, skipped
	if err != nil {
		return fail(fmt.Errorf("заполнение индекса %s: %w", rep.NewIndex, err))
	}
	o.advance(tr, rep, generation.PhasePopulated)

	// 4. Переключение alias'а
	previous, err := o.cutOver(ctx, c.Alias, rep.NewIndex)
	if err != nil {
		return fail(fmt.Errorf("переключение alias %s: %w", c.Alias, err))
	}
	rep.PreviousIndex = previous
	o.advance(tr, rep, generation.PhaseCutOver)

	var afterCutOver []error

	// 5. Ротация backup
	keep := []string{rep.NewIndex}
	if previous != "" {
		backup, err := o.rotateBackup(ctx, c.Alias, previous)
		if err != nil {
			// Предыдущее поколение остаётся единственной копией для отката
			keep = append(keep, previous)
			afterCutOver = append(afterCutOver, err)
		} else {
			rep.BackupIndex = backup
			o.advance(tr, rep, generation.PhaseBackedUp)
		}
	}

	// 6. Брошенные временные индексы
	deleted, err := o.cleanupOrphans(ctx, c.Alias, keep)
	rep.OrphansDeleted = deleted
	if err != nil {
		afterCutOver = append(afterCutOver, err)
	}

	if len(afterCutOver) > 0 {
		joined := errors.Join(afterCutOver...)
		rep.Error = joined.Error()
		o.logger.Warn("Пересборка: ошибки после переключения alias'а",
			slog.String("collection", c.Name),
			slog.String("run_id", rep.ID),
			slog.String("error", rep.Error),
		)
		return nil
	}

	o.advance(tr, rep, generation.PhaseCleaned)
	return nil
}

// populate получает embeddings параллельно (не более workers запросов) и
// загружает документы в индекс. Ошибки отдельных документов не прерывают
// заполнение. Отмена контекста прерывает его целиком.
func (o *ReindexOrchestrator) populate(ctx context.Context, index string, records []model.Record) (indexed, skipped int, err error) {
	docs := make([]*model.IndexedDocument, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, rec := range records {
		g.Go(func() error {
			vector, err := o.embedder.Embed(gctx, rec.Name)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				o.logger.Warn("Документ пропущен: ошибка embedding",
					slog.String("index", index),
					slog.String("id", rec.ID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			docs[i] = &model.IndexedDocument{Record: rec, Vector: vector}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	batch := make([]model.IndexedDocument, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			batch = append(batch, *d)
		}
	}
	skipped = len(records) - len(batch)

	if len(batch) == 0 {
		return 0, skipped, nil
	}

	res, err := o.store.BulkIndex(ctx, index, batch)
	if err != nil {
		return res.Indexed, skipped, err
	}
	for _, f := range res.Failures {
		o.logger.Warn("Документ пропущен: ошибка записи",
			slog.String("index", index),
			slog.String("id", f.ID),
			slog.String("error", f.Err.Error()),
		)
	}
	return res.Indexed, skipped + len(res.Failures), nil
}

// cutOver привязывает alias к новому индексу.
// Возвращает индекс, на который alias указывал раньше (пусто, если alias'а не было).
func (o *ReindexOrchestrator) cutOver(ctx context.Context, alias, newIndex string) (string, error) {
	exists, err := o.store.AliasExists(ctx, alias)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := o.store.PutAlias(ctx, newIndex, alias); err != nil {
			return "", err
		}
		o.logger.Info("Alias создан",
			slog.String("alias", alias),
			slog.String("index", newIndex),
		)
		return "", nil
	}

	previous, err := o.store.AliasTarget(ctx, alias)
	if err != nil {
		return "", err
	}
	if err := o.store.SwapAlias(ctx, alias, previous, newIndex); err != nil {
		return "", err
	}
	o.logger.Info("Alias переключён",
		slog.String("alias", alias),
		slog.String("from", previous),
		slog.String("to", newIndex),
	)
	return previous, nil
}

// rotateBackup заменяет backup копией предыдущего поколения и удаляет его.
func (o *ReindexOrchestrator) rotateBackup(ctx context.Context, alias, previous string) (string, error) {
	backup := generation.BackupName(alias)
	if previous == backup {
		return backup, nil
	}

	exists, err := o.store.IndexExists(ctx, backup)
	if err != nil {
		return "", fmt.Errorf("проверка backup %s: %w", backup, err)
	}
	if exists {
		if err := o.store.DeleteIndex(ctx, backup); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return "", fmt.Errorf("удаление старого backup %s: %w", backup, err)
		}
	}

	// Backup создаётся с той же схемой, что и рабочие поколения: term-поиск
	// по id и векторный поиск должны работать после отката на него.
	if err := o.store.CreateIndex(ctx, backup, o.mapping); err != nil {
		return "", fmt.Errorf("создание backup %s: %w", backup, err)
	}
	if err := o.store.CopyIndex(ctx, previous, backup); err != nil {
		if delErr := o.store.DeleteIndex(ctx, backup); delErr != nil && !errors.Is(delErr, docstore.ErrNotFound) {
			o.logger.Warn("Не удалось удалить неполный backup",
				slog.String("backup", backup),
				slog.String("error", delErr.Error()),
			)
		}
		return "", fmt.Errorf("копирование %s в backup: %w", previous, err)
	}
	if err := o.store.DeleteIndex(ctx, previous); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return backup, fmt.Errorf("удаление предыдущего поколения %s: %w", previous, err)
	}

	o.logger.Info("Backup обновлён",
		slog.String("alias", alias),
		slog.String("backup", backup),
		slog.String("from", previous),
	)
	return backup, nil
}

// cleanupOrphans удаляет временные индексы alias'а, кроме keep.
func (o *ReindexOrchestrator) cleanupOrphans(ctx context.Context, alias string, keep []string) (int, error) {
	names, err := o.store.ListIndices(ctx, generation.TempPrefix(alias))
	if err != nil {
		return 0, fmt.Errorf("список временных индексов %s: %w", alias, err)
	}

	var (
		deleted int
		errs    []error
	)
	for _, name := range names {
		if !generation.IsTemp(alias, name) || slices.Contains(keep, name) {
			continue
		}
		if err := o.store.DeleteIndex(ctx, name); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			errs = append(errs, fmt.Errorf("удаление %s: %w", name, err))
			continue
		}
		deleted++
		o.logger.Info("Брошенный временный индекс удалён",
			slog.String("alias", alias),
			slog.String("index", name),
		)
	}
	return deleted, errors.Join(errs...)
}

// saveJournal записывает отчёт в журнал. Ошибки журнала не влияют на пересборку.
func (o *ReindexOrchestrator) saveJournal(ctx context.Context, rep *model.RebuildReport) {
	if o.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	if err := o.journal.Save(ctx, rep); err != nil {
		o.logger.Warn("Ошибка записи журнала пересборки",
			slog.String("run_id", rep.ID),
			slog.String("error", err.Error()),
		)
	}
}

// History возвращает последние запуски пересборки коллекции, новые первыми.
// Без журнала — только последний запуск этого процесса.
func (o *ReindexOrchestrator) History(ctx context.Context, name string, limit int) ([]*model.RebuildReport, error) {
	c, ok := o.registry.LookupProduction(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, name)
	}
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit должен быть положительным, получено %d", ErrInvalidArgument, limit)
	}

	if o.journal != nil {
		return o.journal.ListByCollection(ctx, c.Name, limit)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	rep, ok := o.last[c.Name]
	if !ok {
		return []*model.RebuildReport{}, nil
	}
	return []*model.RebuildReport{&rep}, nil
}
