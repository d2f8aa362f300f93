// sync.go — инкрементальная синхронизация записей.
//
// SyncService применяет провалидированные намерения к документному хранилищу.
// Внешний id не совпадает с handle документа, поэтому каждая мутация
// выполняется по схеме lookup-then-mutate:
//  1. Разрешить физический индекс коллекции
//  2. Term-запрос id = intent.id → handle (если есть)
//  3. Мутация по варианту намерения
//
// PATCH и DELETE без найденного документа — no-op с записью в лог.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Mockaj/ai-service/internal/collection"
	"github.com/Mockaj/ai-service/internal/docstore"
	"github.com/Mockaj/ai-service/internal/domain/intent"
	"github.com/Mockaj/ai-service/internal/domain/model"
	"github.com/Mockaj/ai-service/internal/embedding"
)

// Prometheus-метрики синхронизации.
var syncOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ais_sync_operations_total",
	Help: "Количество sync-намерений по методу и результату.",
}, []string{"method", "outcome"}) // outcome: applied, noop, failed

// Outcome — результат применения намерения.
type Outcome string

const (
	// OutcomeCreated — создан новый документ
	OutcomeCreated Outcome = "created"
	// OutcomeReplaced — существующий документ перезаписан
	OutcomeReplaced Outcome = "replaced"
	// OutcomePatched — документ частично обновлён
	OutcomePatched Outcome = "patched"
	// OutcomeDeleted — документ удалён
	OutcomeDeleted Outcome = "deleted"
	// OutcomeNoMatch — документ с таким id не найден, мутации не было
	OutcomeNoMatch Outcome = "no_match"
)

// ApplyResult — итог применения одного намерения.
type ApplyResult struct {
	Outcome Outcome
	// Handle — handle затронутого документа (пусто для OutcomeNoMatch и OutcomeDeleted)
	Handle string
}

// SyncService — применение sync-намерений.
type SyncService struct {
	store    docstore.Store
	embedder embedding.Provider
	registry *collection.Registry
	logger   *slog.Logger
}

// NewSyncService создаёт сервис синхронизации.
func NewSyncService(
	store docstore.Store,
	embedder embedding.Provider,
	registry *collection.Registry,
	logger *slog.Logger,
) *SyncService {
	return &SyncService{
		store:    store,
		embedder: embedder,
		registry: registry,
		logger:   logger.With(slog.String("component", "sync")),
	}
}

// ResolveCollection возвращает физический индекс коллекции.
// Ищет среди всех коллекций, включая тестовую.
func (s *SyncService) ResolveCollection(ctx context.Context, name string) (string, error) {
	return resolveCollection(ctx, s.store, s.registry, name, false)
}

// resolveCollection — общая логика разрешения для сервисов.
func resolveCollection(ctx context.Context, store docstore.Store, reg *collection.Registry, name string, productionOnly bool) (string, error) {
	var (
		c  collection.Collection
		ok bool
	)
	if productionOnly {
		c, ok = reg.LookupProduction(name)
	} else {
		c, ok = reg.Lookup(name)
	}
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrCollectionNotFound, name)
	}

	index, err := docstore.Resolve(ctx, store, c.Alias)
	if errors.Is(err, docstore.ErrNotFound) {
		return "", fmt.Errorf("%w: индекс %s отсутствует", ErrCollectionNotFound, c.Alias)
	}
	if err != nil {
		return "", err
	}
	return index, nil
}

// Sync применяет намерения к коллекции в порядке следования.
// Первая ошибка хранилища или провайдера прерывает обработку.
func (s *SyncService) Sync(ctx context.Context, name string, intents []intent.Intent) error {
	index, err := s.ResolveCollection(ctx, name)
	if err != nil {
		return err
	}

	for i, in := range intents {
		if _, err := s.Apply(ctx, index, in); err != nil {
			return fmt.Errorf("payload[%d] (id=%s): %w", i, in.RecordID(), err)
		}
	}
	return nil
}

// Apply применяет одно намерение к физическому индексу.
func (s *SyncService) Apply(ctx context.Context, index string, in intent.Intent) (ApplyResult, error) {
	var (
		res ApplyResult
		err error
	)

	switch v := in.(type) {
	case intent.Upsert:
		res, err = s.applyUpsert(ctx, index, v)
	case intent.Patch:
		res, err = s.applyPatch(ctx, index, v)
	case intent.Delete:
		res, err = s.applyDelete(ctx, index, v)
	default:
		err = fmt.Errorf("неизвестный вариант намерения %T", in)
	}

	outcome := "applied"
	switch {
	case err != nil:
		outcome = "failed"
	case res.Outcome == OutcomeNoMatch:
		outcome = "noop"
	}
	syncOperationsTotal.WithLabelValues(string(in.Method()), outcome).Inc()

	return res, err
}

// lookupHandle находит handle документа по внешнему id.
// found=false — документа нет, это не ошибка.
func (s *SyncService) lookupHandle(ctx context.Context, index, id string) (handle string, found bool, err error) {
	hits, err := s.store.TermQuery(ctx, index, docstore.FieldID, id, 1)
	if err != nil {
		return "", false, fmt.Errorf("поиск документа id=%s: %w", id, err)
	}
	if len(hits) == 0 {
		return "", false, nil
	}
	return hits[0].Handle, true, nil
}

func (s *SyncService) applyUpsert(ctx context.Context, index string, in intent.Upsert) (ApplyResult, error) {
	handle, found, err := s.lookupHandle(ctx, index, in.RecordID())
	if err != nil {
		return ApplyResult{}, err
	}

	vector, err := s.embedder.Embed(ctx, in.Name())
	if err != nil {
		return ApplyResult{}, fmt.Errorf("embedding id=%s: %w", in.RecordID(), err)
	}

	doc := model.IndexedDocument{Record: in.Record(), Vector: vector}
	newHandle, err := s.store.IndexDocument(ctx, index, handle, doc)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("запись документа id=%s: %w", in.RecordID(), err)
	}

	outcome := OutcomeCreated
	if found {
		outcome = OutcomeReplaced
	}
	s.logger.Info("Запись синхронизирована",
		slog.String("index", index),
		slog.String("id", in.RecordID()),
		slog.String("method", string(in.Method())),
		slog.String("outcome", string(outcome)),
		slog.String("handle", newHandle),
	)
	return ApplyResult{Outcome: outcome, Handle: newHandle}, nil
}

func (s *SyncService) applyPatch(ctx context.Context, index string, in intent.Patch) (ApplyResult, error) {
	handle, found, err := s.lookupHandle(ctx, index, in.RecordID())
	if err != nil {
		return ApplyResult{}, err
	}
	if !found {
		s.logger.Warn("PATCH: запись не найдена",
			slog.String("index", index),
			slog.String("id", in.RecordID()),
		)
		return ApplyResult{Outcome: OutcomeNoMatch}, nil
	}

	if err := s.store.UpdateDocument(ctx, index, handle, in.Fields()); err != nil {
		return ApplyResult{}, fmt.Errorf("обновление документа id=%s: %w", in.RecordID(), err)
	}

	s.logger.Info("Запись обновлена",
		slog.String("index", index),
		slog.String("id", in.RecordID()),
		slog.String("handle", handle),
	)
	return ApplyResult{Outcome: OutcomePatched, Handle: handle}, nil
}

func (s *SyncService) applyDelete(ctx context.Context, index string, in intent.Delete) (ApplyResult, error) {
	handle, found, err := s.lookupHandle(ctx, index, in.RecordID())
	if err != nil {
		return ApplyResult{}, err
	}
	if !found {
		s.logger.Warn("DELETE: запись не найдена",
			slog.String("index", index),
			slog.String("id", in.RecordID()),
		)
		return ApplyResult{Outcome: OutcomeNoMatch}, nil
	}

	if err := s.store.DeleteDocument(ctx, index, handle); err != nil {
		// Документ удалён между lookup и delete — результат тот же
		if errors.Is(err, docstore.ErrNotFound) {
			return ApplyResult{Outcome: OutcomeNoMatch}, nil
		}
		return ApplyResult{}, fmt.Errorf("удаление документа id=%s: %w", in.RecordID(), err)
	}

	s.logger.Info("Запись удалена",
		slog.String("index", index),
		slog.String("id", in.RecordID()),
		slog.String("handle", handle),
	)
	return ApplyResult{Outcome: OutcomeDeleted}, nil
}
