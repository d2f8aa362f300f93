// reindex_scheduler.go — фоновые запуски пересборки.
//
// Три способа запустить пересборку помимо синхронного Rebuild:
//   - StartRebuild — асинхронно по HTTP-запросу (202 сразу, 409 если уже идёт)
//   - Start с OnStart — все production-коллекции при старте
//   - Start с Interval > 0 — все production-коллекции по ticker
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mockaj/ai-service/internal/domain/model"
)

// RebuildAll последовательно пересобирает все production-коллекции.
// Ошибка одной коллекции не прерывает остальные; возвращается объединённая ошибка.
func (o *ReindexOrchestrator) RebuildAll(ctx context.Context) ([]*model.RebuildReport, error) {
	names := make([]string, 0)
	for _, c := range o.registry.Production() {
		names = append(names, c.Name)
	}
	return o.RebuildMany(ctx, names)
}

// RebuildMany последовательно пересобирает указанные коллекции.
func (o *ReindexOrchestrator) RebuildMany(ctx context.Context, names []string) ([]*model.RebuildReport, error) {
	reports := make([]*model.RebuildReport, 0, len(names))
	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		rep, err := o.Rebuild(ctx, name)
		if rep != nil {
			reports = append(reports, rep)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return reports, errors.Join(errs...)
}

// StartRebuild захватывает коллекцию и запускает пересборку в фоне.
// Возвращает начальный отчёт (фаза pending) или ErrCollectionNotFound / ErrRebuildInProgress.
func (o *ReindexOrchestrator) StartRebuild(name string) (*model.RebuildReport, error) {
	c, err := o.begin(name)
	if err != nil {
		return nil, err
	}

	rep := o.newReport(c)
	initial := *rep
	ctx := o.context()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(c.Name)
		// Ошибка уже залогирована и сохранена в отчёте
		_ = o.run(ctx, c, rep)
	}()

	return &initial, nil
}

// context возвращает контекст фоновых пересборок (отменяется в Stop).
func (o *ReindexOrchestrator) context() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.baseCtx
}

// Start запускает фоновую горутину: пересборку при старте и периодическую пересборку.
// Вызывается один раз при старте приложения.
func (o *ReindexOrchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	o.done = make(chan struct{})

	o.mu.Lock()
	o.baseCtx = ctx
	o.mu.Unlock()

	go func() {
		defer close(o.done)

		if o.onStart {
			o.logger.Info("Пересборка всех коллекций при старте")
			o.rebuildAllLogged(ctx)
		}

		if o.interval <= 0 {
			<-ctx.Done()
			return
		}

		o.logger.Info("Периодическая пересборка коллекций запущена",
			slog.String("interval", o.interval.String()),
			slog.Int("workers", o.workers),
		)

		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				o.logger.Info("Периодическая пересборка коллекций остановлена")
				return
			case <-ticker.C:
				o.logger.Info("Запуск периодической пересборки всех коллекций")
				o.rebuildAllLogged(ctx)
			}
		}
	}()
}

func (o *ReindexOrchestrator) rebuildAllLogged(ctx context.Context) {
	reports, err := o.RebuildAll(ctx)
	if err != nil {
		o.logger.Error("Ошибка пересборки коллекций", slog.String("error", err.Error()))
		return
	}
	o.logger.Info("Пересборка коллекций завершена", slog.Int("collections", len(reports)))
}

// Stop отменяет фоновые пересборки и ждёт их завершения.
func (o *ReindexOrchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	if o.done != nil {
		<-o.done
	}
	o.wg.Wait()
}
