package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Mockaj/ai-service/internal/domain/model"
)

// RebuildRunRepository — интерфейс для таблицы rebuild_runs.
type RebuildRunRepository interface {
	// Save сохраняет итог запуска (upsert по id).
	Save(ctx context.Context, report *model.RebuildReport) error
	// ListByCollection возвращает последние запуски коллекции, новые первыми.
	ListByCollection(ctx context.Context, collection string, limit int) ([]*model.RebuildReport, error)
}

// rebuildRunRepo — реализация RebuildRunRepository.
type rebuildRunRepo struct {
	db DBTX
}

// NewRebuildRunRepository создаёт репозиторий журнала пересборок.
func NewRebuildRunRepository(db DBTX) RebuildRunRepository {
	return &rebuildRunRepo{db: db}
}

func (r *rebuildRunRepo) Save(ctx context.Context, rep *model.RebuildReport) error {
	query := `
		INSERT INTO rebuild_runs (
			id, collection, alias, new_index, previous_index, backup_index, phase,
			fetched, indexed, skipped, orphans_deleted, error, started_at, completed_at
		) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			previous_index  = EXCLUDED.previous_index,
			backup_index    = EXCLUDED.backup_index,
			phase           = EXCLUDED.phase,
			fetched         = EXCLUDED.fetched,
			indexed         = EXCLUDED.indexed,
			skipped         = EXCLUDED.skipped,
			orphans_deleted = EXCLUDED.orphans_deleted,
			error           = EXCLUDED.error,
			completed_at    = EXCLUDED.completed_at`

	_, err := r.db.Exec(ctx, query,
		rep.ID, rep.Collection, rep.Alias, rep.NewIndex,
		nullIfEmpty(rep.PreviousIndex), nullIfEmpty(rep.BackupIndex), rep.Phase,
		rep.Fetched, rep.Indexed, rep.Skipped, rep.OrphansDeleted,
		nullIfEmpty(rep.Error), rep.StartedAt, rep.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения запуска пересборки %s: %w", rep.ID, err)
	}
	return nil
}

func (r *rebuildRunRepo) ListByCollection(ctx context.Context, collection string, limit int) ([]*model.RebuildReport, error) {
	query := `
		SELECT id::text, collection, alias, new_index,
		       COALESCE(previous_index, ''), COALESCE(backup_index, ''), phase,
		       fetched, indexed, skipped, orphans_deleted, COALESCE(error, ''),
		       started_at, completed_at
		FROM rebuild_runs
		WHERE collection = $1
		ORDER BY started_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, collection, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала пересборок: %w", err)
	}

	reports, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.RebuildReport, error) {
		rep := &model.RebuildReport{}
		err := row.Scan(
			&rep.ID, &rep.Collection, &rep.Alias, &rep.NewIndex,
			&rep.PreviousIndex, &rep.BackupIndex, &rep.Phase,
			&rep.Fetched, &rep.Indexed, &rep.Skipped, &rep.OrphansDeleted, &rep.Error,
			&rep.StartedAt, &rep.CompletedAt,
		)
		return rep, err
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования журнала пересборок: %w", err)
	}
	return reports, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
