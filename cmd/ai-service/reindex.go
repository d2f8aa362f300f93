package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Mockaj/ai-service/internal/domain/model"
)

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex [collection...]",
		Short: "Пересобрать коллекции из системы-источника",
		Long: `Пересобирает указанные production-коллекции (без аргументов — все)
по одной: новый индекс заполняется из источника, alias переключается атомарно,
прошлое поколение становится резервной копией.

Код возврата ненулевой, если хотя бы одна пересборка завершилась ошибкой.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runReindex(ctx, cmd, args)
		},
	}
}

func runReindex(ctx context.Context, cmd *cobra.Command, names []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("хранилище недоступно: %w", err)
	}

	var reports []*model.RebuildReport
	if len(names) == 0 {
		reports, err = a.orchestrator.RebuildAll(ctx)
	} else {
		reports, err = a.orchestrator.RebuildMany(ctx, names)
	}

	printReports(cmd, reports)
	if err != nil {
		logger.Error("Пересборка завершилась с ошибками", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// printReports выводит сводку запусков таблицей.
func printReports(cmd *cobra.Command, reports []*model.RebuildReport) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COLLECTION\tPHASE\tFETCHED\tINDEXED\tSKIPPED\tINDEX\tERROR")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.Collection, r.Phase, r.Fetched, r.Indexed, r.Skipped, r.NewIndex, r.Error)
	}
	_ = w.Flush()
}
