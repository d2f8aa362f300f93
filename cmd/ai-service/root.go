package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mockaj/ai-service/internal/config"
)

// newRootCmd создаёт корневую команду. Без подкоманды выполняется serve.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ai-service",
		Short: "Семантический поиск по справочникам CRM",
		Long: `ai-service хранит embedding-векторы записей CRM (skills, markets, ...)
в документном хранилище, принимает инкрементальные изменения через sync API
и отвечает на запросы поиска похожих записей.

Конфигурация задаётся переменными окружения AIS_*.`,
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("ai-service version {{.Version}}\n")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Показать версию",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ai-service %s\n", config.Version)
		},
	}
}
