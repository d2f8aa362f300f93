// Точка входа ai-service — сервис семантического поиска по справочникам CRM.
// Команды: serve (по умолчанию) — HTTP API с фоновой пересборкой,
// reindex — разовая пересборка коллекций, version — версия сборки.
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("ai-service завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
