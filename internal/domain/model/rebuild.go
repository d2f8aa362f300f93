package model

import "time"

// RebuildReport — итог одной пересборки коллекции.
// Phase — последняя достигнутая фаза (см. пакет generation).
type RebuildReport struct {
	// ID — UUID запуска
	ID string `json:"id"`
	// Collection — логическое имя коллекции (skills, markets, ...)
	Collection string `json:"collection"`
	// Alias — физическое имя alias'а (embeddings_skills)
	Alias string `json:"alias"`
	// NewIndex — индекс нового поколения (<alias>_temp_<uuid>)
	NewIndex string `json:"new_index"`
	// PreviousIndex — индекс, стоявший за alias'ом до переключения
	PreviousIndex string `json:"previous_index,omitempty"`
	// BackupIndex — имя резервной копии (<alias>_backup), если она создана
	BackupIndex string `json:"backup_index,omitempty"`
	// Phase — последняя достигнутая фаза
	Phase string `json:"phase"`
	// Fetched — количество записей, полученных из источника
	Fetched int `json:"fetched"`
	// Indexed — количество записанных документов
	Indexed int `json:"indexed"`
	// Skipped — количество документов, пропущенных из-за ошибок
	Skipped int `json:"skipped"`
	// OrphansDeleted — количество удалённых брошенных временных индексов
	OrphansDeleted int `json:"orphans_deleted"`
	// Error — текст ошибки (фатальной или нефатальной после переключения)
	Error string `json:"error,omitempty"`
	// StartedAt — время начала
	StartedAt time.Time `json:"started_at"`
	// CompletedAt — время завершения
	CompletedAt time.Time `json:"completed_at"`
}
