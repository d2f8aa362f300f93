// Пакет source — чтение записей из системы-источника (CRM).
// Таблица соответствует логическому имени коллекции и должна входить
// в белый список: имя таблицы подставляется в SQL как идентификатор.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/Mockaj/ai-service/internal/domain/model"
)

// ErrUnknownTable — таблица не входит в белый список.
var ErrUnknownTable = errors.New("таблица не зарегистрирована")

// Драйверы системы-источника.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Source — система-источник записей.
type Source interface {
	// FetchRecords возвращает все записи таблицы.
	// Строки, не проходящие проверку, пропускаются с предупреждением в лог.
	FetchRecords(ctx context.Context, table string) ([]model.Record, error)
	// Ping проверяет доступность базы.
	Ping(ctx context.Context) error
	// Close закрывает подключения.
	Close()
}

// Config — параметры подключения к системе-источнику.
type Config struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// New создаёт источник по драйверу и проверяет подключение.
// tables — белый список таблиц.
func New(ctx context.Context, cfg Config, tables []string, logger *slog.Logger) (Source, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return NewPostgres(ctx, cfg, tables, logger)
	case DriverMySQL:
		return NewMySQL(ctx, cfg, tables, logger)
	default:
		return nil, fmt.Errorf("неизвестный драйвер источника: %q", cfg.Driver)
	}
}

// whitelist — множество допустимых таблиц.
type whitelist map[string]struct{}

func newWhitelist(tables []string) whitelist {
	w := make(whitelist, len(tables))
	for _, t := range tables {
		w[t] = struct{}{}
	}
	return w
}

func (w whitelist) check(table string) error {
	if _, ok := w[table]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return nil
}

// rowToRecord преобразует строку (id, name, description, status) в Record.
// NULL и пустой status означают отсутствие статуса.
func rowToRecord(id, name, description, status *string) (model.Record, error) {
	if id == nil || *id == "" {
		return model.Record{}, errors.New("пустой id")
	}
	if strings.IndexFunc(*id, unicode.IsSpace) >= 0 {
		return model.Record{}, fmt.Errorf("id %q содержит пробельные символы", *id)
	}
	if name == nil {
		return model.Record{}, fmt.Errorf("запись %s: name = NULL", *id)
	}

	rec := model.Record{ID: *id, Name: *name, Description: description}
	if status != nil && *status != "" {
		st, err := model.ParseStatus(*status)
		if err != nil {
			return model.Record{}, fmt.Errorf("запись %s: %w", *id, err)
		}
		rec.Status = &st
	}
	return rec, nil
}

// collect накапливает записи, пропуская некорректные строки.
type collect struct {
	table   string
	logger  *slog.Logger
	records []model.Record
	skipped int
}

func (c *collect) add(id, name, description, status *string) {
	rec, err := rowToRecord(id, name, description, status)
	if err != nil {
		c.skipped++
		c.logger.Warn("Строка источника пропущена",
			slog.String("table", c.table),
			slog.String("error", err.Error()),
		)
		return
	}
	c.records = append(c.records, rec)
}

func (c *collect) done() []model.Record {
	c.logger.Info("Записи получены из источника",
		slog.String("table", c.table),
		slog.Int("records", len(c.records)),
		slog.Int("skipped", c.skipped),
	)
	return c.records
}
