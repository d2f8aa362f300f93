package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/Mockaj/ai-service/internal/domain/model"
)

// MySQL — система-источник на MySQL (database/sql + go-sql-driver/mysql).
type MySQL struct {
	db     *sql.DB
	tables whitelist
	logger *slog.Logger
}

var _ Source = (*MySQL)(nil)

// MySQLDSN формирует DSN go-sql-driver/mysql.
func MySQLDSN(cfg Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Name
	mc.Timeout = 10 * time.Second
	if cfg.SSLMode != "" && cfg.SSLMode != "disable" {
		mc.TLSConfig = "true"
	}
	return mc.FormatDSN()
}

// openMySQL создаёт пул без проверки подключения.
func openMySQL(cfg Config, tables []string, logger *slog.Logger) (*MySQL, error) {
	db, err := sql.Open("mysql", MySQLDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия MySQL: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &MySQL{
		db:     db,
		tables: newWhitelist(tables),
		logger: logger.With(slog.String("component", "source_mysql")),
	}, nil
}

// NewMySQL создаёт пул подключений и выполняет ping.
func NewMySQL(ctx context.Context, cfg Config, tables []string, logger *slog.Logger) (*MySQL, error) {
	m, err := openMySQL(cfg, tables, logger)
	if err != nil {
		return nil, err
	}
	if err := m.db.PingContext(ctx); err != nil {
		_ = m.db.Close()
		return nil, fmt.Errorf("ошибка подключения к источнику MySQL: %w", err)
	}

	logger.Info("Подключение к источнику MySQL установлено",
		slog.String("host", cfg.Host),
		slog.Int("port", cfg.Port),
		slog.String("database", cfg.Name),
	)
	return m, nil
}

// quoteIdent экранирует идентификатор MySQL.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// FetchRecords читает все строки таблицы.
func (m *MySQL) FetchRecords(ctx context.Context, table string) ([]model.Record, error) {
	if err := m.tables.check(table); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT CAST(id AS CHAR), name, description, CAST(status AS CHAR) FROM %s",
		quoteIdent(table),
	)

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения таблицы %s: %w", table, err)
	}
	defer rows.Close()

	c := &collect{table: table, logger: m.logger}
	for rows.Next() {
		var id, name, description, status sql.NullString
		if err := rows.Scan(&id, &name, &description, &status); err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки %s: %w", table, err)
		}
		c.add(nullable(id), nullable(name), nullable(description), nullable(status))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации строк %s: %w", table, err)
	}
	return c.done(), nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// Ping проверяет подключение.
func (m *MySQL) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// Close закрывает пул.
func (m *MySQL) Close() {
	_ = m.db.Close()
}
