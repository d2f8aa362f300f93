package source

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mockaj/ai-service/internal/domain/model"
)

// Postgres — система-источник на PostgreSQL (pgxpool).
type Postgres struct {
	pool   *pgxpool.Pool
	tables whitelist
	logger *slog.Logger
}

var _ Source = (*Postgres)(nil)

// PostgresDSN формирует URL подключения.
func PostgresDSN(cfg Config) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
	}
	q := u.Query()
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// NewPostgres создаёт пул подключений и выполняет ping.
func NewPostgres(ctx context.Context, cfg Config, tables []string, logger *slog.Logger) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(PostgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN источника: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений источника: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к источнику PostgreSQL: %w", err)
	}

	logger.Info("Подключение к источнику PostgreSQL установлено",
		slog.String("host", cfg.Host),
		slog.Int("port", cfg.Port),
		slog.String("database", cfg.Name),
	)

	return &Postgres{
		pool:   pool,
		tables: newWhitelist(tables),
		logger: logger.With(slog.String("component", "source_postgres")),
	}, nil
}

// FetchRecords читает все строки таблицы.
// id и status приводятся к тексту на стороне базы.
func (p *Postgres) FetchRecords(ctx context.Context, table string) ([]model.Record, error) {
	if err := p.tables.check(table); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`SELECT id::text, name, description, status::text FROM %s`,
		pgx.Identifier{table}.Sanitize(),
	)

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения таблицы %s: %w", table, err)
	}
	defer rows.Close()

	c := &collect{table: table, logger: p.logger}
	for rows.Next() {
		var id, name, description, status *string
		if err := rows.Scan(&id, &name, &description, &status); err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки %s: %w", table, err)
		}
		c.add(id, name, description, status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации строк %s: %w", table, err)
	}
	return c.done(), nil
}

// Ping проверяет подключение.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close закрывает пул.
func (p *Postgres) Close() {
	p.pool.Close()
}
