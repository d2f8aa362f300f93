// Пакет embedding — провайдер embedding-векторов.
//
// Client — HTTP-клиент сервиса эмбеддингов с Ollama-совместимым API
// (POST /api/embed). Поверх него: Cached (LRU с TTL) и RateLimited (token bucket).
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики обращений к провайдеру.
var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ais_embedding_requests_total",
	Help: "Количество запросов к сервису эмбеддингов по результату.",
}, []string{"outcome"})

// ErrDimensionMismatch — провайдер вернул вектор неожиданной размерности.
var ErrDimensionMismatch = errors.New("размерность вектора не совпадает с конфигурацией")

// Provider — функция text → vector фиксированной размерности.
type Provider interface {
	// Embed возвращает embedding текста.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Ping проверяет доступность провайдера.
	Ping(ctx context.Context) error
}

// Config — параметры HTTP-клиента.
type Config struct {
	// URL — базовый адрес сервиса (http://localhost:11434)
	URL string
	// Model — имя модели
	Model string
	// Dimension — ожидаемая размерность вектора
	Dimension int
	// Timeout — таймаут одной попытки
	Timeout time.Duration
	// MaxRetries — количество повторов после первой попытки
	MaxRetries int
	// InitialBackoff — задержка перед первым повтором (по умолчанию 200ms)
	InitialBackoff time.Duration
}

// Client — HTTP-клиент сервиса эмбеддингов.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Provider = (*Client)(nil)

// NewClient создаёт HTTP-клиент.
// Таймаут задаётся per-request через context, http.Client.Timeout не используется.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.With(slog.String("component", "embedding_client")),
	}
}

// embedRequest — тело POST /api/embed.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse — ответ /api/embed.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// statusError — ответ сервиса с кодом, отличным от 200.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("сервис эмбеддингов вернул статус %d: %s", e.status, e.body)
}

// retryable — сетевые ошибки, 429 и 5xx повторяются, остальные нет.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	return !errors.Is(err, ErrDimensionMismatch)
}

// Embed возвращает embedding текста с повторами при временных ошибках.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	backoff := c.cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		vec, err := c.doEmbed(ctx, text)
		if err == nil {
			requestsTotal.WithLabelValues("success").Inc()
			return vec, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			requestsTotal.WithLabelValues("error").Inc()
			return nil, ctx.Err()
		}
		if !retryable(err) {
			break
		}
		c.logger.Debug("Повтор запроса эмбеддинга",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	requestsTotal.WithLabelValues("error").Inc()
	return nil, fmt.Errorf("embedding: %w", lastErr)
}

// doEmbed выполняет одну попытку.
func (c *Client) doEmbed(ctx context.Context, text string) ([]float32, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("сериализация запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос к сервису эмбеддингов: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("декодирование ответа: %w", err)
	}
	if len(result.Embeddings) != 1 {
		return nil, fmt.Errorf("ожидался 1 вектор, получено %d", len(result.Embeddings))
	}

	vec := result.Embeddings[0]
	if c.cfg.Dimension > 0 && len(vec) != c.cfg.Dimension {
		return nil, fmt.Errorf("%w: %d вместо %d", ErrDimensionMismatch, len(vec), c.cfg.Dimension)
	}
	return vec, nil
}

// Ping проверяет доступность сервиса (GET /).
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/", nil)
	if err != nil {
		return fmt.Errorf("создание запроса: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("запрос к сервису эмбеддингов: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{status: resp.StatusCode}
	}
	return nil
}
