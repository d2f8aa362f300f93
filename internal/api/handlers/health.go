// health.go — обработчики health endpoints ai-service.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (хранилище, сервис эмбеддингов, журнал)
// /metrics — Prometheus метрики
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mockaj/ai-service/internal/config"
)

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"

	serviceName = "ai-service"
)

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// PingChecker адаптирует функцию Ping к ReadinessChecker.
// При ошибке возвращает FailStatus (по умолчанию "fail").
type PingChecker struct {
	Name       string
	Ping       func(ctx context.Context) error
	FailStatus string
	Timeout    time.Duration
}

// CheckReady вызывает Ping с таймаутом (по умолчанию 3s).
func (c PingChecker) CheckReady() (string, string) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		status := c.FailStatus
		if status == "" {
			status = statusFail
		}
		return status, fmt.Sprintf("%s недоступен: %v", c.Name, err)
	}
	return statusOK, "подключение активно"
}

// namedChecker — проверка с именем в ответе readiness.
type namedChecker struct {
	name    string
	checker ReadinessChecker
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	checkers    []namedChecker
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// store и embedding обязательны для готовности (nil даёт "fail"),
// journal может быть nil — тогда проверка не выполняется.
func NewHealthHandler(store, embedding, journal ReadinessChecker) *HealthHandler {
	checkers := []namedChecker{
		{name: "store", checker: store},
		{name: "embedding", checker: embedding},
	}
	if journal != nil {
		checkers = append(checkers, namedChecker{name: "journal", checker: journal})
	}
	return &HealthHandler{
		checkers:    checkers,
		promHandler: promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse — ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
type healthReadyResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady — readiness probe.
// Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
		Checks:    make(map[string]healthCheckResult, len(h.checkers)),
	}

	statuses := make([]string, 0, len(h.checkers))
	for _, c := range h.checkers {
		res := healthCheckResult{Status: statusFail, Message: "не инициализирован"}
		if c.checker != nil {
			res.Status, res.Message = c.checker.CheckReady()
		}
		resp.Checks[c.name] = res
		statuses = append(statuses, res.Status)
	}
	resp.Status = overallStatus(statuses...)

	code := http.StatusOK
	if resp.Status == statusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus определяет итоговый статус из статусов зависимостей.
// Если хотя бы одна зависимость fail — итог fail.
// Если хотя бы одна degraded — итог degraded.
// Иначе — ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == statusDegraded {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return statusDegraded
	}
	return statusOK
}
