// Пакет server — HTTP-сервер ai-service с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Mockaj/ai-service/internal/api/handlers"
	"github.com/Mockaj/ai-service/internal/api/middleware"
	"github.com/Mockaj/ai-service/internal/config"
	"github.com/Mockaj/ai-service/internal/domain/rbac"
)

// Server — HTTP-сервер ai-service.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// jwtAuth — JWT middleware (nil — аутентификация отключена).
func New(cfg *config.Config, logger *slog.Logger, handler *handlers.APIHandler, jwtAuth *middleware.JWTAuth) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(handler, jwtAuth, logger),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты API.
// /health/*, /metrics и /api/v1/monitoring публичные; остальные маршруты
// при включённой аутентификации требуют роль или scope.
func NewRouter(h *handlers.APIHandler, jwtAuth *middleware.JWTAuth, logger *slog.Logger) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	router.Use(chimw.Recoverer)

	// Health и metrics проверяются Kubernetes напрямую, без API Gateway.
	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/monitoring", h.Monitoring)

		// Чтение: admin, readonly или SA с records:read
		r.Group(func(r chi.Router) {
			if jwtAuth != nil {
				r.Use(jwtAuth.Middleware())
				r.Use(middleware.RequireRoleOrScope(
					[]string{rbac.RoleAdmin, rbac.RoleReadonly},
					[]string{rbac.ScopeRecordsRead, rbac.ScopeRecordsWrite},
				))
			}
			r.Get("/collections", h.ListCollections)
			r.Post("/collections/{name}/similarities", h.FindSimilarities)
			r.Get("/collections/{name}/rebuilds", h.ListRebuilds)
		})

		// Запись: admin или SA с records:write
		r.Group(func(r chi.Router) {
			if jwtAuth != nil {
				r.Use(jwtAuth.Middleware())
				r.Use(middleware.RequireRoleOrScope(
					[]string{rbac.RoleAdmin},
					[]string{rbac.ScopeRecordsWrite},
				))
			}
			r.Post("/collections/{name}/sync", h.SyncCollection)
			r.Post("/collections/{name}/rebuild", h.RebuildCollection)
		})
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
