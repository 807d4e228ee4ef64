// Package api exposes the HTTP surface: the billing webhook, health checks,
// and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"summarybot/internal/common/logger"
)

// Pinger covers the backing stores the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the router and owns the http.Server lifecycle.
type Server struct {
	httpServer *http.Server
	logger     logger.Logger
}

func NewServer(addr string, webhook *WebhookHandler, redis, postgres Pinger, log logger.Logger) *Server {
	s := &Server{
		logger: log.WithFields(map[string]interface{}{"component": "api"}),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Post("/webhooks/billing", webhook.Handle)
	r.Get("/healthz", s.healthHandler(redis, postgres))
	r.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server listening", map[string]interface{}{"addr": s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(redis, postgres Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{"redis": "ok", "postgres": "ok"}
		healthy := true

		if err := redis.Ping(ctx); err != nil {
			status["redis"] = err.Error()
			healthy = false
		}
		if err := postgres.Ping(ctx); err != nil {
			status["postgres"] = err.Error()
			healthy = false
		}

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	}
}
