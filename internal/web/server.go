package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coinsentry/internal/config"
	"coinsentry/internal/engine"
	"coinsentry/internal/logger"
	"coinsentry/internal/storage"
)

type Server struct {
	httpServer *http.Server
	engine     *engine.Engine
	repo       *storage.Repository
	config     *config.Config
	logger     *logger.Logger
}

func NewServer(eng *engine.Engine, repo *storage.Repository, cfg *config.Config, log *logger.Logger) *Server {
	s := &Server{
		engine: eng,
		repo:   repo,
		config: cfg,
		logger: log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /positions", s.handlePositions)
	mux.HandleFunc("POST /trigger", s.handleTrigger)
	mux.HandleFunc("POST /close", s.handleClose)
	mux.HandleFunc("POST /breaker/reset", s.handleBreakerReset)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("web server starting", "port", s.config.Web.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
