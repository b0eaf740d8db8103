package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/foxrun/chandrive/internal/config"
	"github.com/foxrun/chandrive/internal/pkg/logger"
	"github.com/foxrun/chandrive/internal/setup"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Server owns the HTTP listener and the index connection so both can be
// released cleanly on shutdown.
type Server struct {
	httpServer *http.Server
	db         *gorm.DB
}

// idleTimeout is raised above the default so long-running full-file
// streams and range requests aren't cut off mid-flight (spec.md §5).
const idleTimeout = 255 * time.Second

// NewServer builds every dependency and the HTTP server.
func NewServer(cfg *config.Config) (*Server, error) {
	app, err := setup.Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build application: %w", err)
	}

	addr := ":" + cfg.Server.Port
	logger.Info(fmt.Sprintf("Server is running on %s", cfg.Server.Port))

	return &Server{
		db: app.DB,
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     app.Router,
			IdleTimeout: idleTimeout,
		},
	}, nil
}

// Run starts the HTTP server and blocks until stopChan fires, then shuts
// down gracefully.
func (s *Server) Run(stopChan chan os.Signal) {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	<-stopChan
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info("Server exited gracefully")
}
