package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/foxrun/chandrive/internal/config"
	"github.com/foxrun/chandrive/internal/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	if err := os.MkdirAll("logs", 0755); err != nil {
		logger.Fatal("Failed to create logs directory", zap.Error(err))
	}
	logLevel := cfg.Log.Level
	if cfg.Server.Debug {
		logLevel = "debug"
	}
	logger.InitLogger(cfg.Log.OutputPath, cfg.Log.ErrorPath, logLevel)
	defer logger.Sync()

	srv, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("Failed to build server", zap.Error(err))
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	srv.Run(stopChan)
	logger.Info("chandrive has exited.")
}
