package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/helenavibes/ML-service/internal/config"
	"github.com/helenavibes/ML-service/internal/server"
)

func main() {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "config/config.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	// Initialize logger
	logger := initLogger()
	defer logger.Sync()

	// Show version if requested
	if showVersion {
		PrintVersion(logger)
		return
	}

	logger.Info("Starting ML prediction service",
		zap.String("config_path", configPath),
		zap.String("version", Version))

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded successfully",
		zap.String("environment", cfg.Environment),
		zap.String("database_driver", cfg.Database.Driver))

	// Validate environment
	if err := validateEnvironment(cfg, logger); err != nil {
		logger.Fatal("Environment validation failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create and start server
	srv, err := server.NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	logger.Info("Starting ML prediction server",
		zap.Int("http_port", cfg.Server.Port),
		zap.Int("grpc_port", cfg.Server.GRPCPort))

	if err := srv.Run(ctx); err != nil {
		logger.Fatal("Server stopped with error", zap.Error(err))
	}
}
