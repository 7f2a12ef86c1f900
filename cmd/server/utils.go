package main

import (
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/helenavibes/ML-service/internal/config"
)

// Version information
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// initLogger initializes the application logger
func initLogger() *zap.Logger {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	var logger *zap.Logger
	var err error

	if env == "production" {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		logger, err = config.Build()
	} else {
		config := zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		logger, err = config.Build()
	}

	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	return logger
}

// PrintVersion prints version information
func PrintVersion(logger *zap.Logger) {
	logger.Info("ML prediction service",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit),
		zap.String("build_time", BuildTime))
}

// validateEnvironment checks settings that are legal individually but unsafe together
func validateEnvironment(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Validating environment configuration")

	if cfg.Environment == "production" {
		if cfg.Database.Driver == "memory" {
			return fmt.Errorf("memory database driver is not allowed in production")
		}
		if os.Getenv("AUTH_JWT_SECRET") == "" {
			logger.Warn("AUTH_JWT_SECRET not set; using the configured secret")
		}
	}

	if cfg.Tasks.StaleAfter <= cfg.Tasks.PredictTimeout {
		logger.Warn("tasks.stale_after should exceed tasks.predict_timeout",
			zap.Duration("stale_after", cfg.Tasks.StaleAfter),
			zap.Duration("predict_timeout", cfg.Tasks.PredictTimeout))
	}

	logger.Info("Environment validation completed")
	return nil
}
