package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/helenavibes/ML-service/internal/api"
	"github.com/helenavibes/ML-service/internal/config"
)

const healthInterval = 10 * time.Second

// Server represents the prediction service
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	components *Components
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
}

// NewServer creates a new prediction server
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	components, err := NewComponents(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Seed.Enabled {
		result, err := components.Seed(ctx, cfg.Seed.File)
		if err != nil {
			components.Close()
			return nil, fmt.Errorf("failed to seed data: %w", err)
		}
		logger.Info("Seed data applied",
			zap.Int("users_created", result.UsersCreated),
			zap.Int("models_created", result.ModelsCreated))
	}

	s := &Server{
		config:     cfg,
		logger:     logger,
		components: components,
	}
	s.setupHTTPServer()
	s.setupGRPCServer()
	return s, nil
}

// setupHTTPServer initializes the HTTP/REST API server
func (s *Server) setupHTTPServer() {
	c := s.components
	router := api.SetupRouter(s.config, s.logger, api.Services{
		Accounts: c.Accounts,
		Ledger:   c.Ledger,
		Tasks:    c.Tasks,
		Registry: c.Registry,
		Hub:      c.Hub,
		Store:    c.Store,
		Metrics:  c.Metrics,
		Gatherer: c.Gatherer,
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:      router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}
}

// setupGRPCServer initializes the gRPC server carrying the health service
func (s *Server) setupGRPCServer() {
	s.health = health.NewServer()
	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Components returns the wired services
func (s *Server) Components() *Components {
	return s.components
}

// Run serves HTTP and gRPC, relays events and runs scheduled jobs until ctx
// is cancelled, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if s.config.Server.GRPCPort > 0 {
		g.Go(func() error {
			addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.GRPCPort)
			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen for gRPC: %w", err)
			}
			s.logger.Info("Starting gRPC server", zap.String("addr", addr))
			if err := s.grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return s.components.Hub.Run(gctx)
	})

	g.Go(func() error {
		s.watchHealth(gctx)
		return nil
	})

	s.components.Scheduler.Start()

	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}

// watchHealth mirrors store health into the gRPC health service
func (s *Server) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		s.CheckHealth(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CheckHealth pings the store and updates the gRPC serving status
func (s *Server) CheckHealth(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.components.Store.Ping(pingCtx); err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("Service health degraded", zap.Error(err))
		}
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return true
}

// shutdown gracefully stops the servers and releases backends
func (s *Server) shutdown() error {
	s.logger.Info("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.health.Shutdown()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	s.grpcServer.GracefulStop()

	if err := s.components.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		s.logger.Info("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}
