package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/helenavibes/ML-service/internal/accounts"
	"github.com/helenavibes/ML-service/internal/config"
	"github.com/helenavibes/ML-service/internal/events"
	"github.com/helenavibes/ML-service/internal/ledger"
	"github.com/helenavibes/ML-service/internal/metrics"
	"github.com/helenavibes/ML-service/internal/models"
	"github.com/helenavibes/ML-service/internal/registry"
	"github.com/helenavibes/ML-service/internal/repository"
	"github.com/helenavibes/ML-service/internal/tasks"
)

const (
	requestIDKey = "request_id"
	userKey      = "user"
)

// Services are the components the HTTP API exposes
type Services struct {
	Accounts *accounts.Service
	Ledger   *ledger.Ledger
	Tasks    *tasks.Service
	Registry *registry.Registry
	Hub      *events.Hub
	Store    repository.Store
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
}

// SetupRouter sets up the API routes
func SetupRouter(cfg *config.Config, logger *zap.Logger, svc Services) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	if cfg.Server.EnableCORS {
		router.Use(CORSMiddleware())
	}
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(logger))
	router.Use(MetricsMiddleware(svc.Metrics))

	handler := NewHandler(cfg, logger, svc)

	router.GET("/health", handler.Health)
	if svc.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(svc.Gatherer, promhttp.HandlerOpts{})))
	}

	auth := AuthMiddleware(svc.Accounts, logger)

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", handler.Register)
			authGroup.POST("/login", handler.Login)
			authGroup.GET("/me", auth, handler.Me)
		}

		balance := v1.Group("/balance", auth)
		{
			balance.GET("", handler.GetBalance)
			balance.POST("/deposit", handler.Deposit)
		}

		predict := v1.Group("/predict", auth)
		{
			predict.POST("", handler.Predict)
			predict.GET("/:id", handler.GetPrediction)
		}

		history := v1.Group("/history", auth)
		{
			history.GET("/predictions", handler.PredictionHistory)
			history.GET("/transactions", handler.TransactionHistory)
		}

		modelRoutes := v1.Group("/models", auth)
		{
			modelRoutes.GET("", handler.ListModels)
			modelRoutes.GET("/:id", handler.GetModel)
		}

		admin := v1.Group("/admin", auth, RequireAdmin())
		{
			admin.GET("/models", handler.ListAllModels)
			admin.POST("/models", handler.CreateModel)
			admin.PATCH("/models/:id", handler.UpdateModel)
			admin.POST("/refunds", handler.Refund)
			admin.GET("/users", handler.ListUsers)
			admin.GET("/users/:id/reconcile", handler.Reconcile)
		}

		v1.GET("/ws", auth, handler.Events)
	}

	return router
}

// CORSMiddleware handles CORS headers
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PATCH")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set(requestIDKey, requestID)
		c.Next()
	}
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.String("ip", c.ClientIP()),
		}
		if user, ok := c.Get(userKey); ok {
			fields = append(fields, zap.String("user_id", user.(*models.User).ID.String()))
		}
		logger.Info("HTTP Request", fields...)
	}
}

// MetricsMiddleware records request counts and latency by route
func MetricsMiddleware(collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		collector.RecordHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// AuthMiddleware resolves the bearer token to an active user. Websocket
// clients may pass the token as the "token" query parameter.
func AuthMiddleware(acc *accounts.Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}

		user, err := acc.Authenticate(c.Request.Context(), token)
		if err != nil {
			status, msg := statusFor(err)
			if status == http.StatusUnauthorized {
				c.Header("WWW-Authenticate", "Bearer")
				msg = "Could not validate credentials"
			}
			if status >= http.StatusInternalServerError {
				logger.Error("Failed to authenticate request", zap.Error(err))
			}
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

// RequireAdmin rejects users without the ADMIN role
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !currentUser(c).IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin privileges required"})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func currentUser(c *gin.Context) *models.User {
	return c.MustGet(userKey).(*models.User)
}
