package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helenavibes/ML-service/internal/accounts"
	"github.com/helenavibes/ML-service/internal/config"
	"github.com/helenavibes/ML-service/internal/models"
	"github.com/helenavibes/ML-service/internal/registry"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// Handler contains all API handlers
type Handler struct {
	config *config.Config
	logger *zap.Logger
	svc    Services
}

// NewHandler creates a new API handler
func NewHandler(cfg *config.Config, logger *zap.Logger, svc Services) *Handler {
	return &Handler{config: cfg, logger: logger, svc: svc}
}

// LoginRequest accepts JSON or form-encoded credentials
type LoginRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

// DepositRequest credits the caller's balance
type DepositRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" binding:"max=255"`
}

// PredictRequest submits records to a model
type PredictRequest struct {
	ModelID uuid.UUID       `json:"model_id" binding:"required"`
	Data    []models.Record `json:"data" binding:"required"`
}

// UpdateModelRequest changes a model's availability or rate
type UpdateModelRequest struct {
	IsActive      *bool            `json:"is_active"`
	CostPerRecord *decimal.Decimal `json:"cost_per_record"`
}

// RefundRequest credits a user, optionally against a completed task
type RefundRequest struct {
	UserID      uuid.UUID       `json:"user_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" binding:"max=255"`
	TaskID      *uuid.UUID      `json:"task_id"`
}

// PredictionResponse is the client view of a task
type PredictionResponse struct {
	TaskID           uuid.UUID           `json:"task_id"`
	Status           models.TaskStatus   `json:"status"`
	ModelID          uuid.UUID           `json:"model_id"`
	ModelName        string              `json:"model_name,omitempty"`
	ValidDataCount   int                 `json:"valid_data_count"`
	InvalidDataCount int                 `json:"invalid_data_count"`
	InvalidData      []models.Record     `json:"invalid_data"`
	Result           []interface{}       `json:"result"`
	Cost             decimal.NullDecimal `json:"cost"`
	ErrorMessage     string              `json:"error_message,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	CompletedAt      *time.Time          `json:"completed_at"`
}

func (h *Handler) predictionResponse(c *gin.Context, task *models.PredictionTask) PredictionResponse {
	resp := PredictionResponse{
		TaskID:           task.ID,
		Status:           task.Status,
		ModelID:          task.ModelID,
		ValidDataCount:   task.ValidCount(),
		InvalidDataCount: task.InvalidCount(),
		InvalidData:      []models.Record(task.InvalidData),
		Cost:             task.TotalCost,
		ErrorMessage:     task.ErrorMessage,
		CreatedAt:        task.CreatedAt,
		CompletedAt:      task.CompletedAt,
	}
	if resp.InvalidData == nil {
		resp.InvalidData = []models.Record{}
	}
	if task.Status == models.TaskStatusCompleted {
		resp.Result = []interface{}(task.Result)
	}
	if model, err := h.svc.Registry.Get(c.Request.Context(), task.ModelID); err == nil {
		resp.ModelName = model.Name
	}
	return resp
}

// Health returns service health status
func (h *Handler) Health(c *gin.Context) {
	database := gin.H{"status": "healthy"}
	status := "healthy"
	code := http.StatusOK

	if err := h.svc.Store.Ping(c.Request.Context()); err != nil {
		database = gin.H{"status": "unhealthy", "error": err.Error()}
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"services":  gin.H{"database": database},
	})
}

// Register creates a new account
func (h *Handler) Register(c *gin.Context) {
	var req accounts.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.svc.Accounts.Register(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// Login issues an access token
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, _, err := h.svc.Accounts.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			c.Header("WWW-Authenticate", "Bearer")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Incorrect username or password"})
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, token)
}

// Me returns the authenticated user
func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

// GetBalance returns the caller's balance
func (h *Handler) GetBalance(c *gin.Context) {
	user := currentUser(c)
	balance, err := h.svc.Ledger.BalanceOf(c.Request.Context(), user.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": user.ID, "balance": balance})
}

// Deposit credits the caller's balance
func (h *Handler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	description := req.Description
	if description == "" {
		description = "Balance deposit"
	}

	user := currentUser(c)
	tx, err := h.svc.Ledger.Deposit(c.Request.Context(), user.ID, req.Amount, description)
	if err != nil {
		h.respondError(c, err)
		return
	}

	balance, err := h.svc.Ledger.BalanceOf(c.Request.Context(), user.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx, "new_balance": balance})
}

// Predict submits a prediction task and waits for its outcome
func (h *Handler) Predict(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := currentUser(c)
	task, err := h.svc.Tasks.Submit(c.Request.Context(), user.ID, req.ModelID, req.Data)
	if err != nil {
		if task == nil {
			h.respondError(c, err)
			return
		}
		// The task reached FAILED; return it with the error.
		status, msg := statusFor(err)
		c.JSON(status, gin.H{"error": msg, "task": h.predictionResponse(c, task)})
		return
	}

	c.JSON(http.StatusOK, h.predictionResponse(c, task))
}

// GetPrediction returns a task visible to the caller
func (h *Handler) GetPrediction(c *gin.Context) {
	taskID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	task, err := h.svc.Tasks.Get(c.Request.Context(), currentUser(c), taskID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.predictionResponse(c, task))
}

// PredictionHistory lists the caller's tasks, newest first
func (h *Handler) PredictionHistory(c *gin.Context) {
	skip, limit, ok := h.page(c)
	if !ok {
		return
	}

	list, err := h.svc.Tasks.List(c.Request.Context(), currentUser(c).ID, skip, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	out := make([]PredictionResponse, 0, len(list))
	for _, task := range list {
		out = append(out, h.predictionResponse(c, task))
	}
	c.JSON(http.StatusOK, gin.H{"predictions": out, "skip": skip, "limit": limit})
}

// TransactionHistory lists the caller's transactions, newest first
func (h *Handler) TransactionHistory(c *gin.Context) {
	skip, limit, ok := h.page(c)
	if !ok {
		return
	}

	list, err := h.svc.Ledger.History(c.Request.Context(), currentUser(c).ID, skip, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": list, "skip": skip, "limit": limit})
}

// ListModels returns active models
func (h *Handler) ListModels(c *gin.Context) {
	list, err := h.svc.Registry.ListActive(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": list})
}

// GetModel returns a model by id
func (h *Handler) GetModel(c *gin.Context) {
	modelID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	model, err := h.svc.Registry.Get(c.Request.Context(), modelID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model)
}

// ListAllModels returns every model including inactive ones
func (h *Handler) ListAllModels(c *gin.Context) {
	list, err := h.svc.Registry.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": list})
}

// CreateModel registers a new model
func (h *Handler) CreateModel(c *gin.Context) {
	var req registry.CreateModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.ModelType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("model_type must be %s or %s", models.ModelTypeClassification, models.ModelTypeRegression)})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	model, err := h.svc.Registry.Create(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, model)
}

// UpdateModel toggles a model or changes its rate
func (h *Handler) UpdateModel(c *gin.Context) {
	modelID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	var req UpdateModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.IsActive == nil && req.CostPerRecord == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "is_active or cost_per_record is required"})
		return
	}

	ctx := c.Request.Context()
	var (
		model *models.Model
		err   error
	)
	if req.CostPerRecord != nil {
		if model, err = h.svc.Registry.UpdateCost(ctx, modelID, *req.CostPerRecord); err != nil {
			h.respondError(c, err)
			return
		}
	}
	if req.IsActive != nil {
		if model, err = h.svc.Registry.SetActive(ctx, modelID, *req.IsActive); err != nil {
			h.respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, model)
}

// Refund credits a user
func (h *Handler) Refund(c *gin.Context) {
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	description := req.Description
	if description == "" {
		description = "Refund"
	}

	tx, err := h.svc.Ledger.Refund(c.Request.Context(), req.UserID, req.Amount, description, req.TaskID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("Refund issued",
		zap.String("admin_id", currentUser(c).ID.String()),
		zap.String("user_id", req.UserID.String()),
		zap.String("amount", req.Amount.String()))
	c.JSON(http.StatusCreated, tx)
}

// ListUsers returns every user
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.svc.Accounts.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// Reconcile compares a user's balance with their transaction log
func (h *Handler) Reconcile(c *gin.Context) {
	userID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	rec, err := h.svc.Ledger.Reconcile(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, models.ErrBalanceDrift) {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":    rec.UserID,
		"balance":    rec.Balance,
		"log_sum":    rec.LogSum,
		"drift":      rec.Drift,
		"consistent": rec.Consistent(),
	})
}

// Events streams the caller's task and transaction events over a websocket
func (h *Handler) Events(c *gin.Context) {
	user := currentUser(c)
	if err := h.svc.Hub.Serve(c.Writer, c.Request, user.ID); err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.String("user_id", user.ID.String()), zap.Error(err))
	}
}

func (h *Handler) uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid %s parameter", name)})
		return uuid.Nil, false
	}
	return id, true
}

// page parses skip and limit; limit defaults to 100 and may not exceed 1000
func (h *Handler) page(c *gin.Context) (int, int, bool) {
	skip, err := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if err != nil || skip < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid skip parameter"})
		return 0, 0, false
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageLimit)))
	if err != nil || limit < 1 || limit > maxPageLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be between 1 and %d", maxPageLimit)})
		return 0, 0, false
	}
	return skip, limit, true
}
