package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/helenavibes/ML-service/internal/inference"
	"github.com/helenavibes/ML-service/internal/models"
	"github.com/helenavibes/ML-service/internal/tasks"
)

// statusFor maps a domain error to an HTTP status and a client-facing message
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, tasks.ErrTooManyRecords),
		errors.Is(err, models.ErrRefundExceedsCharge):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, models.ErrInsufficientBalance):
		return http.StatusPaymentRequired, err.Error()
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrModelNotFound),
		errors.Is(err, models.ErrTaskNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrConflict),
		errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, models.ErrModelInactive),
		errors.Is(err, models.ErrUserInactive):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, inference.ErrCircuitOpen):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, models.ErrPrediction):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// respondError writes err as a JSON error body
func (h *Handler) respondError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": msg})
}
