package httpapi

import (
	"errors"
	"net/http"

	"contact-center/internal/orchestrator"
	"contact-center/internal/reporting"
	"contact-center/internal/routing"
	"contact-center/internal/signaling"
	"contact-center/pkg/logger"

	"github.com/gin-gonic/gin"
)

// envelope is the JSON shape of every API response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func success(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func successMessage(c *gin.Context, data any, msg string) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data, Message: msg})
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, envelope{Success: false, Error: msg})
}

// failErr maps a service error onto a status. Unknown errors are logged and hidden.
func failErr(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		logger.FromGin(c).Error("request failed", "err", err)
		fail(c, status, "internal error")
		return
	}
	fail(c, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrCallNotFound),
		errors.Is(err, signaling.ErrConnectionNotFound),
		errors.Is(err, routing.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, signaling.ErrInvalidState),
		errors.Is(err, routing.ErrAgentUnavailable):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrInvalidArgument),
		errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrCapacityExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
