package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/orrn/printspool/internal/core"
	"github.com/orrn/printspool/internal/label"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// retryAfterSeconds is sent with 503 responses for a full queue.
const retryAfterSeconds = "5"

// abortWithJobError maps job manager and label errors to HTTP responses.
func abortWithJobError(c *gin.Context, err error) {
	var serErr *core.SerializationError
	switch {
	case errors.Is(err, core.ErrCapacityExceeded):
		c.Header("Retry-After", retryAfterSeconds)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{Error: "capacity_exceeded", Message: err.Error()})
	case errors.Is(err, core.ErrShutdown):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{Error: "shutting_down", Message: err.Error()})
	case errors.Is(err, core.ErrUnknownReference):
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, label.ErrUnknownTemplate):
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "unknown_template", Message: err.Error()})
	case errors.Is(err, label.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
	case errors.As(err, &serErr):
		log.Error().Str("component", "api").Err(err).Msg("Corrupt status record")
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "corrupt_status", Message: "Stored job status is unreadable"})
	default:
		log.Error().Str("component", "api").Err(err).Str("path", c.FullPath()).Msg("Request failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Internal server error"})
	}
}
