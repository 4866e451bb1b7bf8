package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/reading-engine/internal/domain/shared"
	"github.com/alem-hub/reading-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// Response is the standard API response envelope.
type Response struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeData(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Success: true, Data: data, RequestID: requestIDFrom(c)})
}

func writeError(c *gin.Context, status int, code, message string, details ...string) {
	c.AbortWithStatusJSON(status, Response{
		Success:   false,
		Error:     &APIError{Code: code, Message: message, Details: details},
		RequestID: requestIDFrom(c),
	})
}

// writeDomainError maps error kinds to HTTP status codes.
func (s *Server) writeDomainError(c *gin.Context, err error) {
	var verr *shared.ValidationError
	switch {
	case errors.As(err, &verr):
		details := make([]string, 0, len(verr.Problems))
		for _, p := range verr.Problems {
			details = append(details, p.Field+": "+p.Message)
		}
		writeError(c, http.StatusBadRequest, "validation_error", verr.Error(), details...)
	case shared.IsValidation(err):
		writeError(c, http.StatusBadRequest, "validation_error", err.Error())
	case shared.IsScope(err):
		writeError(c, http.StatusForbidden, "forbidden", err.Error())
	case shared.IsNotFound(err):
		writeError(c, http.StatusNotFound, "not_found", err.Error())
	case shared.IsAlreadyExists(err):
		writeError(c, http.StatusConflict, "conflict", err.Error())
	case shared.IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		s.logFor(c).Warn("request failed on unavailable dependency", logger.Err(err))
		c.Header("Retry-After", "1")
		writeError(c, http.StatusServiceUnavailable, "unavailable", "temporarily unavailable, retry later")
	default:
		s.logFor(c).Error("request failed", logger.Err(err))
		writeError(c, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func (s *Server) logFor(c *gin.Context) *logger.Logger {
	return logger.FromContext(c.Request.Context())
}
