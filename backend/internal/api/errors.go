package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "circl/backend/pkg/errors"
)

// statusFor maps the error taxonomy onto HTTP statuses
func statusFor(err error) int {
	switch {
	case apperrors.IsValidation(err):
		return http.StatusBadRequest
	case apperrors.IsNotFound(err):
		return http.StatusNotFound
	case apperrors.IsConsistency(err):
		return http.StatusInternalServerError
	case apperrors.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(c *gin.Context, operation string, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error(), "type": string(apperrors.TypeOf(err))}
	if status == http.StatusServiceUnavailable {
		body["retryable"] = true
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("operation", operation),
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err),
		)
		if status == http.StatusInternalServerError && !apperrors.IsConsistency(err) {
			body = gin.H{"error": "internal error", "type": string(apperrors.TypeOf(err))}
		}
	}
	c.JSON(status, body)
}
